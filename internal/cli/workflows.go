package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazerflow/lazerflow/internal/engine"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

func newRunCommand(app *App) *cobra.Command {
	var paramsJSON string
	var paramKVs []string

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Start a registered workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := flow.Params{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}
			for _, kv := range paramKVs {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid --param %q, expected key=value", kv)
				}
				params[key] = value
			}

			var out struct {
				ID string `json:"id"`
			}
			err := newClient(app).do(http.MethodPost, "/workflows", map[string]any{
				"name":   args[0],
				"params": params,
			}, &out)
			if err != nil {
				return err
			}
			fmt.Println(out.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", "start parameters as a JSON object")
	cmd.Flags().StringArrayVar(&paramKVs, "param", nil, "start parameter as key=value (repeatable)")
	return cmd
}

func newListCommand(app *App) *cobra.Command {
	var status, filter, jqExpr string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"list-workflows"},
		Short:   "List workflow instances",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if filter != "" {
				q.Set("filter", filter)
			}
			if limit > 0 {
				q.Set("limit", fmt.Sprint(limit))
			}
			path := "/workflows"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var out struct {
				Total     int               `json:"total"`
				Workflows []engine.Snapshot `json:"workflows"`
			}
			if err := newClient(app).do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}

			if asJSON || jqExpr != "" {
				return printJSON(out, jqExpr)
			}

			if out.Total == 0 {
				fmt.Println("no workflows")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-10s  %s\n", "ID", "NAME", "STATUS", "UPDATED")
			for _, snap := range out.Workflows {
				fmt.Printf("%-36s  %-20s  %-10s  %s\n",
					snap.ID, snap.Name, styledStatus(string(snap.Status)),
					snap.UpdatedAt.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filter, "filter", "", "expression filter, e.g. 'status == \"failed\"'")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the JSON response")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newGetCommand(app *App) *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:     "get <id>",
		Aliases: []string{"get-workflow"},
		Short:   "Show one workflow instance",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap engine.Snapshot
			if err := newClient(app).do(http.MethodGet, "/workflows/"+args[0], nil, &snap); err != nil {
				return err
			}
			return printJSON(snap, jqExpr)
		},
	}
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the JSON response")
	return cmd
}

func newStopCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "stop <id>",
		Aliases: []string{"stop-workflow"},
		Short:   "Request a workflow to stop",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(app).do(http.MethodPost, "/workflows/"+args[0]+"/stop", nil, nil); err != nil {
				return err
			}
			fmt.Println("stop requested:", args[0])
			return nil
		},
	}
}

func newStopAllCommand(app *App) *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Request every active workflow to stop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report engine.StopReport
			if err := newClient(app).do(http.MethodPost, "/workflows/stop-all", nil, &report); err != nil {
				return err
			}
			if jqExpr != "" {
				return printJSON(report, jqExpr)
			}
			fmt.Printf("requested %d, stopped %d, failed %d\n",
				report.Requested, len(report.Stopped), len(report.Failures))
			for _, f := range report.Failures {
				fmt.Printf("  %s: %s\n", f.ID, f.Error)
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d workflows failed to stop", len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the JSON response")
	return cmd
}

func newEventsCommand(app *App) *cobra.Command {
	var jqExpr string
	var since int

	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Show the archived event log of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/workflows/%s/events?since=%d", args[0], since)
			var out map[string]any
			if err := newClient(app).do(http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(out, jqExpr)
		},
	}
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the JSON response")
	cmd.Flags().IntVar(&since, "since", 0, "only events after this sequence number")
	return cmd
}

func newHealthCommand(app *App) *cobra.Command {
	var jqExpr string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show engine health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := newClient(app).do(http.MethodGet, "/health", nil, &out); err != nil {
				return err
			}
			return printJSON(out, jqExpr)
		},
	}
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the JSON response")
	return cmd
}

func newCleanupCommand(app *App) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove terminal workflows older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Purged int `json:"purged"`
			}
			body := map[string]any{"before": time.Now().Add(-olderThan)}
			if err := newClient(app).do(http.MethodPost, "/workflows/cleanup", body, &out); err != nil {
				return err
			}
			fmt.Printf("purged %d workflows\n", out.Purged)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "purge workflows terminal for at least this long")
	return cmd
}
