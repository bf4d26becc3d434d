package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazerflow/lazerflow/internal/scheduler"
	"github.com/lazerflow/lazerflow/pkg/flow"
)

func newScheduleCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring workflow schedules",
	}
	cmd.AddCommand(
		newScheduleListCommand(app),
		newScheduleAddCommand(app),
		newScheduleEnableCommand(app, true),
		newScheduleEnableCommand(app, false),
		newScheduleTriggerCommand(app),
		newScheduleRemoveCommand(app),
	)
	return cmd
}

func newScheduleListCommand(app *App) *cobra.Command {
	var jqExpr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Schedules []scheduler.Job `json:"schedules"`
			}
			if err := newClient(app).do(http.MethodGet, "/schedules", nil, &out); err != nil {
				return err
			}
			if asJSON || jqExpr != "" {
				return printJSON(out, jqExpr)
			}
			if len(out.Schedules) == 0 {
				fmt.Println("no schedules")
				return nil
			}
			fmt.Printf("%-36s  %-20s  %-14s  %-8s  %s\n", "ID", "WORKFLOW", "SPEC", "ENABLED", "NEXT RUN")
			for _, job := range out.Schedules {
				next := "-"
				if job.NextRunAt != nil {
					next = job.NextRunAt.Local().Format(time.RFC3339)
				}
				fmt.Printf("%-36s  %-20s  %-14s  %-8t  %s\n",
					job.ID, job.Workflow, job.Spec, job.Enabled, next)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq expression applied to the JSON response")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func newScheduleAddCommand(app *App) *cobra.Command {
	var paramsJSON string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "add <workflow> <cron-spec>",
		Short: "Add a recurring schedule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := flow.Params{}
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}
			var job scheduler.Job
			err := newClient(app).do(http.MethodPost, "/schedules", map[string]any{
				"workflow": args[0],
				"spec":     args[1],
				"params":   params,
				"enabled":  !disabled,
			}, &job)
			if err != nil {
				return err
			}
			fmt.Println(job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "", "start parameters as a JSON object")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the schedule disabled")
	return cmd
}

func newScheduleEnableCommand(app *App, enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a schedule"
	if !enable {
		use, short = "disable <id>", "Disable a schedule"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"enabled": enable}
			if err := newClient(app).do(http.MethodPatch, "/schedules/"+args[0], body, nil); err != nil {
				return err
			}
			return nil
		},
	}
}

func newScheduleTriggerCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <id>",
		Short: "Run a schedule's workflow now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(app).do(http.MethodPost, "/schedules/"+args[0]+"/trigger", nil, nil)
		},
	}
}

func newScheduleRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(app).do(http.MethodDelete, "/schedules/"+args[0], nil, nil)
		},
	}
}
