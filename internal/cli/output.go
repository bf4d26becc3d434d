package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/itchyny/gojq"
)

var statusStyles = map[string]lipgloss.Style{
	"pending":   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	"running":   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	"waiting":   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	"completed": lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	"failed":    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	"cancelled": lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	"timed_out": lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
}

// styledStatus returns the status colored for terminal output.
func styledStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

// printJSON writes v as indented JSON to stdout, optionally passed through
// a jq expression first.
func printJSON(v any, jqExpr string) error {
	if jqExpr == "" {
		return encodeIndented(v)
	}

	query, err := gojq.Parse(jqExpr)
	if err != nil {
		return fmt.Errorf("jq parse error in %q: %w", jqExpr, err)
	}
	code, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return fmt.Errorf("jq compile error in %q: %w", jqExpr, err)
	}

	// Round-trip to plain JSON types; gojq only accepts those.
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var input any
	if err := json.Unmarshal(raw, &input); err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if jqErr, isErr := val.(error); isErr {
			return fmt.Errorf("jq evaluation failed: %w", jqErr)
		}
		if err := encodeIndented(val); err != nil {
			return err
		}
	}
	return nil
}

func encodeIndented(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
