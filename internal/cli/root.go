package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// App carries shared command state.
type App struct {
	Addr string
}

// newRootCommand builds the full command tree.
func newRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "lazerflow",
		Short:         "Workflow engine server and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&app.Addr, "addr", "", "server address (default from config / LAZERFLOW_ADDR)")

	root.AddCommand(
		newServeCommand(),
		newRunCommand(app),
		newListCommand(app),
		newGetCommand(app),
		newStopCommand(app),
		newStopAllCommand(app),
		newEventsCommand(app),
		newHealthCommand(app),
		newCleanupCommand(app),
		newScheduleCommand(app),
		newMonitorCommand(app),
	)
	return root
}

// Execute builds the command tree and runs it. Errors are printed to stderr
// and reported through the returned error (main maps it to exit code 1).
func Execute() error {
	root := newRootCommand(&App{})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
