// Package cli implements the docsctl operator commands on top of the same
// pipeline the API server runs.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/docs-agent/backend/internal/app"
)

// Loader assembles the pipeline. It is called once per command run.
type Loader func(ctx context.Context) (*app.App, error)

// NewRootCommand builds the docsctl command tree writing to out.
func NewRootCommand(load Loader, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "docsctl",
		Short:         "Operate the documentation Q&A pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		newIndexCommand(load),
		newAskCommand(load),
		newHistoryCommand(load),
		newCompeteCommand(load),
	)

	return root
}

// withApp runs fn against a freshly loaded pipeline and closes it after.
func withApp(cmd *cobra.Command, load Loader, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := load(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
