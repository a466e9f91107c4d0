package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docs-agent/backend/internal/app"
	"github.com/docs-agent/backend/internal/llm"
)

func newIndexCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Index the source document unless already indexed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				report, err := a.Indexer.Run(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if report.AlreadyIndexed {
					fmt.Fprintln(out, "Already indexed")
					return nil
				}
				fmt.Fprintf(out, "Indexed %d of %d sections (%d skipped) in %s\n",
					report.Indexed, report.Sections, report.Skipped, report.Duration.Round(time.Millisecond))
				fmt.Fprintf(out, "Document: %s\n", report.DocumentKey)
				if report.PublicURL != "" {
					fmt.Fprintf(out, "Public URL: %s\n", report.PublicURL)
				}
				return nil
			})
		},
	}
}

func newAskCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer a question, streaming the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				answer, err := a.Engine.Answer(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				defer answer.Stream.Close()

				out := cmd.OutOrStdout()
				if err := copyStream(out, answer.Stream); err != nil {
					return err
				}
				_, err = fmt.Fprintln(out)
				return err
			})
		},
	}
}

func copyStream(w io.Writer, stream llm.TextStream) error {
	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
	}
}

func newHistoryCommand(load Loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List tracked queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				entries, err := a.History.List(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(entries)
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tRESULTS\tTOP RESULT\tQUERY")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
						e.Timestamp.Format(time.RFC3339), e.ResultCount, e.TopResultTitle, e.Query)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")

	return cmd
}

func newCompeteCommand(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "compete <prompt>",
		Short: "Run the story competition and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app.App) error {
				result, err := a.Orchestrator.Run(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), result.Report)
				return err
			})
		},
	}
}
