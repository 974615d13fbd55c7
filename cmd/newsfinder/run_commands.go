package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crypto-morph/newsfinder/internal/app"
	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/usecase"
)

const progressInterval = time.Second

func newRunCommand(ctx *commandContext) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, score and store articles once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				summary, err := runWithProgress(cmd.Context(), a, cmd.ErrOrStderr())
				out := cmd.OutOrStdout()
				printSummary(out, summary)
				if verbose {
					printOutcomes(out, summary.Outcomes)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every article outcome")
	return cmd
}

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List candidate articles and keyword hits without scoring them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				summary, err := a.RunOnce(cmd.Context(), true)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if summary.Discovered == 0 {
					fmt.Fprintln(out, "No candidates discovered")
					return nil
				}
				items, err := a.Discoveries.ListDiscoveries(cmd.Context(), summary.Discovered)
				if err != nil {
					return fmt.Errorf("list discoveries: %w", err)
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						item.Fingerprint.Short(),
						item.Candidate.SourceName,
						item.Candidate.Title,
						strings.Join(item.KeywordHits, ", "),
						yesNo(item.Known),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Fingerprint", "Source", "Title", "Keywords", "Known"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run on the configured interval and expose metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newReembedCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Attach vectors to articles stored while the embedder was down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				summary, err := a.Reembedder.Run(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, embedded %d, failed %d\n", summary.Scanned, summary.Embedded, summary.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to process")
	return cmd
}

// runWithProgress starts a run and reports its counters every progressInterval until it ends.
func runWithProgress(ctx context.Context, a *app.Application, progress io.Writer) (usecase.Summary, error) {
	runID, err := a.Runner.StartRun(ctx, usecase.RunConfig{})
	if err != nil {
		return usecase.Summary{}, err
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				status, err := a.Runner.Progress(runID)
				if err != nil {
					return
				}
				p := status.Progress
				fmt.Fprintf(progress, "\r%d/%d processed, %d filtered, %d duplicate, %d analyzed, %d stored, %d alerted, %d failed",
					p.Processed, p.Total, p.Filtered, p.Duplicates, p.Analyzed, p.Stored, p.Alerted, p.Failed)
			}
		}
	}()

	summary, err := a.Runner.Wait(context.WithoutCancel(ctx), runID)
	close(done)
	fmt.Fprintln(progress)
	return summary, err
}

func printSummary(out io.Writer, s usecase.Summary) {
	rows := [][]string{
		{"Candidates", strconv.Itoa(s.Total)},
		{"Filtered", strconv.Itoa(s.Filtered)},
		{"Duplicates", strconv.Itoa(s.Duplicates)},
		{"Analyzed", strconv.Itoa(s.Analyzed)},
		{"Verified", strconv.Itoa(s.Verified)},
		{"Flagged", strconv.Itoa(s.Flagged)},
		{"Stored", strconv.Itoa(s.Stored)},
		{"Stored without vector", strconv.Itoa(s.StoredWithoutVector)},
		{"Alerted", strconv.Itoa(s.Alerted)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Released", strconv.Itoa(s.Released)},
		{"Cancelled", strconv.Itoa(s.Cancelled)},
	}
	if s.RunID != "" {
		fmt.Fprintf(out, "Run %s (%s)\n", s.RunID, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(out, renderTable([]string{"Outcome", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func printOutcomes(out io.Writer, outcomes []domain.Outcome) {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		scores := ""
		if o.Scores != nil {
			scores = fmt.Sprintf("%d/%d", o.Scores.Relevance, o.Scores.Impact)
		}
		detail := string(o.RejectReason)
		if o.FailedStage != "" {
			detail = string(o.FailedStage) + ": " + o.Reason
		}
		rows = append(rows, []string{o.Fingerprint.Short(), string(o.State), scores, o.Title, detail})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Fingerprint", "State", "Scores", "Title", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
}
