package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crypto-morph/newsfinder/internal/app"
)

const timeLayout = "2006-01-02 15:04"

func newAlertsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show the most recent alert events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				events, err := a.Alerts.List(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("list alerts: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(out, "No alerts recorded")
					return nil
				}
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					rows = append(rows, []string{
						e.TriggeredAt.Local().Format(timeLayout),
						fmt.Sprintf("%d/%d", e.RelevanceScore, e.ImpactScore),
						e.Source,
						e.Title,
						e.URL,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Triggered", "Scores", "Source", "Title", "URL"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of events to show")
	return cmd
}

func newVerdictsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var flaggedOnly bool
	cmd := &cobra.Command{
		Use:   "verdicts",
		Short: "Show recent verification verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				verdicts, err := a.Verdicts.ListRecentVerdicts(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("list verdicts: %w", err)
				}
				rows := make([][]string, 0, len(verdicts))
				for _, v := range verdicts {
					if flaggedOnly && !v.Flagged {
						continue
					}
					corrected := "-"
					if v.CorrectedScores != nil {
						corrected = fmt.Sprintf("%d/%d", v.CorrectedScores.Relevance, v.CorrectedScores.Impact)
					}
					rows = append(rows, []string{
						v.CreatedAt.Local().Format(timeLayout),
						v.Fingerprint.Short(),
						v.VerifierIdentity,
						yesNo(v.Agrees),
						fmt.Sprintf("%d/%d", v.OriginalScores.Relevance, v.OriginalScores.Impact),
						corrected,
						strconv.Itoa(v.Discrepancy),
						yesNo(v.Flagged),
					})
				}
				out := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(out, "No verdicts recorded")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Created", "Fingerprint", "Verifier", "Agrees", "Original", "Corrected", "Gap", "Flagged"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of verdicts to show")
	cmd.Flags().BoolVar(&flaggedOnly, "flagged", false, "Only show flagged verdicts")
	return cmd
}

func newArchiveCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Show articles mirrored to the search archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				if a.Archive == nil {
					return errors.New("search archive is not configured or unreachable")
				}
				records, err := a.Archive.List(cmd.Context(), limit)
				if err != nil {
					return fmt.Errorf("list archive: %w", err)
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						r.StoredAt.Local().Format(timeLayout),
						r.Fingerprint().Short(),
						fmt.Sprintf("%d/%d", r.Article.Scores.Relevance, r.Article.Scores.Impact),
						r.Article.Candidate.Title,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Stored", "Fingerprint", "Scores", "Title"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of records to show")
	return cmd
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Minute).String()
}
