package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crypto-morph/newsfinder/internal/app"
	"github.com/crypto-morph/newsfinder/internal/domain"
)

func newReappraiseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reappraise <fingerprint|url>",
		Short: "Score a stored article again and record what changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				fp, err := resolveFingerprint(a, args[0])
				if err != nil {
					return err
				}
				result, err := a.Reappraiser.Reappraise(cmd.Context(), fp)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				rec := result.Record
				fmt.Fprintf(out, "%s\nReappraised %d time(s), first seen %s ago\n",
					rec.Article.Candidate.Title, rec.ReappraisedCount, formatAge(rec.FirstSeenAt))
				if len(result.Entry.Changes) == 0 {
					fmt.Fprintln(out, "No tracked fields changed")
				} else {
					fmt.Fprintln(out, changesTable(result.Entry.Changes))
				}
				if v := result.Verdict; v != nil {
					fmt.Fprintf(out, "Verified by %s: agrees=%s flagged=%s\n", v.VerifierIdentity, yesNo(v.Agrees), yesNo(v.Flagged))
				}
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <fingerprint|url>",
		Short: "Show the re-appraisal history of a stored article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), func(a *app.Application) error {
				fp, err := resolveFingerprint(a, args[0])
				if err != nil {
					return err
				}
				entries, err := a.History.History(cmd.Context(), fp)
				if err != nil {
					return fmt.Errorf("load history: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No history recorded")
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%s %s\n", e.RecordedAt.Local().Format(timeLayout), e.ChangeType)
					fmt.Fprintln(out, changesTable(e.Changes))
				}
				return nil
			})
		},
	}
}

// resolveFingerprint accepts either a fingerprint or an article URL.
func resolveFingerprint(a *app.Application, arg string) (domain.Fingerprint, error) {
	arg = strings.TrimSpace(arg)
	if !strings.Contains(arg, "://") {
		return domain.Fingerprint(arg), nil
	}
	fp, err := a.Normalizer.Fingerprint(arg)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", arg, err)
	}
	return fp, nil
}

func changesTable(changes map[string]domain.FieldChange) string {
	fields := make([]string, 0, len(changes))
	for field := range changes {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	rows := make([][]string, 0, len(fields))
	for _, field := range fields {
		c := changes[field]
		rows = append(rows, []string{field, fmt.Sprint(c.From), fmt.Sprint(c.To)})
	}
	return renderTable([]string{"Field", "Before", "After"}, rows, nil)
}

func newFingerprintCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <url>...",
		Short: "Print the normalized form and fingerprint of URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			normalizer := app.NewNormalizer(cfg.Fingerprint)
			rows := make([][]string, 0, len(args))
			for _, raw := range args {
				normalized, err := normalizer.Normalize(raw)
				if err != nil {
					rows = append(rows, []string{raw, "invalid: " + err.Error(), ""})
					continue
				}
				fp, err := normalizer.Fingerprint(raw)
				if err != nil {
					return err
				}
				rows = append(rows, []string{raw, normalized, fp.String()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"URL", "Normalized", "Fingerprint"}, rows, nil))
			return nil
		},
	}
}
