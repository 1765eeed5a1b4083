package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"autotrac/sync-client/internal/service"
	"autotrac/sync-client/internal/summary"

	"github.com/spf13/cobra"
)

func newRateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <currency>",
		Short: "Show the exchange rate into the reporting currency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			a.checkOnline(cmd.Context())
			rate, err := a.rates.GetRate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "1 %s = %s %s\n", currencyOr(args[0], a.rates.ReportingCurrency()),
				strconv.FormatFloat(rate, 'f', -1, 64), a.rates.ReportingCurrency())
			return nil
		},
	}
}

func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <amount> <currency>",
		Short: "Convert an amount into the reporting currency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			amount, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			a.checkOnline(cmd.Context())

			conv := a.rates.Convert(cmd.Context(), amount, args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", conv, conv.Currency)
			if !conv.Known {
				fmt.Fprintf(cmd.ErrOrStderr(), "conversion unavailable: %v\n", conv.Reason)
			}
			return nil
		},
	}
}

func newSummaryCmd() *cobra.Command {
	var (
		projectID int64
		weekly    bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Income per day or week in the reporting currency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			a.checkOnline(cmd.Context())
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var (
				report service.IncomeReport
				err    error
			)
			if weekly {
				report, err = a.svc.WeeklyIncome(ctx, projectID)
			} else {
				report, err = a.svc.DailyIncome(ctx, projectID)
			}
			if err != nil {
				return err
			}
			if report.Stale {
				fmt.Fprintln(out, "Offline: totals include only incomes queued on this device.")
			}

			label := "DAY"
			if weekly {
				label = "WEEK OF"
			}
			w := newTable(out)
			fmt.Fprintf(w, "%s\tTOTAL (%s)\tUNCONVERTED\n", label, report.Currency)
			for _, b := range report.Buckets {
				fmt.Fprintf(w, "%s\t%s\t%s\n", b.Start.Format(time.DateOnly), b.Display(), joinCodes(b.Unresolved))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if projectID > 0 {
				p, err := a.svc.ProjectSummary(ctx, projectID)
				if err != nil {
					return err
				}
				printProjectSummary(cmd, p)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "Only this project (also prints its totals)")
	cmd.Flags().BoolVar(&weekly, "weekly", false, "Group by ISO week instead of day")
	return cmd
}

func printProjectSummary(cmd *cobra.Command, p service.ProjectReport) {
	out := cmd.OutOrStdout()
	s := p.Summary
	fmt.Fprintf(out, "\nProject %d\n", s.ProjectID)
	fmt.Fprintf(out, "  Time tracked:   %s\n", formatDuration(time.Duration(s.TotalMinutes*float64(time.Minute))))
	fmt.Fprintf(out, "  Income:         %s %s\n", summary.FormatMoney(s.TotalIncome), p.Currency)
	if len(s.Unresolved) > 0 {
		fmt.Fprintf(out, "  Not converted:  %s\n", joinCodes(s.Unresolved))
	}
	rate := "n/a"
	if s.EffectiveHourlyRate != nil {
		rate = summary.FormatMoney(*s.EffectiveHourlyRate) + " " + p.Currency + "/h"
	}
	fmt.Fprintf(out, "  Effective rate: %s\n", rate)
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Download a project's incomes as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			csv, err := a.api.ExportIncomesCSV(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(csv)
				return err
			}
			if err := os.WriteFile(output, csv, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}
