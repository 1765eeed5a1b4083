package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"autotrac/sync-client/internal/models"
	"autotrac/sync-client/internal/service"

	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "start <project-id>",
		Short: "Start a timer on a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			a.checkOnline(cmd.Context())

			var notePtr *string
			if note != "" {
				notePtr = &note
			}
			entry, err := a.svc.StartTimer(cmd.Context(), projectID, notePtr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started timer %s on project %d at %s%s\n",
				entry.ID, entry.ProjectID, entry.StartTime.Local().Format("15:04:05"), pendingSuffix(entry.Pending))
			printNotice(cmd.OutOrStdout(), entry.Notice)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Optional note")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <entry-id>",
		Short: "Stop a running timer (use local:<id> for entries not yet synced)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			id, err := models.ParseRecordID(args[0])
			if err != nil {
				return err
			}
			a.checkOnline(cmd.Context())

			entry, err := a.svc.StopTimer(cmd.Context(), id)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Stopped timer %s", entry.ID)
			if !entry.StartTime.IsZero() && entry.EndTime != nil {
				msg += " after " + formatDuration(entry.EndTime.Sub(entry.StartTime))
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg+pendingSuffix(entry.Pending))
			printNotice(cmd.OutOrStdout(), entry.Notice)
			return nil
		},
	}
}

func newIncomeCmd() *cobra.Command {
	var in service.IncomeInput
	var date string
	cmd := &cobra.Command{
		Use:   "income <project-id> <amount>",
		Short: "Record an income",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			projectID, err := parseID(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			in.ProjectID, in.Amount = projectID, amount
			in.Date = time.Now()
			if date != "" {
				if in.Date, err = time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("invalid date %q: use YYYY-MM-DD", date)
				}
			}
			a.checkOnline(cmd.Context())

			income, err := a.svc.CreateIncome(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded income %s: %s %s on %s%s\n",
				income.ID, formatAmount(income.Amount), currencyOr(income.CurrencyCode(), a.rates.ReportingCurrency()),
				income.Date.Format(time.DateOnly), pendingSuffix(income.Pending))
			printNotice(cmd.OutOrStdout(), income.Notice)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Currency, "currency", "", "ISO currency code (default: reporting currency)")
	cmd.Flags().StringVar(&date, "date", "", "Date received, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&in.Source, "source", "", "Who paid")
	cmd.Flags().StringVar(&in.Note, "note", "", "Optional note")
	return cmd
}

func newEntriesCmd() *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List time entries, including ones waiting to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			a.checkOnline(cmd.Context())

			list, err := a.svc.TimeEntries(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list.Stale {
				fmt.Fprintln(out, "Offline: showing entries queued on this device only.")
			}
			w := newTable(out)
			fmt.Fprintln(w, "ID\tPROJECT\tSTART\tEND\tDURATION\tNOTE")
			now := time.Now()
			for _, e := range list.Entries {
				end := "running"
				if e.EndTime != nil {
					end = e.EndTime.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s%s\t%d\t%s\t%s\t%s\t%s\n",
					e.ID, pendingMark(e.Pending), e.ProjectID,
					e.StartTime.Local().Format("2006-01-02 15:04"), end,
					formatDuration(e.Duration(now)), deref(e.Note))
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "Only this project")
	return cmd
}

func newIncomesCmd() *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "incomes",
		Short: "List incomes, including ones waiting to sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			a.checkOnline(cmd.Context())

			list, err := a.svc.Incomes(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if list.Stale {
				fmt.Fprintln(out, "Offline: showing incomes queued on this device only.")
			}
			codes := make([]string, 0, len(list.Incomes))
			for _, inc := range list.Incomes {
				codes = append(codes, inc.CurrencyCode())
			}
			a.rates.Prefetch(cmd.Context(), codes...)

			reporting := a.rates.ReportingCurrency()
			w := newTable(out)
			fmt.Fprintf(w, "ID\tPROJECT\tDATE\tAMOUNT\tCURRENCY\tIN %s\tSOURCE\n", reporting)
			for _, inc := range list.Incomes {
				conv := a.rates.ConvertCached(inc.Amount, inc.CurrencyCode())
				fmt.Fprintf(w, "%s%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
					inc.ID, pendingMark(inc.Pending), inc.ProjectID,
					inc.Date.Format(time.DateOnly), formatAmount(inc.Amount),
					currencyOr(inc.CurrencyCode(), reporting), conv, deref(inc.Source))
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "Only this project")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
