package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"autotrac/sync-client/internal/queue"

	"github.com/spf13/cobra"
)

func newPendingCmd() *cobra.Command {
	var failed bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show changes waiting to be synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			entries := a.queue.Entries()
			if failed {
				entries = a.queue.ListFailed()
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				if failed {
					fmt.Fprintln(out, "No failed changes.")
				} else {
					fmt.Fprintln(out, "Nothing pending.")
				}
				return nil
			}
			printEntries(cmd, entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&failed, "failed", false, "Show changes that were given up on instead")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []queue.Entry) {
	w := newTable(cmd.OutOrStdout())
	fmt.Fprintln(w, "QUEUED\tKIND\tATTEMPTS\tPAYLOAD\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			e.Mutation.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Mutation.Kind, e.Attempts, string(e.Mutation.Payload), e.LastError)
	}
	_ = w.Flush()
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			result, err := a.svc.Sync(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), result.Message())
			for _, f := range result.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %v\n", f.Kind, f.MutationID, f.Err)
			}
			return err
		},
	}
}

func newClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued change without syncing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			n := a.queue.PendingCount() + len(a.queue.ListFailed())
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to clear.")
				return nil
			}
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "Discard %d unsynced change(s)? [y/N] ", n)
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if ans := strings.ToLower(strings.TrimSpace(answer)); ans != "y" && ans != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}
			if err := a.queue.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d change(s).\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			records, err := a.history.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sync history yet.")
				return nil
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "WHEN\tMODE\tOUTCOME\tMESSAGE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Mode, r.Outcome, r.Message)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of passes to show")
	return cmd
}
