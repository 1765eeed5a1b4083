package main

import (
	"errors"
	"fmt"
	"strings"

	"autotrac/sync-client/internal/models"

	"github.com/spf13/cobra"
)

// deletes are not queued; removing a record that may still be referenced by
// queued mutations would make those mutations fail forever
var errNeedsConnection = errors.New("the AutoTrac API is unreachable; deletes need a connection")

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			projects, err := a.api.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tCLIENT\tHOURLY RATE")
			for _, p := range projects {
				rate := "-"
				if p.HourlyRate != nil {
					rate = formatAmount(*p.HourlyRate)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Name, deref(p.Client), rate)
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(newProjectAddCmd(), newProjectRmCmd())
	return cmd
}

func newProjectAddCmd() *cobra.Command {
	var (
		clientName, notes string
		rate              float64
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a project (returns the existing one if the name is taken)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			req := models.CreateProjectRequest{Name: strings.TrimSpace(args[0])}
			if req.Name == "" {
				return errors.New("project name is required")
			}
			if clientName != "" {
				req.Client = &clientName
			}
			if notes != "" {
				req.Notes = &notes
			}
			if cmd.Flags().Changed("rate") {
				if rate < 0 {
					return fmt.Errorf("invalid hourly rate %v", rate)
				}
				req.HourlyRate = &rate
			}

			project, err := a.api.CreateProject(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Project %d: %s\n", project.ID, project.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientName, "client", "", "Client name")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Hourly rate")
	cmd.Flags().StringVar(&notes, "notes", "", "Notes")
	return cmd
}

func newProjectRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !a.checkOnline(cmd.Context()) {
				return errNeedsConnection
			}
			if err := a.api.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %d\n", id)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "delete <entry|income> <id>",
		Short:     "Delete a synced time entry or income",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"entry", "income"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			rid, err := models.ParseRecordID(args[1])
			if err != nil {
				return err
			}
			id, ok := rid.Remote()
			if !ok {
				return fmt.Errorf("%s has not been synced yet; run 'autotrac sync' first", rid)
			}
			if !a.checkOnline(cmd.Context()) {
				return errNeedsConnection
			}

			switch args[0] {
			case "entry":
				err = a.api.DeleteTimeEntry(cmd.Context(), id)
			case "income":
				err = a.api.DeleteIncome(cmd.Context(), id)
			default:
				return fmt.Errorf("unknown record type %q: use entry or income", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %d\n", args[0], id)
			return nil
		},
	}
}
