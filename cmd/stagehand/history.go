package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kwonjuyong/stagehand/internal/core/domain"
	"github.com/kwonjuyong/stagehand/internal/shell/store"
)

func newHistoryCommand() *cobra.Command {
	var (
		project string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Without arguments, list recent runs. With a run ID, show the run and
its per-stage outcomes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return showRun(cmd, args[0])
			}
			return listRuns(cmd, project, limit)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "filter by project")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

func openHistory() (*store.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Database.DSN)
}

func listRuns(cmd *cobra.Command, project string, limit int) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	opts := store.ListOptions{Limit: limit}
	ctx := cmd.Context()

	var runs []domain.Run
	if project != "" {
		runs, err = history.ListRunsByProject(ctx, project, opts)
	} else {
		runs, err = history.ListRuns(ctx, opts)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROJECT\tSTATUS\tSTARTED\tDURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Project, run.Status,
			run.StartedAt.Format(time.RFC3339),
			run.Duration().Round(time.Second))
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, id string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	ctx := cmd.Context()
	run, err := history.GetRun(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", run.ID)
	fmt.Fprintf(out, "  project: %s\n", run.Project)
	if run.Ref != "" {
		fmt.Fprintf(out, "  ref:     %s\n", run.Ref)
	}
	if run.Commit != "" {
		fmt.Fprintf(out, "  commit:  %s\n", run.Commit)
	}
	fmt.Fprintf(out, "  status:  %s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "  error:   %s\n", run.Error)
	}

	records, err := history.ListStageRecords(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTAGE\tSTATUS\tMESSAGE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", rec.Stage, rec.Status, rec.Message)
	}
	return w.Flush()
}
