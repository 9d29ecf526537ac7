package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workshop/internal/runstore"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		runID   string
		jobID   string
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent runs, one run's jobs, or one job's history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := runstore.Open(cfg)
			if err != nil {
				return fmt.Errorf("open run store: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			switch {
			case strings.TrimSpace(jobID) != "":
				attempts, err := store.JobHistory(cmd.Context(), strings.TrimSpace(jobID))
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), attempts)
				}
				return renderAttempts(out, attempts, true)

			case strings.TrimSpace(runID) != "":
				id := strings.TrimSpace(runID)
				var run *runstore.Run
				if id == "latest" {
					run, err = store.LatestRun(cmd.Context())
				} else {
					run, err = store.GetRun(cmd.Context(), id)
				}
				if errors.Is(err, runstore.ErrNotFound) {
					return fmt.Errorf("run %s not found", id)
				}
				if err != nil {
					return err
				}
				attempts, err := store.Attempts(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), struct {
						Run      *runstore.Run      `json:"run"`
						Attempts []runstore.Attempt `json:"attempts"`
					}{run, attempts})
				}
				if err := renderRunHeader(out, run); err != nil {
					return err
				}
				return renderAttempts(out, attempts, false)

			default:
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				if len(runs) == 0 {
					_, err := fmt.Fprintln(out, "No runs recorded")
					return err
				}
				return renderRuns(out, runs)
			}
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Show the jobs of one run (an id, or \"latest\")")
	cmd.Flags().StringVar(&jobID, "job", "", "Show every recorded attempt for one job id")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	cmd.MarkFlagsMutuallyExclusive("run", "job")
	return cmd
}

func renderRuns(w io.Writer, runs []runstore.Run) error {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			formatStamp(run.StartedAt),
			string(run.Status),
			strconv.Itoa(run.Slots),
			strconv.Itoa(run.Totals.Jobs),
			strconv.Itoa(run.Totals.Succeeded),
			strconv.Itoa(run.Totals.Skipped),
			strconv.Itoa(run.Totals.Failed),
			run.Manifest,
		})
	}
	return writeTable(w,
		[]string{"Run", "Started", "Status", "Slots", "Jobs", "Succeeded", "Skipped", "Failed", "Manifest"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}

func renderRunHeader(w io.Writer, run *runstore.Run) error {
	duration := "-"
	if !run.FinishedAt.IsZero() {
		duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
	}
	_, err := fmt.Fprintf(w, "Run %s (%s) by %s\nManifest: %s\nOutput:   %s\nStages:   %s\nDuration: %s\n",
		run.ID, run.Status, run.Operator, run.Manifest, run.OutputRoot, strings.Join(run.Stages, ", "), duration)
	return err
}

func renderAttempts(w io.Writer, attempts []runstore.Attempt, withRun bool) error {
	headers := []string{"#", "Job", "Worker", "Status", "Stage", "Detail"}
	if withRun {
		headers = append([]string{"Run"}, headers...)
	}
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		detail := a.ErrorMessage
		if a.Status == runstore.JobSucceeded {
			detail = a.ResultDir
		}
		row := []string{strconv.Itoa(a.Position), a.JobID, a.Worker, string(a.Status), a.Stage, detail}
		if withRun {
			row = append([]string{shortID(a.RunID)}, row...)
		}
		rows = append(rows, row)
	}
	return writeTable(w, headers, rows, nil)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
