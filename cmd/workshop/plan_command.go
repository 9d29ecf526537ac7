package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"workshop/internal/manifest"
	"workshop/internal/partition"
	"workshop/internal/results"
	"workshop/internal/stage"
	"workshop/internal/workflow"
)

type planEntry struct {
	Position int      `json:"position"`
	Row      int      `json:"row"`
	JobID    string   `json:"job_id"`
	Slot     int      `json:"slot"`
	Worker   string   `json:"worker"`
	Inputs   []string `json:"inputs"`
	Done     bool     `json:"done"`
}

type planView struct {
	Manifest string      `json:"manifest"`
	Stages   []string    `json:"stages"`
	Slots    int         `json:"slots"`
	Jobs     []planEntry `json:"jobs"`
}

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var (
		flags   runFlags
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "plan [manifest]",
		Short: "Show which worker each job would run on, without running anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := flags.apply(cmd, base)
			if err != nil {
				return err
			}
			manifestPath, err := flags.manifestPath(args)
			if err != nil {
				return err
			}
			jobs, err := manifest.ReadFile(manifestPath)
			if err != nil {
				return err
			}
			slots, err := ctx.loadSlots(cfg, flags.inventory)
			if err != nil {
				return err
			}
			plan, err := workflow.BuildPlan(cfg)
			if err != nil {
				return err
			}

			collector := results.NewCollector(cfg.Paths.OutputRoot, nil)
			view := planView{Manifest: manifestPath, Slots: len(slots)}
			for _, name := range stage.Names(plan) {
				view.Stages = append(view.Stages, string(name))
			}
			total := partition.Limit(len(jobs), cfg.Workflow.Limit)
			for pos, job := range jobs[:total] {
				slot := slots[partition.Assign(pos, len(slots))]
				done, _ := collector.Processed(job.ID)
				view.Jobs = append(view.Jobs, planEntry{
					Position: pos,
					Row:      job.Row,
					JobID:    job.ID,
					Slot:     slot.Index,
					Worker:   slot.Label(),
					Inputs:   job.Inputs,
					Done:     done,
				})
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), view)
			}
			return renderPlan(cmd, view)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func renderPlan(cmd *cobra.Command, view planView) error {
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(out, "Stages: %s\n", strings.Join(view.Stages, " -> ")); err != nil {
		return err
	}
	rows := make([][]string, 0, len(view.Jobs))
	for _, entry := range view.Jobs {
		rows = append(rows, []string{
			strconv.Itoa(entry.Position),
			entry.JobID,
			strconv.Itoa(entry.Slot),
			entry.Worker,
			strconv.Itoa(len(entry.Inputs)),
			yesNo(entry.Done),
		})
	}
	return writeTable(out,
		[]string{"#", "Job", "Slot", "Worker", "Inputs", "Done"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	)
}
