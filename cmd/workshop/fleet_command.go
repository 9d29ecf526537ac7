package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"workshop/internal/config"
	"workshop/internal/fleet"
	"workshop/internal/logging"
	"workshop/internal/preflight"
	"workshop/internal/stage"
	"workshop/internal/worker"
	"workshop/internal/workflow"
)

func newFleetCommand(ctx *commandContext) *cobra.Command {
	var inventory string

	fleetCmd := &cobra.Command{
		Use:   "fleet",
		Short: "Inspect the worker inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			slots, err := ctx.loadSlots(cfg, inventory)
			if err != nil {
				return err
			}
			return renderSlots(cmd.OutOrStdout(), fleet.NewConfig(cfg, slots))
		},
	}
	fleetCmd.PersistentFlags().StringVar(&inventory, "inventory", "", "Fleet inventory file (overrides fleet.inventory)")

	fleetCmd.AddCommand(newFleetCheckCommand(ctx, &inventory))
	fleetCmd.AddCommand(newFleetImportCommand())
	return fleetCmd
}

func renderSlots(w io.Writer, fc fleet.Config) error {
	slots := fc.Slots()
	rows := make([][]string, 0, len(slots))
	for _, slot := range slots {
		endpoint := slot.Endpoint
		if endpoint == "" {
			endpoint = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(slot.Index),
			slot.Label(),
			string(slot.Driver),
			endpoint,
			fc.Layout(slot).Root,
		})
	}
	return writeTable(w,
		[]string{"Slot", "Worker", "Driver", "Endpoint", "Work Dir"},
		rows,
		[]columnAlignment{alignRight},
	)
}

func newFleetCheckCommand(ctx *commandContext, inventory *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect to every worker and report docker and image readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			slots, err := ctx.loadSlots(cfg, *inventory)
			if err != nil {
				return err
			}
			plan, err := workflow.BuildPlan(cfg)
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			fc := fleet.NewConfig(cfg, slots)
			reports := make([][]stage.Health, len(slots))
			var g errgroup.Group
			for i, slot := range fc.Slots() {
				g.Go(func() error {
					reports[i] = checkSlot(cmd.Context(), fc, slot, cfg.Fleet.DockerBinary, plan, logger)
					return nil
				})
			}
			_ = g.Wait()

			rows := make([][]string, 0, len(slots)*(len(plan)+1))
			unready := 0
			for i, slot := range fc.Slots() {
				for _, h := range reports[i] {
					if !h.Ready {
						unready++
					}
					rows = append(rows, []string{slot.Label(), h.Name, yesNo(h.Ready), h.Detail})
				}
			}
			if err := writeTable(cmd.OutOrStdout(), []string{"Worker", "Check", "Ready", "Detail"}, rows, nil); err != nil {
				return err
			}
			if unready > 0 {
				return fmt.Errorf("%d fleet checks failed", unready)
			}
			return nil
		},
	}
}

func checkSlot(ctx context.Context, fc fleet.Config, slot fleet.Slot, docker string, plan []stage.Spec, logger *slog.Logger) []stage.Health {
	if slot.Driver == fleet.DriverSSH && slot.KeyPath != "" {
		if key := preflight.CheckKeyFile(slot); !key.Passed {
			return []stage.Health{stage.Unhealthy("key", key.Detail)}
		}
	}
	session, err := worker.Dial(ctx, fc, slot, logger)
	if err != nil {
		return []stage.Health{stage.Unhealthy("connect", err.Error())}
	}
	defer session.Close()

	checks := []stage.Health{stage.Healthy("connect")}
	marker := strings.TrimSpace(fc.ReferenceMarker)
	if marker != "" {
		present, err := session.Exists(ctx, session.Layout().Join(marker))
		switch {
		case err != nil:
			checks = append(checks, stage.Unhealthy("references", err.Error()))
		case present:
			checks = append(checks, stage.Health{Name: "references", Ready: true, Detail: marker})
		case fc.SetupCommand != "":
			checks = append(checks, stage.Health{Name: "references", Ready: true, Detail: "provisioned on first job"})
		default:
			checks = append(checks, stage.Unhealthy("references", marker+" missing and no setup command configured"))
		}
	}
	return append(checks, stage.CheckWorker(ctx, session, docker, plan)...)
}

func newFleetImportCommand() *cobra.Command {
	var (
		machineDir string
		target     string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Build an inventory from `docker-machine ls` output read on stdin",
		Long: "Reads lines of \"<name> <url>\" as printed by\n" +
			"  docker-machine ls --format '{{.Name}} {{.URL}}'\n" +
			"and prints an inventory, or writes it with --write.",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(machineDir)
			if err != nil {
				return fmt.Errorf("resolve machine directory: %w", err)
			}
			slots, err := fleet.ParseDockerMachineList(cmd.InOrStdin(), dir)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				return fmt.Errorf("no running machines in input")
			}
			data, err := fleet.MarshalInventory(slots)
			if err != nil {
				return fmt.Errorf("encode inventory: %w", err)
			}
			if strings.TrimSpace(target) == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			path, err := config.ExpandPath(target)
			if err != nil {
				return fmt.Errorf("resolve inventory path: %w", err)
			}
			if !overwrite {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("inventory already exists at %s (use --overwrite to replace it)", path)
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create inventory directory: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write inventory: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d workers to %s\n", len(slots), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&machineDir, "machine-dir", "~/.docker/machine/machines", "docker-machine state directory holding per-machine keys")
	cmd.Flags().StringVar(&target, "write", "", "Write the inventory to this path instead of stdout")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing inventory file")
	return cmd
}
