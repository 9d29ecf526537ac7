package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"workshop/internal/config"
	"workshop/internal/fleet"
	"workshop/internal/ledger"
	"workshop/internal/logging"
	"workshop/internal/manifest"
	"workshop/internal/preflight"
	"workshop/internal/results"
	"workshop/internal/runstore"
	"workshop/internal/services"
	"workshop/internal/statusapi"
	"workshop/internal/workflow"
)

const lockFileName = ".workshop.lock"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		flags      runFlags
		statusAddr string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   "run [manifest]",
		Short: "Process a manifest across the fleet",
		Long: "Process every job of a manifest on the fleet. Jobs whose result directory\n" +
			"already exists are skipped, so re-running the same manifest resumes a batch.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg, err := flags.apply(cmd, base)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("status-addr") {
				cfg.Workflow.StatusAddr = strings.TrimSpace(statusAddr)
			}
			if cmd.Flags().Changed("operator") {
				cfg.Workflow.Operator = strings.TrimSpace(operator)
			}
			manifestPath, err := flags.manifestPath(args)
			if err != nil {
				return err
			}
			slots, err := ctx.loadSlots(cfg, flags.inventory)
			if err != nil {
				return err
			}
			return runManifest(cmd, cfg, manifestPath, slots)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve read-only run status on this address (e.g. 127.0.0.1:7488)")
	cmd.Flags().StringVar(&operator, "operator", "", "Operator recorded in provenance (overrides workflow.operator)")
	return cmd
}

func runManifest(cmd *cobra.Command, cfg *config.Config, manifestPath string, slots []fleet.Slot) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrConfiguration, "cli", "ensure directories", "", err)
	}
	jobs, err := manifest.ReadFile(manifestPath)
	if err != nil {
		return err
	}
	checks := preflight.RunAll(cfg, slots)
	if failed := preflight.Failed(checks); len(failed) > 0 {
		return preflightError(failed)
	}

	lock := flock.New(filepath.Join(cfg.Paths.OutputRoot, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire output root lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another workshop run is already writing to %s", cfg.Paths.OutputRoot)
	}
	defer func() { _ = lock.Unlock() }()

	runID := uuid.NewString()
	logger, logPath, err := logging.NewForRun(cfg, runID)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if removed := logging.CleanupOldLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath); removed > 0 {
		logger.Debug("old run logs removed", logging.Int("count", removed))
	}

	for _, w := range preflight.Warnings(checks) {
		logger.Warn("preflight check failed; jobs on this worker will be ledgered if it cannot connect",
			logging.String("check", w.Name),
			logging.String("detail", w.Detail),
			logging.String(logging.FieldEventType, "preflight_warning"),
			logging.String(logging.FieldErrorHint, "fix the worker's key_path in the inventory and re-run the manifest"),
		)
	}

	store, err := runstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()
	if archived := store.Archived(); archived != "" {
		logger.Info("run history schema changed; previous history archived",
			logging.String("archive", archived),
			logging.String(logging.FieldEventType, "history_archived"),
		)
	}
	if n, err := store.MarkInterrupted(cmd.Context()); err != nil {
		logger.Warn("could not close out earlier runs", logging.Error(err))
	} else if n > 0 {
		logger.Info("earlier runs marked interrupted", logging.Int("count", n))
	}

	if n, err := results.NewCollector(cfg.Paths.OutputRoot, logger).CleanStale(); err != nil {
		logger.Warn("stale staging cleanup failed",
			logging.String(logging.FieldErrorHint, "remove hidden .partial directories under the output root"),
			logging.Error(err),
		)
	} else if n > 0 {
		logger.Info("stale staging directories removed", logging.Int("count", n))
	}

	l, err := ledger.Open(cfg.Paths.OutputRoot)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer l.Close()

	opts := []workflow.ManagerOption{workflow.WithRunID(runID), workflow.WithStore(store)}
	if cfg.Storage.S3Enabled {
		opts = append(opts, workflow.WithMirror(results.NewS3Mirror(cfg.Storage, logger)))
	}
	mgr := workflow.NewManager(cfg, fleet.NewConfig(cfg, slots), l, logger, opts...)

	if addr := cfg.Workflow.StatusAddr; addr != "" {
		srv := statusapi.New(addr, mgr, l, logger)
		if err := srv.Start(cmd.Context()); err != nil {
			return err
		}
		defer srv.Stop()
	}

	summary, runErr := mgr.Run(cmd.Context(), manifestPath, jobs)
	printSummary(cmd.OutOrStdout(), summary, logPath, logger)
	return runErr
}

func preflightError(failed []preflight.Result) error {
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "", strings.Join(parts, "; "), nil)
}

func printSummary(w io.Writer, summary workflow.Summary, logPath string, logger *slog.Logger) {
	rows := make([][]string, 0, len(summary.Slots)+1)
	for _, slot := range summary.Slots {
		rows = append(rows, []string{
			strconv.Itoa(slot.Index),
			slot.Worker,
			strconv.Itoa(slot.Assigned),
			strconv.Itoa(slot.Succeeded),
			strconv.Itoa(slot.Skipped),
			strconv.Itoa(slot.Failed),
		})
	}
	rows = append(rows, []string{
		"", "total",
		strconv.Itoa(summary.Jobs),
		strconv.Itoa(summary.Succeeded),
		strconv.Itoa(summary.Skipped),
		strconv.Itoa(summary.Failed),
	})
	err := writeTable(w,
		[]string{"Slot", "Worker", "Jobs", "Succeeded", "Skipped", "Failed"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
	if err == nil && summary.Failed+summary.Skipped > 0 {
		_, err = fmt.Fprintf(w, "Failed and skipped jobs are listed in %s\n", summary.LedgerPath)
	}
	if err == nil && logPath != "" {
		_, err = fmt.Fprintf(w, "Run log: %s\n", logPath)
	}
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Warn("failed to print run summary", logging.Error(err))
	}
}
