package stage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"workshop/internal/fleet"
	"workshop/internal/logging"
	"workshop/internal/manifest"
	"workshop/internal/services"
	"workshop/internal/worker"
)

// Executor is the part of a worker session the runner needs.
type Executor interface {
	Run(ctx context.Context, command string, timeout time.Duration) (worker.Result, error)
	RunTolerant(ctx context.Context, command string) (worker.Result, error)
	Exists(ctx context.Context, path string) (bool, error)
	Layout() fleet.Layout
}

// Result records one executed stage.
type Result struct {
	Stage     Name
	Image     string
	Succeeded bool
	Started   time.Time
	Duration  time.Duration
}

// Runner executes stages on a worker.
type Runner struct {
	docker  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner constructs a runner using the given docker binary and per-stage timeout.
func NewRunner(docker string, timeout time.Duration, logger *slog.Logger) *Runner {
	if strings.TrimSpace(docker) == "" {
		docker = "docker"
	}
	return &Runner{
		docker:  docker,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "stage"),
	}
}

// Run executes spec for job. A non-zero exit or expired timeout yields an
// ErrStageExecution error and a result with Succeeded false.
func (r *Runner) Run(ctx context.Context, exec Executor, spec Spec, job manifest.Job) (Result, error) {
	logger := logging.WithContext(ctx, r.logger).With(logging.String(logging.FieldStage, string(spec.Name)))
	result := Result{Stage: spec.Name, Image: spec.Image, Started: time.Now()}

	inv, err := BuildInvocation(spec, exec.Layout(), job)
	if err != nil {
		return result, err
	}
	if _, err := exec.Run(ctx, "mkdir -p "+worker.Quote(inv.OutputDir), 0); err != nil {
		return result, services.Wrap(services.ErrStageExecution, "stage", string(spec.Name), "prepare output directory", err)
	}

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("image", spec.Image),
	)
	_, err = exec.Run(ctx, inv.Command(r.docker), r.timeout)
	result.Duration = time.Since(result.Started)
	if err != nil {
		logger.Warn("stage failed",
			logging.String(logging.FieldEventType, "stage_failed"),
			logging.String(logging.FieldErrorHint, "inspect the container output on the worker; the job is skipped and recorded in the error log"),
			logging.Duration("duration", result.Duration),
			logging.Error(err),
		)
		return result, services.Wrap(services.ErrStageExecution, "stage", string(spec.Name),
			fmt.Sprintf("container %s (%s) failed", inv.Container, spec.Image), err)
	}
	if spec.Prune {
		r.prune(ctx, exec, inv.OutputDir, spec.Intermediates, logger)
	}
	if err := r.verifyOutputs(ctx, exec, spec, inv.Outputs); err != nil {
		logger.Warn("stage output incomplete",
			logging.String(logging.FieldEventType, "stage_output_missing"),
			logging.String(logging.FieldErrorHint, "check the stage's outputs setting against what the container writes"),
			logging.Error(err),
		)
		return result, err
	}
	result.Succeeded = true
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// verifyOutputs fails the stage when a declared output is absent, so a
// container that exits zero without its results is not collected.
func (r *Runner) verifyOutputs(ctx context.Context, exec Executor, spec Spec, outputs []Output) error {
	for _, out := range outputs {
		present, err := exec.Exists(ctx, out.Path)
		if err != nil {
			return err
		}
		if !present {
			return services.Wrap(services.ErrStageExecution, "stage", string(spec.Name),
				fmt.Sprintf("declared output %s missing at %s", out.Name, out.Path), nil)
		}
	}
	return nil
}

// prune removes intermediates relative to the stage output directory. Failure
// only costs disk space, so it is logged rather than returned.
func (r *Runner) prune(ctx context.Context, exec Executor, outputDir string, intermediates []string, logger *slog.Logger) {
	targets := make([]string, 0, len(intermediates))
	for _, entry := range intermediates {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		targets = append(targets, worker.Quote(path.Join(outputDir, entry)))
	}
	if len(targets) == 0 {
		return
	}
	res, err := exec.RunTolerant(ctx, "rm -rf "+strings.Join(targets, " "))
	if err != nil || res.ExitCode != 0 {
		logger.Warn("intermediate prune failed",
			logging.String(logging.FieldEventType, "prune_failed"),
			logging.String(logging.FieldErrorHint, "worker disk usage may grow until the next reset"),
			logging.String("output", res.Output()),
			logging.Error(err),
		)
		return
	}
	logger.Debug("intermediates pruned", logging.Strings("paths", intermediates))
}
