package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"workshop/internal/fleet"
	"workshop/internal/logging"
	"workshop/internal/services"
	"workshop/internal/stage"
)

// Source is the part of a worker session collection reads from.
type Source interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, remotePath, localDir string) error
	Layout() fleet.Layout
}

// Collector owns the output root.
type Collector struct {
	root   string
	logger *slog.Logger
}

// NewCollector returns a collector publishing under root.
func NewCollector(root string, logger *slog.Logger) *Collector {
	return &Collector{root: root, logger: logging.NewComponentLogger(logger, "results")}
}

// Root returns the output root.
func (c *Collector) Root() string { return c.root }

// JobDir is the published location of a job's results.
func (c *Collector) JobDir(jobID string) string {
	return filepath.Join(c.root, jobID)
}

// Processed reports whether a job's result directory already exists.
func (c *Collector) Processed(jobID string) (bool, error) {
	_, err := os.Stat(c.JobDir(jobID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("check result directory: %w", err)
	}
}

// CleanStale removes staging directories left by an interrupted run.
func (c *Collector) CleanStale() (int, error) {
	matches, err := filepath.Glob(filepath.Join(c.root, ".*.partial-*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, dir := range matches {
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("remove stale staging %s: %w", dir, err)
		}
		removed++
	}
	return removed, nil
}

// Begin starts publishing jobID. Nothing touches disk until Collect retrieves
// the first artifact.
func (c *Collector) Begin(jobID string) *Publication {
	return &Publication{collector: c, jobID: jobID}
}

// Publication is one job's in-progress result set.
type Publication struct {
	collector  *Collector
	jobID      string
	staging    string
	provenance bool
	committed  bool
}

// Staging returns the staging directory, empty until an artifact was retrieved.
func (p *Publication) Staging() string { return p.staging }

// Collect retrieves the declared outputs of each planned stage from src into
// <staging>/<stage>/, keeping their paths below the stage output directory.
func (p *Publication) Collect(ctx context.Context, src Source, plan []stage.Spec) error {
	layout := src.Layout()
	for _, spec := range plan {
		outputs, err := spec.ResolveOutputs(layout)
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "results", "collect", "", err)
		}
		for _, out := range stage.CollectedOutputs(outputs) {
			if err := p.collectOutput(ctx, src, spec.Name, out); err != nil {
				return err
			}
		}
		p.collector.logger.Debug("stage output collected",
			logging.String(logging.FieldJobID, p.jobID),
			logging.String(logging.FieldStage, string(spec.Name)),
			logging.Int("outputs", len(outputs)),
		)
	}
	return nil
}

func (p *Publication) collectOutput(ctx context.Context, src Source, name stage.Name, out stage.Output) error {
	present, err := src.Exists(ctx, out.Path)
	if err != nil {
		return err
	}
	if !present {
		return services.Wrap(services.ErrTransfer, "results", "collect",
			fmt.Sprintf("stage %s produced no %s at %s", name, out.Name, out.Path), nil)
	}
	dir, err := p.ensureStaging()
	if err != nil {
		return err
	}
	parent := dir
	if out.Rel != "." {
		parent = filepath.Join(dir, string(name), filepath.FromSlash(path.Dir(out.Rel)))
	}
	return src.Get(ctx, out.Path, parent)
}

// WriteProvenance stores the job's provenance record. It may be called once,
// after Collect.
func (p *Publication) WriteProvenance(record Record) error {
	if p.provenance {
		return fmt.Errorf("provenance for %s already written", p.jobID)
	}
	if p.staging == "" {
		return fmt.Errorf("provenance for %s written before any output was collected", p.jobID)
	}
	if err := writeRecord(filepath.Join(p.staging, ProvenanceFile), record); err != nil {
		return services.Wrap(services.ErrTransfer, "results", "write provenance", p.jobID, err)
	}
	p.provenance = true
	return nil
}

// Commit publishes the staging directory as the job's result directory.
func (p *Publication) Commit() (string, error) {
	if !p.provenance {
		return "", fmt.Errorf("commit %s without provenance", p.jobID)
	}
	final := p.collector.JobDir(p.jobID)
	if _, err := os.Stat(final); err == nil {
		return "", services.Wrap(services.ErrPrecondition, "results", "commit",
			fmt.Sprintf("result directory %s appeared during processing", final), nil)
	}
	if err := os.Rename(p.staging, final); err != nil {
		return "", services.Wrap(services.ErrTransfer, "results", "commit", final, err)
	}
	p.committed = true
	p.staging = ""
	return final, nil
}

// Abort discards anything collected. It is a no-op after Commit.
func (p *Publication) Abort() {
	if p.committed || p.staging == "" {
		return
	}
	if err := os.RemoveAll(p.staging); err != nil {
		p.collector.logger.Warn("failed to remove staging directory",
			logging.String(logging.FieldJobID, p.jobID),
			logging.String("path", p.staging),
			logging.String(logging.FieldEventType, "staging_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the hidden .partial directory under the output root"),
			logging.Error(err),
		)
	}
	p.staging = ""
}

func (p *Publication) ensureStaging() (string, error) {
	if p.staging != "" {
		return p.staging, nil
	}
	if err := os.MkdirAll(p.collector.root, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransfer, "results", "collect", "create output root", err)
	}
	name := "." + strings.TrimPrefix(p.jobID, ".") + ".partial-" + uuid.NewString()[:8]
	dir := filepath.Join(p.collector.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransfer, "results", "collect", "create staging directory", err)
	}
	p.staging = dir
	return dir, nil
}
