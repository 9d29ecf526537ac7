package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"workshop/internal/config"
	"workshop/internal/fleet"
	"workshop/internal/ledger"
	"workshop/internal/logging"
	"workshop/internal/manifest"
	"workshop/internal/testsupport"
	"workshop/internal/workflow"
)

type harness struct {
	t      *testing.T
	cfg    *config.Config
	fleet  fleet.Config
	ledger *ledger.Ledger
}

func newHarness(t *testing.T, slots int, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedDocker()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	l, err := ledger.Open(cfg.Paths.OutputRoot)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return &harness{
		t:      t,
		cfg:    cfg,
		fleet:  fleet.NewConfig(cfg, testsupport.LocalSlots(cfg, slots)),
		ledger: l,
	}
}

func (h *harness) manager(opts ...workflow.ManagerOption) *workflow.Manager {
	return workflow.NewManager(h.cfg, h.fleet, h.ledger, logging.NewNop(), opts...)
}

// pairedJob creates <id>_R1.fastq.gz and <id>_R2.fastq.gz inputs.
func (h *harness) pairedJob(id string) manifest.Job {
	h.t.Helper()
	return h.job(id, id+"_R1.fastq.gz", id+"_R2.fastq.gz")
}

func (h *harness) job(id string, names ...string) manifest.Job {
	h.t.Helper()
	dir := filepath.Join(testsupport.BaseDir(h.cfg), "inputs")
	inputs := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		testsupport.WriteFile(h.t, path, 256)
		inputs = append(inputs, path)
	}
	return manifest.Job{ID: id, Inputs: inputs, Row: 2}
}

func (h *harness) run(m *workflow.Manager, jobs ...manifest.Job) workflow.Summary {
	h.t.Helper()
	summary, err := m.Run(context.Background(), "manifest.tsv", jobs)
	if err != nil {
		h.t.Fatalf("Run returned error: %v", err)
	}
	return summary
}

func (h *harness) resultDir(id string) string {
	return filepath.Join(h.cfg.Paths.OutputRoot, id)
}

func (h *harness) requireResult(id string, stages ...string) {
	h.t.Helper()
	for _, name := range stages {
		file := filepath.Join(h.resultDir(id), name, "result.txt")
		if _, err := os.Stat(file); err != nil {
			h.t.Fatalf("expected %s: %v", file, err)
		}
	}
	entries, err := os.ReadDir(h.resultDir(id))
	if err != nil {
		h.t.Fatalf("read result dir: %v", err)
	}
	if len(entries) != len(stages)+1 {
		h.t.Fatalf("expected %d entries in %s, got %d", len(stages)+1, h.resultDir(id), len(entries))
	}
}

func (h *harness) requireNoResult(id string) {
	h.t.Helper()
	if _, err := os.Stat(h.resultDir(id)); !os.IsNotExist(err) {
		h.t.Fatalf("expected no result directory for %s, stat err=%v", id, err)
	}
}

// ledgerFor returns the ledger entries recorded for id.
func (h *harness) ledgerFor(id string) []ledger.Entry {
	var out []ledger.Entry
	for _, entry := range h.ledger.Entries() {
		if entry.JobID == id {
			out = append(out, entry)
		}
	}
	return out
}

// invocationsFor returns docker runs whose arguments mention id.
func (h *harness) invocationsFor(id string) []string {
	var out []string
	for _, line := range testsupport.DockerInvocations(h.t, h.cfg) {
		if strings.Contains(line, "/"+id+"_") || strings.Contains(line, "--name "+id+" ") {
			out = append(out, line)
		}
	}
	return out
}

type recordingMirror struct {
	mu   sync.Mutex
	jobs []string
	err  error
}

func (m *recordingMirror) Upload(_ context.Context, jobID, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	m.jobs = append(m.jobs, jobID)
	return m.err
}
