package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"workshop/internal/config"
	"workshop/internal/fleet"
	"workshop/internal/ledger"
	"workshop/internal/logging"
	"workshop/internal/results"
	"workshop/internal/runstore"
	"workshop/internal/stage"
	"workshop/internal/worker"
)

// Dialer opens a session to one fleet slot.
type Dialer func(ctx context.Context, cfg fleet.Config, slot fleet.Slot, logger *slog.Logger) (*worker.Session, error)

// Manager coordinates one run across the fleet.
type Manager struct {
	cfg       *config.Config
	fleet     fleet.Config
	ledger    *ledger.Ledger
	collector *results.Collector
	runner    *stage.Runner
	logger    *slog.Logger

	runID  string
	store  *runstore.Store
	mirror results.Mirror
	dial   Dialer
	now    func() time.Time

	mu    sync.RWMutex
	slots []*slotState
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithRunID sets the run identifier; a random one is used otherwise.
func WithRunID(id string) ManagerOption {
	return func(m *Manager) {
		if id != "" {
			m.runID = id
		}
	}
}

// WithStore records run progress in store.
func WithStore(store *runstore.Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithMirror uploads committed results through mirror.
func WithMirror(mirror results.Mirror) ManagerOption {
	return func(m *Manager) { m.mirror = mirror }
}

// WithDialer overrides how worker sessions are opened.
func WithDialer(dial Dialer) ManagerOption {
	return func(m *Manager) {
		if dial != nil {
			m.dial = dial
		}
	}
}

// NewManager constructs a manager for one run. The ledger is owned by the
// caller and must stay open until Run returns.
func NewManager(cfg *config.Config, fc fleet.Config, l *ledger.Ledger, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:       cfg,
		fleet:     fc,
		ledger:    l,
		collector: results.NewCollector(cfg.Paths.OutputRoot, logger),
		runner:    stage.NewRunner(cfg.Fleet.DockerBinary, cfg.StageTimeout(), logger),
		logger:    logging.NewComponentLogger(logger, "workflow"),
		runID:     uuid.NewString(),
		dial:      worker.Dial,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunID returns the identifier of the run this manager drives.
func (m *Manager) RunID() string { return m.runID }

// Selection returns the stage enable flags from configuration.
func Selection(cfg *config.Config) stage.Selection {
	return stage.Selection{
		stage.PrimaryAnalysis: cfg.Stages.PrimaryAnalysis,
		stage.QualityControl:  cfg.Stages.QualityControl,
		stage.FusionAnalysis:  cfg.Stages.FusionAnalysis,
	}
}

// BuildPlan resolves the ordered stages every job of the run executes.
func BuildPlan(cfg *config.Config) ([]stage.Spec, error) {
	return stage.Plan(stage.Definitions(cfg), Selection(cfg), cfg.Stages.AlignmentArtifact)
}
