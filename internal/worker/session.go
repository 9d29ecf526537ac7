package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"workshop/internal/fleet"
	"workshop/internal/logging"
	"workshop/internal/services"
)

const component = "worker"

// Session is the driver's handle on one fleet machine. A session is used by a
// single slot goroutine; the mutex only guards State readers such as the
// status API.
type Session struct {
	cfg       fleet.Config
	slot      fleet.Slot
	layout    fleet.Layout
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	state      State
	references bool
}

// NewSession wraps an established transport. The machine starts Unknown.
func NewSession(cfg fleet.Config, slot fleet.Slot, transport Transport, logger *slog.Logger) *Session {
	logger = logging.NewComponentLogger(logger, component).With(
		logging.Int(logging.FieldSlot, slot.Index),
		logging.String("worker", slot.Label()),
		logging.String("driver", string(slot.Driver)),
	)
	return &Session{
		cfg:       cfg,
		slot:      slot,
		layout:    cfg.Layout(slot),
		transport: transport,
		logger:    logger,
		state:     StateUnknown,
	}
}

// Dial connects to slot using its configured driver.
func Dial(ctx context.Context, cfg fleet.Config, slot fleet.Slot, logger *slog.Logger) (*Session, error) {
	var (
		transport Transport
		err       error
	)
	switch slot.Driver {
	case fleet.DriverLocal:
		transport, err = NewLocalTransport(cfg.Layout(slot).Root)
	case fleet.DriverSSH, "":
		transport, err = DialSSH(ctx, cfg, slot)
	default:
		err = fmt.Errorf("unsupported driver %q", slot.Driver)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrRemoteExecution, component, "connect", slot.Label(), err)
	}
	return NewSession(cfg, slot, transport, logger), nil
}

// Slot returns the machine identity.
func (s *Session) Slot() fleet.Slot { return s.slot }

// Layout returns the machine's work directory layout.
func (s *Session) Layout() fleet.Layout { return s.layout }

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Advance moves the machine to next, rejecting transitions the lifecycle forbids.
func (s *Session) Advance(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, next) {
		return &TransitionError{From: s.state, To: next}
	}
	s.logger.Debug("worker state changed",
		logging.String("from", string(s.state)),
		logging.String("to", string(next)),
	)
	s.state = next
	return nil
}

// EndJob returns the machine to Ready after a job concluded. A machine that
// never left Ready, or that fell back to Unknown, is left alone.
func (s *Session) EndJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateStaging, StateExecuting, StateCollecting:
		s.state = StateReady
	}
}

// Exists reports whether path exists on the machine.
func (s *Session) Exists(ctx context.Context, target string) (bool, error) {
	res, err := s.exec(ctx, "test -e "+Quote(target), s.cfg.CommandTimeout)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, services.Wrap(services.ErrRemoteExecution, component, "exists",
			fmt.Sprintf("test -e %s exited %d: %s", target, res.ExitCode, res.Output()), nil)
	}
}

// Run executes command and fails unless it exits zero. timeout <= 0 uses the
// fleet command timeout.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	res, err := s.exec(ctx, command, timeout)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, services.Wrap(services.ErrRemoteExecution, component, "run",
			fmt.Sprintf("%s exited %d: %s", summarize(command), res.ExitCode, tail(res.Output())), nil)
	}
	return res, nil
}

// RunTolerant executes command and returns its result whatever the exit code.
// Connection failures and timeouts are still errors.
func (s *Session) RunTolerant(ctx context.Context, command string) (Result, error) {
	return s.exec(ctx, command, s.cfg.CommandTimeout)
}

// Put copies a local file to the machine.
func (s *Session) Put(ctx context.Context, localPath, remotePath string) error {
	ctx, cancel := withTimeout(ctx, s.cfg.TransferTimeout)
	defer cancel()
	start := time.Now()
	if err := s.transport.Put(ctx, localPath, remotePath); err != nil {
		return s.transferError(ctx, "put", fmt.Sprintf("%s -> %s", localPath, remotePath), err)
	}
	s.logger.Debug("file staged",
		logging.String("source", localPath),
		logging.String("destination", remotePath),
		logging.Duration("duration", time.Since(start)),
	)
	return nil
}

// Get copies a file or directory from the machine into localDir.
func (s *Session) Get(ctx context.Context, remotePath, localDir string) error {
	ctx, cancel := withTimeout(ctx, s.cfg.TransferTimeout)
	defer cancel()
	start := time.Now()
	if err := s.transport.Get(ctx, remotePath, localDir); err != nil {
		return s.transferError(ctx, "get", fmt.Sprintf("%s -> %s", remotePath, localDir), err)
	}
	s.logger.Debug("output retrieved",
		logging.String("source", remotePath),
		logging.String("destination", localDir),
		logging.Duration("duration", time.Since(start)),
	)
	return nil
}

// Reset stops and removes leftover containers by name, then clears the job
// scratch directories. Missing or stopped containers are expected; any other
// docker failure fails the reset. On
// success the machine is Ready; on failure it is Unknown and the next job
// resets again.
func (s *Session) Reset(ctx context.Context, containers []string) error {
	if err := s.Advance(StateResetting); err != nil {
		return err
	}
	if err := s.reset(ctx, containers); err != nil {
		s.setState(StateUnknown)
		return err
	}
	return s.Advance(StateReady)
}

func (s *Session) reset(ctx context.Context, containers []string) error {
	docker := Quote(s.cfg.DockerBinary)
	for _, name := range containers {
		for _, verb := range []string{"stop", "rm"} {
			res, err := s.RunTolerant(ctx, fmt.Sprintf("%s %s %s", docker, verb, Quote(name)))
			if err != nil {
				return err
			}
			if res.ExitCode == 0 {
				continue
			}
			if !containerAbsent(res.Output()) {
				return services.Wrap(services.ErrRemoteExecution, component, "reset",
					fmt.Sprintf("docker %s %s exited %d: %s", verb, name, res.ExitCode, tail(res.Output())), nil)
			}
			s.logger.Debug("container cleanup skipped",
				logging.String("container", name),
				logging.String("action", verb),
				logging.String("output", tail(res.Output())),
			)
		}
	}
	samples := Quote(s.layout.Samples())
	outputs := Quote(s.layout.Outputs())
	cmd := fmt.Sprintf("rm -rf %s %s && mkdir -p %s %s", samples, outputs, samples, outputs)
	if _, err := s.Run(ctx, cmd, 0); err != nil {
		return err
	}
	s.logger.Debug("worker scratch cleared", logging.String("work_dir", s.layout.Root))
	return nil
}

// containerAbsent reports whether docker output says the container does not
// exist or is already stopped.
func containerAbsent(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "is not running")
}

// EnsureReady makes sure reference data is provisioned, running the configured
// setup command when the reference marker is absent. The check happens once
// per session.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.RLock()
	done := s.references
	s.mu.RUnlock()
	if done {
		return nil
	}

	if _, err := s.Run(ctx, "mkdir -p "+Quote(s.layout.References()), 0); err != nil {
		return err
	}
	marker := strings.TrimSpace(s.cfg.ReferenceMarker)
	if marker != "" {
		markerPath := s.layout.Join(marker)
		present, err := s.Exists(ctx, markerPath)
		if err != nil {
			return err
		}
		if !present {
			if strings.TrimSpace(s.cfg.SetupCommand) == "" {
				return services.Wrap(services.ErrRemoteExecution, component, "setup",
					fmt.Sprintf("reference marker %s missing and no setup command configured", markerPath), nil)
			}
			s.logger.Info("provisioning worker references",
				logging.String(logging.FieldEventType, "worker_setup"),
				logging.String("marker", markerPath),
			)
			setup := fmt.Sprintf("cd %s && %s && touch %s", Quote(s.layout.Root), s.cfg.SetupCommand, Quote(markerPath))
			if _, err := s.Run(ctx, setup, s.cfg.SetupTimeout); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	s.references = true
	s.mu.Unlock()
	return nil
}

// Close releases the transport.
func (s *Session) Close() error {
	if s.transport == nil {
		return nil
	}
	return s.transport.Close()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) exec(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	s.logger.Debug("running command", logging.String("command", command))
	res, err := s.transport.Run(ctx, command)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, services.Wrap(services.ErrTimeout, component, "run",
				fmt.Sprintf("%s exceeded %s", summarize(command), timeout), nil)
		}
		return res, services.Wrap(services.ErrRemoteExecution, component, "run", summarize(command), err)
	}
	return res, nil
}

func (s *Session) transferError(ctx context.Context, op, detail string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, component, op,
			fmt.Sprintf("%s exceeded %s", detail, s.cfg.TransferTimeout), err)
	}
	return services.Wrap(services.ErrTransfer, component, op, detail, err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// summarize keeps error messages readable when commands are long.
func summarize(command string) string {
	command = strings.Join(strings.Fields(command), " ")
	const limit = 160
	if len(command) <= limit {
		return command
	}
	return command[:limit] + "..."
}

func tail(output string) string {
	output = strings.TrimSpace(output)
	const limit = 512
	if len(output) <= limit {
		return output
	}
	return "..." + output[len(output)-limit:]
}
