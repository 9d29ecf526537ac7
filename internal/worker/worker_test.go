package worker_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workshop/internal/config"
	"workshop/internal/fleet"
	"workshop/internal/logging"
	"workshop/internal/services"
	"workshop/internal/testsupport"
	"workshop/internal/worker"
)

func newLocalSession(t *testing.T, cfg *config.Config) *worker.Session {
	t.Helper()
	slots := testsupport.LocalSlots(cfg, 1)
	fc := fleet.NewConfig(cfg, slots)
	session, err := worker.Dial(context.Background(), fc, fc.Slots()[0], logging.NewNop())
	if err != nil {
		t.Fatalf("Dial returned error: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to worker.State
		want     bool
	}{
		{worker.StateUnknown, worker.StateResetting, true},
		{worker.StateUnknown, worker.StateStaging, false},
		{worker.StateResetting, worker.StateReady, true},
		{worker.StateReady, worker.StateStaging, true},
		{worker.StateReady, worker.StateExecuting, false},
		{worker.StateStaging, worker.StateExecuting, true},
		{worker.StateExecuting, worker.StateCollecting, true},
		{worker.StateCollecting, worker.StateStaging, false},
		{worker.StateCollecting, worker.StateReady, true},
	}
	for _, tc := range cases {
		if got := worker.CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedDocker())
	session := newLocalSession(t, cfg)
	ctx := context.Background()

	if session.State() != worker.StateUnknown {
		t.Fatalf("expected new session to be unknown, got %s", session.State())
	}
	if err := session.Advance(worker.StateStaging); err == nil {
		t.Fatal("expected staging from unknown to be rejected")
	}

	layout := session.Layout()
	testsupport.WriteFile(t, filepath.Join(layout.Samples(), "stale.fq"), 8)
	testsupport.WriteFile(t, filepath.Join(layout.StageOutput("primary-analysis"), "old.txt"), 8)

	if err := session.Reset(ctx, []string{"workshop-primary-analysis"}); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if session.State() != worker.StateReady {
		t.Fatalf("expected ready after reset, got %s", session.State())
	}
	for _, dir := range []string{layout.Samples(), layout.Outputs()} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Fatalf("expected %s to be empty after reset, found %d entries", dir, len(entries))
		}
	}

	for _, next := range []worker.State{worker.StateStaging, worker.StateExecuting, worker.StateCollecting, worker.StateReady} {
		if err := session.Advance(next); err != nil {
			t.Fatalf("Advance(%s) returned error: %v", next, err)
		}
	}

	if err := session.Advance(worker.StateStaging); err != nil {
		t.Fatalf("Advance(staging) returned error: %v", err)
	}
	session.EndJob()
	if session.State() != worker.StateReady {
		t.Fatalf("expected EndJob to return to ready, got %s", session.State())
	}
}

func TestSessionRunFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	session := newLocalSession(t, cfg)
	ctx := context.Background()

	if _, err := session.Run(ctx, "echo boom >&2; exit 4", 0); !errors.Is(err, services.ErrRemoteExecution) {
		t.Fatalf("expected remote execution error, got %v", err)
	} else if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected stderr in error, got %v", err)
	}

	res, err := session.RunTolerant(ctx, "exit 4")
	if err != nil {
		t.Fatalf("RunTolerant returned error: %v", err)
	}
	if res.ExitCode != 4 {
		t.Fatalf("expected exit code 4, got %d", res.ExitCode)
	}

	start := time.Now()
	_, err = session.Run(ctx, "sleep 5", 100*time.Millisecond)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout did not interrupt the command")
	}
}

func TestSessionExists(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	session := newLocalSession(t, cfg)
	ctx := context.Background()

	target := session.Layout().Sample("a_R1.fq")
	ok, err := session.Exists(ctx, target)
	if err != nil || ok {
		t.Fatalf("expected missing file, got %v, %v", ok, err)
	}
	testsupport.WriteFile(t, target, 4)
	ok, err = session.Exists(ctx, target)
	if err != nil || !ok {
		t.Fatalf("expected existing file, got %v, %v", ok, err)
	}
}

func TestSessionTransfers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	session := newLocalSession(t, cfg)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "a_R1.fq")
	testsupport.WriteFile(t, src, 70*1024)
	dest := session.Layout().Sample("a_R1.fq")
	if err := session.Put(ctx, src, dest); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() != 70*1024 {
		t.Fatalf("unexpected staged file: %v %v", info, err)
	}

	stageDir := session.Layout().StageOutput("fusion-analysis")
	testsupport.WriteFile(t, filepath.Join(stageDir, "nested", "fusions.tsv"), 10)
	local := t.TempDir()
	if err := session.Get(ctx, stageDir, local); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(local, "fusion-analysis", "nested", "fusions.tsv")); err != nil {
		t.Fatalf("expected retrieved file: %v", err)
	}
	entries, _ := os.ReadDir(local)
	if len(entries) != 1 {
		t.Fatalf("expected only the published directory, found %d entries", len(entries))
	}

	err = session.Get(ctx, session.Layout().StageOutput("missing"), local)
	if !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(local, "missing")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no partial output, got %v", statErr)
	}

	if err := session.Put(ctx, filepath.Join(t.TempDir(), "absent.fq"), dest); !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer error for missing source, got %v", err)
	}
}

func TestEnsureReadyRunsSetupOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Fleet.SetupCommand = "echo provisioned >> setup.log"
	session := newLocalSession(t, cfg)
	ctx := context.Background()

	for range 2 {
		if err := session.EnsureReady(ctx); err != nil {
			t.Fatalf("EnsureReady returned error: %v", err)
		}
	}
	data, err := os.ReadFile(session.Layout().Join("setup.log"))
	if err != nil {
		t.Fatalf("read setup log: %v", err)
	}
	if strings.Count(string(data), "provisioned") != 1 {
		t.Fatalf("expected setup to run once, got %q", data)
	}
	if _, err := os.Stat(session.Layout().Join(cfg.Fleet.ReferenceMarker)); err != nil {
		t.Fatalf("expected reference marker: %v", err)
	}
}

func TestEnsureReadyWithoutSetupCommandFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Fleet.SetupCommand = ""
	session := newLocalSession(t, cfg)

	if err := session.EnsureReady(context.Background()); !errors.Is(err, services.ErrRemoteExecution) {
		t.Fatalf("expected remote execution error, got %v", err)
	}
}

type brokenTransport struct {
	commands []string
	// dockerErr is docker's stderr for stop and rm.
	dockerErr string
}

func (b *brokenTransport) Run(_ context.Context, command string) (worker.Result, error) {
	b.commands = append(b.commands, command)
	if strings.HasPrefix(command, "rm -rf") {
		return worker.Result{Stderr: "read-only file system", ExitCode: 1}, nil
	}
	return worker.Result{Stderr: b.dockerErr, ExitCode: 1}, nil
}

func (b *brokenTransport) Put(context.Context, string, string) error { return errors.New("unused") }

func (b *brokenTransport) Get(context.Context, string, string) error { return errors.New("unused") }

func (b *brokenTransport) Close() error { return nil }

func TestResetFailureLeavesMachineUnknown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fc := fleet.NewConfig(cfg, []fleet.Slot{{Name: "w0", Endpoint: "10.0.0.5"}})
	transport := &brokenTransport{dockerErr: "Error response from daemon: No such container: workshop-quality-control"}
	session := worker.NewSession(fc, fc.Slots()[0], transport, logging.NewNop())

	err := session.Reset(context.Background(), []string{"workshop-quality-control"})
	if !errors.Is(err, services.ErrRemoteExecution) {
		t.Fatalf("expected remote execution error, got %v", err)
	}
	if session.State() != worker.StateUnknown {
		t.Fatalf("expected unknown after failed reset, got %s", session.State())
	}
	if len(transport.commands) != 3 {
		t.Fatalf("expected stop, rm and clear commands, got %q", transport.commands)
	}
	if !strings.Contains(transport.commands[0], "stop workshop-quality-control") {
		t.Fatalf("unexpected first command %q", transport.commands[0])
	}
}

func TestResetFailsWhenDockerIsUnreachable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fc := fleet.NewConfig(cfg, []fleet.Slot{{Name: "w0", Endpoint: "10.0.0.5"}})
	transport := &brokenTransport{dockerErr: "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?"}
	session := worker.NewSession(fc, fc.Slots()[0], transport, logging.NewNop())

	err := session.Reset(context.Background(), []string{"workshop-primary-analysis"})
	if !errors.Is(err, services.ErrRemoteExecution) {
		t.Fatalf("expected remote execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
		t.Fatalf("expected docker output in error, got %v", err)
	}
	if session.State() != worker.StateUnknown {
		t.Fatalf("expected unknown after failed reset, got %s", session.State())
	}
	if len(transport.commands) != 1 {
		t.Fatalf("expected reset to stop at the failed docker stop, got %q", transport.commands)
	}
}

func TestResetToleratesStoppedContainers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	fc := fleet.NewConfig(cfg, []fleet.Slot{{Name: "w0", Endpoint: "10.0.0.5"}})
	transport := &brokenTransport{dockerErr: "Error response from daemon: container 4f2a is not running"}
	session := worker.NewSession(fc, fc.Slots()[0], transport, logging.NewNop())

	err := session.Reset(context.Background(), []string{"workshop-fusion-analysis"})
	// Only the scratch clear fails here; both docker steps were tolerated.
	if err == nil || !strings.Contains(err.Error(), "read-only file system") {
		t.Fatalf("expected the scratch clear to be reached, got %v", err)
	}
	if len(transport.commands) != 3 {
		t.Fatalf("expected stop, rm and clear commands, got %q", transport.commands)
	}
}

func TestSessionGetDereferencesSymlinks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	session := newLocalSession(t, cfg)
	ctx := context.Background()

	stageDir := session.Layout().StageOutput("fusion-analysis")
	testsupport.WriteFile(t, filepath.Join(stageDir, "real.tsv"), 12)
	if err := os.Symlink("real.tsv", filepath.Join(stageDir, "predictions.tsv")); err != nil {
		t.Fatal(err)
	}
	local := t.TempDir()
	if err := session.Get(ctx, stageDir, local); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	info, err := os.Lstat(filepath.Join(local, "fusion-analysis", "predictions.tsv"))
	if err != nil || !info.Mode().IsRegular() || info.Size() != 12 {
		t.Fatalf("expected linked result copied as a 12 byte file: %v %v", info, err)
	}

	if err := os.Symlink("gone.tsv", filepath.Join(stageDir, "dangling.tsv")); err != nil {
		t.Fatal(err)
	}
	again := t.TempDir()
	if err := session.Get(ctx, stageDir, again); !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer error for a dangling link, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(again, "fusion-analysis")); !os.IsNotExist(err) {
		t.Fatalf("expected nothing published after a failed transfer, got %v", err)
	}
}

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"":                 "''",
		"/mnt/samples":     "/mnt/samples",
		"with space":       "'with space'",
		"it's":             `'it'\''s'`,
		"$(rm -rf /)":      "'$(rm -rf /)'",
		"image:1.0@sha256": "image:1.0@sha256",
	}
	for in, want := range cases {
		if got := worker.Quote(in); got != want {
			t.Fatalf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}
