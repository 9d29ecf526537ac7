package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"workshop/internal/fileutil"
)

const localWaitDelay = 2 * time.Second

// LocalTransport runs commands on the driver host with sh. It backs the
// local driver used for single-machine runs and tests.
type LocalTransport struct {
	root  string
	shell string
}

// NewLocalTransport prepares a transport rooted at workDir, creating it when missing.
func NewLocalTransport(workDir string) (*LocalTransport, error) {
	if workDir == "" {
		return nil, errors.New("local driver requires a work directory")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	return &LocalTransport{root: workDir, shell: "sh"}, nil
}

// Run executes command with sh -c from the work directory.
func (t *LocalTransport) Run(ctx context.Context, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, t.shell, "-c", command) //nolint:gosec
	cmd.Dir = t.root
	cmd.WaitDelay = localWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// Put copies localPath to remotePath through a verified temporary file.
func (t *LocalTransport) Put(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	tmp := remotePath + ".partial-" + uuid.NewString()[:8]
	if _, err := fileutil.CopyVerified(localPath, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, remotePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize copy: %w", err)
	}
	return nil
}

// Get copies remotePath into localDir, publishing it only after every file copied.
func (t *LocalTransport) Get(ctx context.Context, remotePath, localDir string) error {
	info, err := os.Stat(remotePath)
	if err != nil {
		return err
	}
	dest := filepath.Join(localDir, filepath.Base(remotePath))
	tmp := filepath.Join(localDir, "."+filepath.Base(remotePath)+".partial-"+uuid.NewString()[:8])
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	if !info.IsDir() {
		if _, err := fileutil.CopyVerified(remotePath, tmp); err != nil {
			return err
		}
		return publish(tmp, dest)
	}

	if _, err := fileutil.CopyTree(ctx, remotePath, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}
	return publish(tmp, dest)
}

// Close is a no-op for the local driver.
func (t *LocalTransport) Close() error { return nil }

func publish(tmp, dest string) error {
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("publish %s: %w", dest, err)
	}
	return nil
}
