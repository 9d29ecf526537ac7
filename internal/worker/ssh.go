package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"workshop/internal/fleet"
)

const sshDialTimeout = 30 * time.Second

// SSHTransport reaches a worker over a single multiplexed SSH connection.
// Every command and transfer opens its own channel.
type SSHTransport struct {
	client *ssh.Client
	addr   string
	agent  io.Closer
}

// DialSSH opens a connection to slot using the fleet's user and port defaults.
// Endpoints may carry their own user@ prefix and :port suffix.
func DialSSH(ctx context.Context, cfg fleet.Config, slot fleet.Slot) (*SSHTransport, error) {
	user, host := splitUser(slot.Endpoint, cfg.SSHUser)
	addr := endpointAddress(host, cfg.SSHPort)

	auth, agentConn, err := authMethods(slot.KeyPath)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg.KnownHosts)
	if err != nil {
		closeQuietly(agentConn)
		return nil, err
	}

	dialer := net.Dialer{Timeout: sshDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeQuietly(agentConn)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	clientCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         sshDialTimeout,
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		_ = conn.Close()
		closeQuietly(agentConn)
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return &SSHTransport{client: ssh.NewClient(c, chans, reqs), addr: addr, agent: agentConn}, nil
}

// Run executes command in a new SSH session.
func (t *SSHTransport) Run(ctx context.Context, command string) (Result, error) {
	sess, err := t.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	err = waitSession(ctx, sess, func() error { return sess.Run(command) })
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	}
	return res, err
}

// Put streams localPath into a temporary file beside remotePath, renames it
// into place, and checks the byte count the worker reports.
func (t *SSHTransport) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	sess, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	tmp := remotePath + ".partial-" + uuid.NewString()[:8]
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && mv %s %s && wc -c < %s",
		Quote(path.Dir(remotePath)), Quote(tmp), Quote(tmp), Quote(remotePath), Quote(remotePath))
	var stdout, stderr bytes.Buffer
	sess.Stdin = f
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if err := waitSession(ctx, sess, func() error { return sess.Run(cmd) }); err != nil {
		t.cleanup(ctx, tmp)
		return fmt.Errorf("upload %s: %w: %s", localPath, err, strings.TrimSpace(stderr.String()))
	}
	written, err := strconv.ParseInt(strings.TrimSpace(stdout.String()), 10, 64)
	if err != nil || written != info.Size() {
		t.cleanup(ctx, remotePath)
		return fmt.Errorf("upload %s: size mismatch: local %d bytes, remote %q", localPath, info.Size(), strings.TrimSpace(stdout.String()))
	}
	return nil
}

// Get streams remotePath as a tar archive and extracts it under localDir.
// The result appears at localDir/<base> only after the archive was fully read
// and the remote tar exited zero.
func (t *SSHTransport) Get(ctx context.Context, remotePath, localDir string) error {
	sess, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	stdout, err := sess.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	sess.Stderr = &stderr

	base := path.Base(remotePath)
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	tmp, err := os.MkdirTemp(localDir, "."+base+".partial-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	// -h archives what symlinks point at; a dangling link makes tar exit non-zero.
	cmd := fmt.Sprintf("tar -h -C %s -cf - %s", Quote(path.Dir(remotePath)), Quote(base))
	if err := sess.Start(cmd); err != nil {
		return fmt.Errorf("start tar: %w", err)
	}
	err = waitSession(ctx, sess, func() error {
		if err := extractTar(stdout, tmp); err != nil {
			_ = sess.Close()
			return err
		}
		return sess.Wait()
	})
	if err != nil {
		return fmt.Errorf("download %s: %w: %s", remotePath, err, strings.TrimSpace(stderr.String()))
	}
	return publish(filepath.Join(tmp, base), filepath.Join(localDir, base))
}

// Close tears down the connection.
func (t *SSHTransport) Close() error {
	closeQuietly(t.agent)
	return t.client.Close()
}

func (t *SSHTransport) cleanup(ctx context.Context, remotePath string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_, _ = t.Run(cleanupCtx, "rm -f "+Quote(remotePath))
}

// waitSession runs fn and kills the remote process if ctx ends first.
func waitSession(ctx context.Context, sess *ssh.Session, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return ctx.Err()
	}
}

func authMethods(keyPath string) ([]ssh.AuthMethod, io.Closer, error) {
	if strings.TrimSpace(keyPath) != "" {
		pem, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil, nil
	}
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, errors.New("no key_path configured and SSH_AUTH_SOCK is unset")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("connect ssh agent: %w", err)
	}
	client := agent.NewClient(conn)
	return []ssh.AuthMethod{ssh.PublicKeysCallback(client.Signers)}, conn, nil
}

func hostKeyCallback(knownHosts string) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHosts) == "" {
		// Host keys are only checked when known_hosts is configured.
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	cb, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}

func splitUser(endpoint, fallback string) (string, string) {
	if user, host, ok := strings.Cut(endpoint, "@"); ok && user != "" {
		return user, host
	}
	return fallback, endpoint
}

func endpointAddress(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
