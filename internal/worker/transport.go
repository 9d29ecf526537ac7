package worker

import (
	"context"
	"strings"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output returns stdout and stderr joined for diagnostics.
func (r Result) Output() string {
	out := strings.TrimSpace(r.Stdout)
	errOut := strings.TrimSpace(r.Stderr)
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// Transport moves commands and files to one machine. Run returns a nil error
// for any command that completed, whatever its exit code; errors are reserved
// for connection and context failures. Put and Get must never leave a partial
// file at the destination path.
type Transport interface {
	Run(ctx context.Context, command string) (Result, error)
	// Put copies a local file to remotePath, creating parent directories.
	Put(ctx context.Context, localPath, remotePath string) error
	// Get copies remotePath (file or directory) to localDir/<base of remotePath>.
	Get(ctx context.Context, remotePath, localDir string) error
	Close() error
}

// Quote returns s as a single POSIX shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=,+@%", r)
}
