// Package ledger records failed and skipped jobs in an append-only text file
// shared by every slot of a run.
package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// FileName is the ledger's name under the output root.
const FileName = "errors.txt"

// Entry is one recorded failure. JobID is empty for run-level problems.
type Entry struct {
	Time   time.Time
	JobID  string
	Kind   string
	Reason string
}

// Line renders the entry as written to the ledger file.
func (e Entry) Line() string {
	return fmt.Sprintf("%s\t%s\t%s", e.Time.UTC().Format(time.RFC3339), e.JobID, flatten(e.Reason))
}

// Ledger is safe for concurrent use. Entries are never rewritten.
type Ledger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	entries []Entry
	now     func() time.Time
}

// Open opens (or creates) the ledger file under root for appending.
func Open(root string) (*Ledger, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	path := filepath.Join(root, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	return &Ledger{path: path, file: f, now: time.Now}, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Append records one entry. Each entry is a single write so lines from
// different slots never interleave.
func (l *Ledger) Append(jobID, kind, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{Time: l.now(), JobID: jobID, Kind: kind, Reason: reason}
	l.entries = append(l.entries, entry)
	if l.file == nil {
		return fmt.Errorf("error log %s is closed", l.path)
	}
	if _, err := l.file.WriteString(entry.Line() + "\n"); err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	return nil
}

// Entries returns the entries appended through this ledger during the run.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// Len returns the number of entries appended during the run.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Close flushes and closes the file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func flatten(reason string) string {
	return strings.Join(strings.Fields(reason), " ")
}
