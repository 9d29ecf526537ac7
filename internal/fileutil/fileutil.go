// Package fileutil copies files and directory trees with integrity checks.
package fileutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// CopyVerified streams src to dst, keeping the source permission bits, and
// compares size and SHA-256 of what was read against what was written. dst
// is removed on any failure.
func CopyVerified(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	written, err := copyVerified(src, dst, info)
	if err != nil {
		_ = os.Remove(dst)
		return 0, err
	}
	return written, nil
}

func copyVerified(src, dst string, info fs.FileInfo) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = out.Close()
	}()

	read := sha256.New()
	wrote := sha256.New()
	written, err := io.Copy(io.MultiWriter(out, wrote), io.TeeReader(in, read))
	if err != nil {
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if written != info.Size() {
		return 0, fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	if !bytes.Equal(read.Sum(nil), wrote.Sum(nil)) {
		return 0, fmt.Errorf("copy hash mismatch: %s corrupted during copy", filepath.Base(src))
	}
	return written, nil
}

// CopyTree copies the directory src to dst with CopyVerified, recreating
// subdirectories. Symlinks are followed so the copy holds the files they point
// at; a dangling link, a directory cycle, or a special file fails the copy. It
// returns the number of files copied.
func CopyTree(ctx context.Context, src, dst string) (int, error) {
	c := treeCopier{ctx: ctx, visiting: make(map[string]bool)}
	if err := c.copyDir(src, dst, "."); err != nil {
		return c.files, err
	}
	return c.files, nil
}

type treeCopier struct {
	ctx      context.Context
	files    int
	visiting map[string]bool
}

func (c *treeCopier) copyDir(src, dst, rel string) error {
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", rel, err)
	}
	if c.visiting[resolved] {
		return fmt.Errorf("copy %s: symlink cycle back to %s", rel, resolved)
	}
	c.visiting[resolved] = true
	defer delete(c.visiting, resolved)

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		from := filepath.Join(src, name)
		to := filepath.Join(dst, name)
		entryRel := filepath.Join(rel, name)

		// Stat follows symlinks.
		info, err := os.Stat(from)
		if err != nil {
			return fmt.Errorf("copy %s: %w", entryRel, err)
		}
		switch {
		case info.IsDir():
			if err := c.copyDir(from, to, entryRel); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if _, err := CopyVerified(from, to); err != nil {
				return fmt.Errorf("copy %s: %w", entryRel, err)
			}
			c.files++
		default:
			return fmt.Errorf("copy %s: unsupported file type %s", entryRel, info.Mode().Type())
		}
	}
	return nil
}
