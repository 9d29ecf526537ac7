package worker

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractTar unpacks regular files and directories from r into dir. Hard
// links become copies of the file they name. The sender dereferences symlinks,
// so a symlink or special entry means the tree could not be reproduced and
// fails the extraction, as does any entry that would escape dir.
func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		target, err := entryPath(dir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.Size); err != nil {
				return err
			}
		case tar.TypeLink:
			source, err := entryPath(dir, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := copyEntry(source, target); err != nil {
				return fmt.Errorf("archive entry %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			return fmt.Errorf("archive entry %s is a symlink to %s that was not dereferenced", hdr.Name, hdr.Linkname)
		default:
			return fmt.Errorf("archive entry %s has unsupported type %q", hdr.Name, hdr.Typeflag)
		}
	}
}

func entryPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return filepath.Join(dir, clean), nil
}

func copyEntry(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	return writeEntry(in, target, info.Size())
}

func writeEntry(r io.Reader, target string, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	written, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if written != size {
		return fmt.Errorf("archive entry %s truncated: %d of %d bytes", target, written, size)
	}
	return nil
}
