package fileutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	content := []byte("verified copy content")
	if err := os.WriteFile(src, content, 0o755); err != nil {
		t.Fatal(err)
	}

	n, err := CopyVerified(src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) {
		t.Fatalf("copied %d bytes, want %d", n, len(content))
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	// umask may clear some bits, but execute should survive for the owner.
	if info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable bit preserved, got %o", info.Mode().Perm())
	}
}

func TestCopyVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "dst.bin")
	if _, err := CopyVerified(filepath.Join(dir, "nope"), dst); err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Fatalf("expected no destination file, stat err=%v", err)
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	for name, body := range map[string]string{
		"result.txt":        "ok",
		"nested/deep/a.tsv": "a\tb",
	} {
		path := filepath.Join(src, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(src, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("result.txt", filepath.Join(src, "link")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	files, err := CopyTree(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if files != 3 {
		t.Fatalf("expected 3 files copied, got %d", files)
	}
	got, err := os.ReadFile(filepath.Join(dst, "nested", "deep", "a.tsv"))
	if err != nil || string(got) != "a\tb" {
		t.Fatalf("nested file not copied: %q %v", got, err)
	}
	if info, err := os.Stat(filepath.Join(dst, "empty")); err != nil || !info.IsDir() {
		t.Fatalf("expected empty dir recreated: %v", err)
	}
	info, err := os.Lstat(filepath.Join(dst, "link"))
	if err != nil || !info.Mode().IsRegular() {
		t.Fatalf("expected symlink copied as a regular file: %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(dst, "link")); string(got) != "ok" {
		t.Fatalf("symlink target content not copied: %q", got)
	}
}

func TestCopyTreeFollowsDirectoryLinks(t *testing.T) {
	src := t.TempDir()
	linked := filepath.Join(t.TempDir(), "calls")
	if err := os.MkdirAll(linked, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(linked, "fusions.tsv"), []byte("ETV6--RUNX1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(linked, filepath.Join(src, "calls")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "copy")
	if _, err := CopyTree(context.Background(), src, dst); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}
	if got, err := os.ReadFile(filepath.Join(dst, "calls", "fusions.tsv")); err != nil || string(got) != "ETV6--RUNX1" {
		t.Fatalf("linked directory not copied: %q %v", got, err)
	}
}

func TestCopyTreeFailsOnBrokenLinks(t *testing.T) {
	src := t.TempDir()
	if err := os.Symlink("missing.tsv", filepath.Join(src, "predictions.tsv")); err != nil {
		t.Fatal(err)
	}
	if _, err := CopyTree(context.Background(), src, filepath.Join(t.TempDir(), "copy")); err == nil {
		t.Fatal("expected dangling symlink to fail the copy")
	}
}

func TestCopyTreeFailsOnCycles(t *testing.T) {
	src := t.TempDir()
	if err := os.Symlink(".", filepath.Join(src, "loop")); err != nil {
		t.Fatal(err)
	}
	if _, err := CopyTree(context.Background(), src, filepath.Join(t.TempDir(), "copy")); err == nil {
		t.Fatal("expected symlink cycle to fail the copy")
	}
}

func TestCopyTreeCancelled(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CopyTree(ctx, src, filepath.Join(t.TempDir(), "copy")); err == nil {
		t.Fatal("expected cancellation error")
	}
}
