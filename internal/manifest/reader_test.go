package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workshop/internal/manifest"
	"workshop/internal/services"
)

func TestReadParsesRequiredColumns(t *testing.T) {
	input := strings.Join([]string{
		"Notes\tSubmitter Sample ID\tFile Path",
		"first\tA\t/data/a_R1.fq, /data/a_R2.fq",
		"",
		"second\tB\t/data/b_R1.fq,/data/b_R2.fq,",
	}, "\n") + "\n"

	jobs, err := manifest.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "A" || len(jobs[0].Inputs) != 2 || jobs[0].Inputs[1] != "/data/a_R2.fq" {
		t.Fatalf("unexpected first job %+v", jobs[0])
	}
	if jobs[0].Row != 2 {
		t.Fatalf("expected row 2, got %d", jobs[0].Row)
	}
	if jobs[1].ID != "B" || len(jobs[1].Inputs) != 2 {
		t.Fatalf("unexpected second job %+v", jobs[1])
	}
	if jobs[1].Row != 4 {
		t.Fatalf("expected row 4 after blank line, got %d", jobs[1].Row)
	}
}

func TestReadMissingColumnIsFormatError(t *testing.T) {
	_, err := manifest.Read(strings.NewReader("Submitter Sample ID\tsamples\nA\t/x\n"))
	if !errors.Is(err, services.ErrManifestFormat) {
		t.Fatalf("expected manifest format error, got %v", err)
	}
	if !strings.Contains(err.Error(), "File Path") {
		t.Fatalf("expected missing column named, got %v", err)
	}
}

func TestReadEmptyManifest(t *testing.T) {
	if _, err := manifest.Read(strings.NewReader("")); !errors.Is(err, services.ErrManifestFormat) {
		t.Fatalf("expected manifest format error, got %v", err)
	}
}

func TestReadShortRow(t *testing.T) {
	_, err := manifest.Read(strings.NewReader("Submitter Sample ID\tFile Path\nA\n"))
	if !errors.Is(err, services.ErrManifestFormat) {
		t.Fatalf("expected manifest format error, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected line number in error, got %v", err)
	}
}

func TestReadHeaderOnly(t *testing.T) {
	jobs, err := manifest.Read(strings.NewReader("Submitter Sample ID\tFile Path\n"))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := manifest.ReadFile(filepath.Join(t.TempDir(), "absent.tsv"))
	if !errors.Is(err, services.ErrManifestFormat) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist format error, got %v", err)
	}
}
