package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"workshop/internal/services"
)

const (
	// ColumnJobID names the manifest column holding the submitter-assigned job id.
	ColumnJobID = "Submitter Sample ID"
	// ColumnFilePath names the manifest column holding comma-separated input paths.
	ColumnFilePath = "File Path"
)

// Job is one manifest row: a sample to be processed end to end.
type Job struct {
	ID     string
	Inputs []string
	// Row is the 1-based manifest line the job came from.
	Row int
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string) ([]Job, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrManifestFormat, "manifest", "open", path, err)
	}
	defer file.Close()
	return Read(file)
}

// Read parses a tab-delimited manifest with a header row. A missing header, a
// missing required column, or a short row fails with services.ErrManifestFormat.
func Read(r io.Reader) ([]Job, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrManifestFormat, "manifest", "header", "manifest is empty", nil)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrManifestFormat, "manifest", "header", "unreadable header", err)
	}

	idCol, pathCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case ColumnJobID:
			idCol = i
		case ColumnFilePath:
			pathCol = i
		}
	}
	var missing []string
	if idCol < 0 {
		missing = append(missing, ColumnJobID)
	}
	if pathCol < 0 {
		missing = append(missing, ColumnFilePath)
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrManifestFormat, "manifest", "header",
			fmt.Sprintf("missing required column(s) %q", missing), nil)
	}
	need := max(idCol, pathCol) + 1

	var jobs []Job
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, services.Wrap(services.ErrManifestFormat, "manifest", "row", "unreadable row", err)
		}
		line, _ := reader.FieldPos(0)
		if isBlank(record) {
			continue
		}
		if len(record) < need {
			return nil, services.Wrap(services.ErrManifestFormat, "manifest", "row",
				fmt.Sprintf("line %d has %d fields, need at least %d", line, len(record), need), nil)
		}
		jobs = append(jobs, Job{
			ID:     strings.TrimSpace(record[idCol]),
			Inputs: SplitPaths(record[pathCol]),
			Row:    line,
		})
	}
	return jobs, nil
}

// SplitPaths splits a comma-separated path list, trimming entries and dropping
// empty ones.
func SplitPaths(value string) []string {
	parts := strings.Split(value, ",")
	paths := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	return paths
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
