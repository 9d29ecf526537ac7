package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// ProvenanceFile is the record's name inside a job's result directory.
const ProvenanceFile = "provenance.json"

// Record is the audit trail of one completed job. Pipelines lists the images
// that actually ran, in execution order.
type Record struct {
	User      string
	Start     time.Time
	End       time.Time
	Inputs    []string
	Pipelines []string
}

type recordFile struct {
	User      string   `json:"user"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Inputs    []string `json:"inputs"`
	Pipelines []string `json:"pipelines"`
}

// NewRecord starts a record when a job begins processing.
func NewRecord(user string, start time.Time, inputs []string) Record {
	return Record{User: user, Start: start, Inputs: slices.Clone(inputs), Pipelines: []string{}}
}

// AddPipeline appends an executed image.
func (r *Record) AddPipeline(image string) {
	r.Pipelines = append(r.Pipelines, image)
}

// Finish stamps the end time.
func (r *Record) Finish(end time.Time) {
	r.End = end
}

func writeRecord(path string, record Record) error {
	payload := recordFile{
		User:      record.User,
		Start:     record.Start.UTC().Format(time.RFC3339),
		End:       record.End.UTC().Format(time.RFC3339),
		Inputs:    nonNil(record.Inputs),
		Pipelines: nonNil(record.Pipelines),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	data = append(data, '\n')
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadProvenance loads a provenance record from a result directory.
func ReadProvenance(jobDir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(jobDir, ProvenanceFile))
	if err != nil {
		return Record{}, err
	}
	var payload recordFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return Record{}, fmt.Errorf("decode provenance: %w", err)
	}
	start, err := time.Parse(time.RFC3339, payload.Start)
	if err != nil {
		return Record{}, fmt.Errorf("provenance start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, payload.End)
	if err != nil {
		return Record{}, fmt.Errorf("provenance end: %w", err)
	}
	return Record{User: payload.User, Start: start, End: end, Inputs: payload.Inputs, Pipelines: payload.Pipelines}, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
