package deps

import (
	"os"
	"path/filepath"
	"testing"

	"workshop/internal/config"
	"workshop/internal/fleet"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %s", results[2].Detail)
	}
	if missing := Missing(results); len(missing) != 2 {
		t.Fatalf("expected 2 missing requirements, got %#v", missing)
	}
}

func TestRequirementsByDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Fleet.DockerBinary = "/opt/docker"

	remote := Requirements(&cfg, []fleet.Slot{{Driver: fleet.DriverSSH, Endpoint: "10.0.0.1"}})
	if len(remote) != 0 {
		t.Fatalf("remote-only fleet should not require local binaries: %#v", remote)
	}

	local := Requirements(&cfg, []fleet.Slot{
		{Driver: fleet.DriverLocal, WorkDir: "/a"},
		{Driver: fleet.DriverLocal, WorkDir: "/b"},
	})
	if len(local) != 2 || local[0].Command != "sh" || local[1].Command != "/opt/docker" {
		t.Fatalf("unexpected local requirements: %#v", local)
	}
}
