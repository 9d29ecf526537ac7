package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workshop/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("WORKSHOP_OPERATOR", "alice")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantOutput := filepath.Join(tempHome, "workshop", "outputs")
	if cfg.Paths.OutputRoot != wantOutput {
		t.Fatalf("unexpected output root: got %q want %q", cfg.Paths.OutputRoot, wantOutput)
	}
	if cfg.Fleet.Inventory != filepath.Join(tempHome, ".config", "workshop", "fleet.yaml") {
		t.Fatalf("unexpected inventory path: %q", cfg.Fleet.Inventory)
	}
	if cfg.Fleet.WorkDir != "/mnt" {
		t.Fatalf("unexpected work dir: %q", cfg.Fleet.WorkDir)
	}
	if cfg.Workflow.Operator != "alice" {
		t.Fatalf("expected operator from env, got %q", cfg.Workflow.Operator)
	}
	if !cfg.Stages.PrimaryAnalysis || !cfg.Stages.QualityControl || !cfg.Stages.FusionAnalysis {
		t.Fatalf("expected every stage enabled by default: %+v", cfg.Stages)
	}
	if cfg.Stages.Prune {
		t.Fatal("expected prune disabled by default")
	}
	if len(cfg.Stages.Primary.Args) == 0 {
		t.Fatal("expected default primary args")
	}
	if cfg.Storage.S3Enabled {
		t.Fatal("expected S3 mirror disabled by default")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.OutputRoot, cfg.Paths.LogDir, cfg.Paths.StateDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "workshop.toml")
	outputRoot := filepath.Join(tempDir, "results")
	body := `
[paths]
output_root = "` + outputRoot + `"

[fleet]
work_dir = "/data/work/"
command_timeout = 30

[stages]
fusion_analysis = false
prune = true

[stages.primary]
image = "example/rnaseq:9"
args = ["--R1", "{{in:R1}}"]
intermediates = ["/tmp.bam/", ""]

[workflow]
limit = 5
operator = "bob"
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.OutputRoot != outputRoot {
		t.Fatalf("unexpected output root %q", cfg.Paths.OutputRoot)
	}
	if cfg.Fleet.WorkDir != "/data/work" {
		t.Fatalf("expected cleaned work dir, got %q", cfg.Fleet.WorkDir)
	}
	if cfg.CommandTimeout().Seconds() != 30 {
		t.Fatalf("unexpected command timeout %v", cfg.CommandTimeout())
	}
	if cfg.Stages.FusionAnalysis {
		t.Fatal("expected fusion disabled")
	}
	if !cfg.Stages.Prune {
		t.Fatal("expected prune enabled")
	}
	if cfg.Stages.Primary.Image != "example/rnaseq:9" {
		t.Fatalf("unexpected primary image %q", cfg.Stages.Primary.Image)
	}
	if len(cfg.Stages.Primary.Args) != 2 {
		t.Fatalf("expected args replaced, got %v", cfg.Stages.Primary.Args)
	}
	if len(cfg.Stages.Primary.Intermediates) != 1 || cfg.Stages.Primary.Intermediates[0] != "tmp.bam" {
		t.Fatalf("unexpected intermediates %v", cfg.Stages.Primary.Intermediates)
	}
	if cfg.Stages.QC.Image == "" {
		t.Fatal("expected qc image default to survive partial override")
	}
	if cfg.Workflow.Limit != 5 || cfg.Workflow.Operator != "bob" {
		t.Fatalf("unexpected workflow section %+v", cfg.Workflow)
	}
}

func TestLoadStageOutputs(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "workshop.toml")
	body := `
[paths]
output_root = "` + filepath.Join(t.TempDir(), "results") + `"

[stages.fusion.outputs]
predictions = "/calls/predictions.tsv/"
everything = " "
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	outputs := cfg.Stages.Fusion.Outputs
	if outputs["predictions"] != "calls/predictions.tsv" || outputs["everything"] != "." {
		t.Fatalf("unexpected normalized outputs %v", outputs)
	}
	if cfg.Stages.Primary.Outputs != nil {
		t.Fatalf("expected no primary outputs, got %v", cfg.Stages.Primary.Outputs)
	}

	cfg.Stages.Fusion.Outputs["escape"] = "../elsewhere"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "stages.fusion.outputs.escape") {
		t.Fatalf("expected escaping output to be rejected, got %v", err)
	}
}

func TestValidateRejectsAllStagesDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.OutputRoot = t.TempDir()
	cfg.Stages.PrimaryAnalysis = false
	cfg.Stages.QualityControl = false
	cfg.Stages.FusionAnalysis = false
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "at least one") {
		t.Fatalf("expected stage validation error, got %v", err)
	}
}

func TestValidateRequiresBucketWhenMirrorEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.OutputRoot = t.TempDir()
	cfg.Storage.S3Enabled = true
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "s3_bucket") {
		t.Fatalf("expected bucket validation error, got %v", err)
	}
	cfg.Storage.S3Bucket = "results"
	cfg.Storage.S3AccessKey = "key"
	cfg.Storage.S3SecretKey = "secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid mirror config, got %v", err)
	}
}

func TestValidateRejectsRelativeWorkDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.OutputRoot = t.TempDir()
	cfg.Fleet.WorkDir = "mnt"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected relative work dir to be rejected")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Stages.AlignmentArtifact != "sorted.bam" {
		t.Fatalf("unexpected alignment artifact %q", cfg.Stages.AlignmentArtifact)
	}
	encoded, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !strings.Contains(encoded, "output_root") {
		t.Fatalf("expected encoded config to include output_root, got %q", encoded)
	}
}
