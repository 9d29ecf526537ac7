package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for the driver host.
type Paths struct {
	OutputRoot string `toml:"output_root"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// Fleet describes how worker machines are reached and laid out.
type Fleet struct {
	Inventory       string `toml:"inventory"`
	SSHUser         string `toml:"ssh_user"`
	SSHPort         int    `toml:"ssh_port"`
	KnownHosts      string `toml:"known_hosts"`
	WorkDir         string `toml:"work_dir"`
	DockerBinary    string `toml:"docker_binary"`
	CommandTimeout  int    `toml:"command_timeout"`
	TransferTimeout int    `toml:"transfer_timeout"`
	// SetupCommand provisions reference data on a worker whose ReferenceMarker
	// is missing. It is run once per worker per run.
	SetupCommand    string `toml:"setup_command"`
	SetupTimeout    int    `toml:"setup_timeout"`
	ReferenceMarker string `toml:"reference_marker"`
}

// StageImage configures one containerized pipeline stage.
type StageImage struct {
	Image         string   `toml:"image"`
	Args          []string `toml:"args"`
	Intermediates []string `toml:"intermediates"`
	// Outputs names the files or directories a stage must leave in its output
	// directory, relative to it. Empty collects the whole directory.
	Outputs map[string]string `toml:"outputs,omitempty"`
}

// Stages selects and configures the pipeline stages.
type Stages struct {
	PrimaryAnalysis     bool       `toml:"primary_analysis"`
	QualityControl      bool       `toml:"quality_control"`
	FusionAnalysis      bool       `toml:"fusion_analysis"`
	Prune               bool       `toml:"prune"`
	Timeout             int        `toml:"timeout"`
	RequireIDInFilename bool       `toml:"require_id_in_filename"`
	AlignmentArtifact   string     `toml:"alignment_artifact"`
	Primary             StageImage `toml:"primary"`
	QC                  StageImage `toml:"qc"`
	Fusion              StageImage `toml:"fusion"`
}

// Storage contains the optional S3 mirror for published results.
type Storage struct {
	S3Enabled   bool   `toml:"s3_enabled"`
	S3Bucket    string `toml:"s3_bucket"`
	S3Prefix    string `toml:"s3_prefix"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
}

// Workflow contains per-run driver settings.
type Workflow struct {
	Limit      int    `toml:"limit"`
	Operator   string `toml:"operator"`
	StatusAddr string `toml:"status_addr"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for workshop.
//
// Configuration sections by subsystem:
//   - Paths: result root, log and state directories on the driver host
//   - Fleet: inventory file, ssh access, worker layout, timeouts, setup
//   - Stages: enabled stages, pruning, container images and arguments
//   - Storage: optional S3 mirror of published results
//   - Workflow: processing limit, operator identity, status server
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Fleet    Fleet    `toml:"fleet"`
	Stages   Stages   `toml:"stages"`
	Storage  Storage  `toml:"storage"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("workshop.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the driver-side directories a run writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputRoot, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CommandTimeout bounds every non-container remote command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Fleet.CommandTimeout) * time.Second
}

// TransferTimeout bounds each file transfer to or from a worker.
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Fleet.TransferTimeout) * time.Second
}

// SetupTimeout bounds the one-time reference setup command.
func (c *Config) SetupTimeout() time.Duration {
	return time.Duration(c.Fleet.SetupTimeout) * time.Second
}

// StageTimeout bounds each container run.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Stages.Timeout) * time.Second
}

// RunStorePath returns the SQLite run history location.
func (c *Config) RunStorePath() string {
	return filepath.Join(c.Paths.StateDir, "runs.db")
}

// RunLogPath returns the log file for one driver run. Names sort by start time.
func (c *Config) RunLogPath(runID string) string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("run-%s-%s.log", time.Now().UTC().Format("20060102T150405"), short)
	return filepath.Join(c.Paths.LogDir, name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	var b strings.Builder
	encoder := toml.NewEncoder(&b)
	encoder.SetIndentTables(true)
	if err := encoder.Encode(c); err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return b.String(), nil
}
