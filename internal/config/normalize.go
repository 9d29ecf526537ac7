package config

import (
	"fmt"
	"os"
	"os/user"
	"path"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeFleet(); err != nil {
		return err
	}
	c.normalizeStages()
	c.normalizeStorage()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.OutputRoot, err = expandPath(c.Paths.OutputRoot); err != nil {
		return fmt.Errorf("paths.output_root: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeFleet() error {
	var err error
	if strings.TrimSpace(c.Fleet.Inventory) == "" {
		c.Fleet.Inventory = defaultInventory
	}
	if c.Fleet.Inventory, err = expandPath(c.Fleet.Inventory); err != nil {
		return fmt.Errorf("fleet.inventory: %w", err)
	}
	if strings.TrimSpace(c.Fleet.KnownHosts) != "" {
		if c.Fleet.KnownHosts, err = expandPath(c.Fleet.KnownHosts); err != nil {
			return fmt.Errorf("fleet.known_hosts: %w", err)
		}
	}
	c.Fleet.SSHUser = strings.TrimSpace(c.Fleet.SSHUser)
	if c.Fleet.SSHUser == "" {
		c.Fleet.SSHUser = defaultSSHUser
	}
	if c.Fleet.SSHPort <= 0 {
		c.Fleet.SSHPort = defaultSSHPort
	}
	// Worker paths are remote POSIX paths; never run them through filepath.
	c.Fleet.WorkDir = strings.TrimSpace(c.Fleet.WorkDir)
	if c.Fleet.WorkDir == "" {
		c.Fleet.WorkDir = defaultWorkDir
	}
	c.Fleet.WorkDir = path.Clean(c.Fleet.WorkDir)
	c.Fleet.DockerBinary = strings.TrimSpace(c.Fleet.DockerBinary)
	if c.Fleet.DockerBinary == "" {
		c.Fleet.DockerBinary = defaultDockerBinary
	}
	if c.Fleet.CommandTimeout <= 0 {
		c.Fleet.CommandTimeout = defaultCommandTimeout
	}
	if c.Fleet.TransferTimeout <= 0 {
		c.Fleet.TransferTimeout = defaultTransferTimeout
	}
	if c.Fleet.SetupTimeout <= 0 {
		c.Fleet.SetupTimeout = defaultSetupTimeout
	}
	c.Fleet.SetupCommand = strings.TrimSpace(c.Fleet.SetupCommand)
	c.Fleet.ReferenceMarker = strings.Trim(strings.TrimSpace(c.Fleet.ReferenceMarker), "/")
	if c.Fleet.ReferenceMarker == "" {
		c.Fleet.ReferenceMarker = defaultReferenceMarker
	}
	return nil
}

func (c *Config) normalizeStages() {
	if c.Stages.Timeout <= 0 {
		c.Stages.Timeout = defaultStageTimeout
	}
	c.Stages.AlignmentArtifact = strings.Trim(strings.TrimSpace(c.Stages.AlignmentArtifact), "/")
	if c.Stages.AlignmentArtifact == "" {
		c.Stages.AlignmentArtifact = defaultAlignmentArtifact
	}
	normalizeImage(&c.Stages.Primary, defaultPrimaryImage, defaultPrimaryArgs)
	normalizeImage(&c.Stages.QC, defaultQCImage, defaultQCArgs)
	normalizeImage(&c.Stages.Fusion, defaultFusionImage, defaultFusionArgs)
}

func normalizeImage(img *StageImage, fallbackImage string, fallbackArgs func() []string) {
	img.Image = strings.TrimSpace(img.Image)
	if img.Image == "" {
		img.Image = fallbackImage
	}
	if len(img.Args) == 0 {
		img.Args = fallbackArgs()
	}
	cleaned := make([]string, 0, len(img.Intermediates))
	for _, entry := range img.Intermediates {
		entry = strings.Trim(strings.TrimSpace(entry), "/")
		if entry == "" {
			continue
		}
		cleaned = append(cleaned, entry)
	}
	img.Intermediates = cleaned

	if len(img.Outputs) == 0 {
		img.Outputs = nil
		return
	}
	outputs := make(map[string]string, len(img.Outputs))
	for name, rel := range img.Outputs {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		rel = strings.Trim(strings.TrimSpace(rel), "/")
		if rel == "" {
			rel = "."
		}
		outputs[name] = rel
	}
	img.Outputs = outputs
}

func (c *Config) normalizeStorage() {
	c.Storage.S3Bucket = strings.TrimSpace(c.Storage.S3Bucket)
	c.Storage.S3Prefix = strings.Trim(strings.TrimSpace(c.Storage.S3Prefix), "/")
	c.Storage.S3Endpoint = strings.TrimSpace(c.Storage.S3Endpoint)
	c.Storage.S3Region = strings.TrimSpace(c.Storage.S3Region)
	if c.Storage.S3Region == "" {
		c.Storage.S3Region = defaultS3Region
	}
	if c.Storage.S3AccessKey == "" {
		if value, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok {
			c.Storage.S3AccessKey = strings.TrimSpace(value)
		}
	}
	if c.Storage.S3SecretKey == "" {
		if value, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			c.Storage.S3SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Limit < 0 {
		c.Workflow.Limit = 0
	}
	c.Workflow.StatusAddr = strings.TrimSpace(c.Workflow.StatusAddr)
	c.Workflow.Operator = strings.TrimSpace(c.Workflow.Operator)
	if c.Workflow.Operator == "" {
		c.Workflow.Operator = defaultOperator()
	}
}

func defaultOperator() string {
	if value, ok := os.LookupEnv("WORKSHOP_OPERATOR"); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("USER"); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	if current, err := user.Current(); err == nil && current.Username != "" {
		return current.Username
	}
	return "unknown"
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
