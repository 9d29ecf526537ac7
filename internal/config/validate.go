package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateFleet(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.OutputRoot) == "" {
		return errors.New("paths.output_root must be set")
	}
	return nil
}

func (c *Config) validateFleet() error {
	if !path.IsAbs(c.Fleet.WorkDir) {
		return fmt.Errorf("fleet.work_dir must be an absolute path, got %q", c.Fleet.WorkDir)
	}
	if c.Fleet.WorkDir == "/" {
		return errors.New("fleet.work_dir must not be the filesystem root")
	}
	if c.Fleet.SSHPort > 65535 {
		return fmt.Errorf("fleet.ssh_port out of range: %d", c.Fleet.SSHPort)
	}
	if strings.HasPrefix(c.Fleet.ReferenceMarker, "..") {
		return fmt.Errorf("fleet.reference_marker must stay inside work_dir, got %q", c.Fleet.ReferenceMarker)
	}
	return nil
}

func (c *Config) validateStages() error {
	if !c.Stages.PrimaryAnalysis && !c.Stages.QualityControl && !c.Stages.FusionAnalysis {
		return errors.New("stages: at least one of primary_analysis, quality_control, fusion_analysis must be enabled")
	}
	images := map[string]StageImage{
		"stages.primary": c.Stages.Primary,
		"stages.qc":      c.Stages.QC,
		"stages.fusion":  c.Stages.Fusion,
	}
	for key, img := range images {
		if strings.ContainsAny(img.Image, " \t\n'\"") {
			return fmt.Errorf("%s.image contains whitespace or quotes: %q", key, img.Image)
		}
		for _, entry := range img.Intermediates {
			if strings.Contains(entry, "..") {
				return fmt.Errorf("%s.intermediates entry %q must stay inside the stage output directory", key, entry)
			}
		}
		for name, rel := range img.Outputs {
			if strings.Contains(rel, "..") {
				return fmt.Errorf("%s.outputs.%s %q must stay inside the stage output directory", key, name, rel)
			}
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.S3Enabled {
		return nil
	}
	if c.Storage.S3Bucket == "" {
		return errors.New("storage.s3_bucket must be set when storage.s3_enabled is true")
	}
	if c.Storage.S3AccessKey == "" || c.Storage.S3SecretKey == "" {
		return errors.New("storage.s3_access_key and storage.s3_secret_key must be set (or AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY) when storage.s3_enabled is true")
	}
	return nil
}
