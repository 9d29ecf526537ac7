package config

const (
	defaultConfigPath        = "~/.config/workshop/config.toml"
	defaultOutputRoot        = "~/workshop/outputs"
	defaultLogDir            = "~/.local/share/workshop/logs"
	defaultStateDir          = "~/.local/share/workshop/state"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
	defaultInventory         = "~/.config/workshop/fleet.yaml"
	defaultSSHUser           = "ubuntu"
	defaultSSHPort           = 22
	defaultWorkDir           = "/mnt"
	defaultDockerBinary      = "docker"
	defaultCommandTimeout    = 600
	defaultTransferTimeout   = 4 * 3600
	defaultSetupTimeout      = 6 * 3600
	defaultStageTimeout      = 24 * 3600
	defaultReferenceMarker   = "references/.ready"
	defaultAlignmentArtifact = "sorted.bam"
	defaultPrimaryImage      = "ucsctreehouse/rnaseq:2.0.0"
	defaultQCImage           = "ucsctreehouse/bam-umend-qc:1.1.1"
	defaultFusionImage       = "ucsctreehouse/fusion:0.1.0"
	defaultS3Region          = "us-east-1"
)

func defaultPrimaryArgs() []string {
	return []string{
		"--name", "{{job}}",
		"--star", "/references/STARIndex",
		"--rsem", "/references/rsem_ref",
		"--kallisto", "/references/kallisto_index.idx",
		"--hugo", "/references/hugo_ensembl.tsv",
		"--save-bam", "true",
		"--R1", "{{in:R1}}",
		"--R2", "{{in:R2}}",
		"--cores", "{{nproc}}",
	}
}

func defaultQCArgs() []string {
	return []string{"{{in:alignment}}", "{{out:results}}"}
}

func defaultFusionArgs() []string {
	return []string{
		"--inputs", "{{in:R1}}", "{{in:R2}}",
		"--outputs", "{{out:results}}",
		"--run-fusion-inspector",
		"--num-threads", "{{nproc}}",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputRoot: defaultOutputRoot,
			LogDir:     defaultLogDir,
			StateDir:   defaultStateDir,
		},
		Fleet: Fleet{
			Inventory:       defaultInventory,
			SSHUser:         defaultSSHUser,
			SSHPort:         defaultSSHPort,
			WorkDir:         defaultWorkDir,
			DockerBinary:    defaultDockerBinary,
			CommandTimeout:  defaultCommandTimeout,
			TransferTimeout: defaultTransferTimeout,
			SetupTimeout:    defaultSetupTimeout,
			ReferenceMarker: defaultReferenceMarker,
		},
		Stages: Stages{
			PrimaryAnalysis:   true,
			QualityControl:    true,
			FusionAnalysis:    true,
			Timeout:           defaultStageTimeout,
			AlignmentArtifact: defaultAlignmentArtifact,
			Primary: StageImage{
				Image:         defaultPrimaryImage,
				Args:          defaultPrimaryArgs(),
				Intermediates: []string{"Aligned.toTranscriptome.out.bam"},
			},
			QC: StageImage{
				Image: defaultQCImage,
				Args:  defaultQCArgs(),
			},
			Fusion: StageImage{
				Image:         defaultFusionImage,
				Args:          defaultFusionArgs(),
				Intermediates: []string{"star-fusion.preliminary"},
			},
		},
		Storage: Storage{
			S3Region: defaultS3Region,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
