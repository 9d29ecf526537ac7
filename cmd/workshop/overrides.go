package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"workshop/internal/config"
	"workshop/internal/services"
)

// runFlags are the settings the run and plan commands may override from the
// command line. Only flags the user actually set replace configured values.
type runFlags struct {
	manifest  string
	output    string
	inventory string
	primary   bool
	qc        bool
	fusion    bool
	prune     bool
	limit     int
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.manifest, "manifest", "m", "", "Tab-delimited manifest of jobs")
	flags.StringVarP(&f.output, "output", "o", "", "Output root for result directories (overrides paths.output_root)")
	flags.StringVar(&f.inventory, "inventory", "", "Fleet inventory file (overrides fleet.inventory)")
	flags.BoolVar(&f.primary, "primary-analysis", false, "Enable the primary-analysis stage")
	flags.BoolVar(&f.qc, "quality-control", false, "Enable the quality-control stage")
	flags.BoolVar(&f.fusion, "fusion-analysis", false, "Enable the fusion-analysis stage")
	flags.BoolVar(&f.prune, "prune", false, "Remove declared intermediates after each stage")
	flags.IntVar(&f.limit, "limit", 0, "Process at most this many manifest rows from the top (0 = all)")
}

// manifestPath returns the --manifest flag or the single positional argument.
func (f *runFlags) manifestPath(args []string) (string, error) {
	path := strings.TrimSpace(f.manifest)
	if path == "" && len(args) == 1 {
		path = strings.TrimSpace(args[0])
	}
	if path == "" {
		return "", services.Wrap(services.ErrConfiguration, "cli", "manifest", "a manifest path is required", nil)
	}
	return config.ExpandPath(path)
}

// apply copies changed flags onto a copy of cfg and revalidates it.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) (*config.Config, error) {
	out := *cfg
	flags := cmd.Flags()
	if flags.Changed("output") {
		root, err := config.ExpandPath(strings.TrimSpace(f.output))
		if err != nil {
			return nil, fmt.Errorf("resolve output root: %w", err)
		}
		out.Paths.OutputRoot = root
	}
	if flags.Changed("primary-analysis") {
		out.Stages.PrimaryAnalysis = f.primary
	}
	if flags.Changed("quality-control") {
		out.Stages.QualityControl = f.qc
	}
	if flags.Changed("fusion-analysis") {
		out.Stages.FusionAnalysis = f.fusion
	}
	if flags.Changed("prune") {
		out.Stages.Prune = f.prune
	}
	if flags.Changed("limit") {
		if f.limit < 0 {
			return nil, services.Wrap(services.ErrConfiguration, "cli", "limit", fmt.Sprintf("--limit must not be negative, got %d", f.limit), nil)
		}
		out.Workflow.Limit = f.limit
	}
	if err := out.Validate(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "cli", "validate", "", err)
	}
	return &out, nil
}
