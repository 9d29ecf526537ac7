package stage

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"workshop/internal/config"
	"workshop/internal/fleet"
)

// Name identifies a pipeline stage. Names double as output directory names.
type Name string

const (
	PrimaryAnalysis Name = "primary-analysis"
	QualityControl  Name = "quality-control"
	FusionAnalysis  Name = "fusion-analysis"
)

// Order is the fixed execution order of stages within a job.
var Order = []Name{PrimaryAnalysis, QualityControl, FusionAnalysis}

var titler = cases.Title(language.English)

// Label returns the display form of a stage name, e.g. "Quality Control".
func (n Name) Label() string {
	return titler.String(strings.ReplaceAll(string(n), "-", " "))
}

// Container is the fixed container name a stage runs under on every worker.
func (n Name) Container() string {
	return "workshop-" + string(n)
}

// ContainerNames lists every stage container, for worker resets.
func ContainerNames() []string {
	names := make([]string, 0, len(Order))
	for _, n := range Order {
		names = append(names, n.Container())
	}
	return names
}

// Container-side mount points.
const (
	SamplesMount    = "/samples"
	OutputsMount    = "/outputs"
	ReferencesMount = "/references"
	InputsMount     = "/inputs"
)

// Argument placeholders resolved by BuildInvocation.
const (
	PlaceholderJob   = "{{job}}"
	PlaceholderNproc = "{{nproc}}"
)

// Spec is the immutable description of one stage for a run.
type Spec struct {
	Name  Name
	Image string
	// Args is the container argument template.
	Args []string
	// Inputs maps logical input names to container paths, which may use
	// {{input.N}} to refer to the job's staged input files.
	Inputs map[string]string
	// Outputs maps logical output names to container paths under /outputs.
	// Every declared output must exist after the stage succeeds, and together
	// they select what is collected.
	Outputs map[string]string
	// InputCount is how many job input files the stage consumes directly.
	InputCount int
	// Prune removes Intermediates from the stage output after success.
	Prune         bool
	Intermediates []string
	// TriggeredBy names a stage that forces this one to run.
	TriggeredBy Name
	// Consumes names the stage whose output is mounted at /inputs.
	Consumes Name
}

// Definitions builds the specs for every known stage from configuration. The
// result is in Order; use Plan to select what a job runs.
func Definitions(cfg *config.Config) []Spec {
	pairedInputs := map[string]string{
		"R1": "{{input.0}}",
		"R2": "{{input.1}}",
	}
	prune := cfg.Stages.Prune

	return []Spec{
		{
			Name:          PrimaryAnalysis,
			Image:         cfg.Stages.Primary.Image,
			Args:          slices.Clone(cfg.Stages.Primary.Args),
			Inputs:        pairedInputs,
			Outputs:       declaredOutputs(cfg.Stages.Primary.Outputs),
			InputCount:    2,
			Prune:         prune && len(cfg.Stages.Primary.Intermediates) > 0,
			Intermediates: slices.Clone(cfg.Stages.Primary.Intermediates),
		},
		{
			Name:  QualityControl,
			Image: cfg.Stages.QC.Image,
			Args:  slices.Clone(cfg.Stages.QC.Args),
			Inputs: map[string]string{
				"alignment": "{{input.0}}",
			},
			Outputs:       declaredOutputs(cfg.Stages.QC.Outputs),
			InputCount:    1,
			Prune:         prune && len(cfg.Stages.QC.Intermediates) > 0,
			Intermediates: slices.Clone(cfg.Stages.QC.Intermediates),
			TriggeredBy:   PrimaryAnalysis,
		},
		{
			Name:          FusionAnalysis,
			Image:         cfg.Stages.Fusion.Image,
			Args:          slices.Clone(cfg.Stages.Fusion.Args),
			Inputs:        pairedInputs,
			Outputs:       declaredOutputs(cfg.Stages.Fusion.Outputs),
			InputCount:    2,
			Prune:         prune && len(cfg.Stages.Fusion.Intermediates) > 0,
			Intermediates: slices.Clone(cfg.Stages.Fusion.Intermediates),
		},
	}
}

// ResultsOutput is the output every stage declares. It defaults to the whole
// stage output directory.
const ResultsOutput = "results"

// declaredOutputs turns configured output paths, relative to the stage output
// directory, into container paths.
func declaredOutputs(configured map[string]string) map[string]string {
	outputs := map[string]string{ResultsOutput: OutputsMount}
	for name, rel := range configured {
		outputs[name] = path.Join(OutputsMount, rel)
	}
	return outputs
}

// Output is a declared stage output located on a worker.
type Output struct {
	Name string
	// Rel is the path below the stage output directory; "." is all of it.
	Rel string
	// Path is where the output lives on the worker.
	Path string
}

// ResolveOutputs maps the declared outputs onto layout, the whole directory
// first and then by Rel and Name. A spec without outputs yields the whole stage output directory.
func (s Spec) ResolveOutputs(layout fleet.Layout) ([]Output, error) {
	declared := s.Outputs
	if len(declared) == 0 {
		declared = map[string]string{ResultsOutput: OutputsMount}
	}
	dir := layout.StageOutput(string(s.Name))
	outputs := make([]Output, 0, len(declared))
	for name, target := range declared {
		target = path.Clean(target)
		rel := "."
		switch {
		case target == OutputsMount:
		case strings.HasPrefix(target, OutputsMount+"/"):
			rel = strings.TrimPrefix(target, OutputsMount+"/")
		default:
			return nil, fmt.Errorf("stage %s output %s must be under %s, got %q", s.Name, name, OutputsMount, target)
		}
		outputs = append(outputs, Output{Name: name, Rel: rel, Path: path.Join(dir, rel)})
	}
	slices.SortFunc(outputs, func(a, b Output) int {
		if (a.Rel == ".") != (b.Rel == ".") {
			if a.Rel == "." {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.Rel, b.Rel); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return outputs, nil
}

// CollectedOutputs returns the outputs to copy back: declared outputs that
// are not already inside another one.
func CollectedOutputs(outputs []Output) []Output {
	var picked []Output
	for _, out := range outputs {
		covered := slices.ContainsFunc(picked, func(p Output) bool {
			return p.Rel == "." || p.Rel == out.Rel || strings.HasPrefix(out.Rel, p.Rel+"/")
		})
		if !covered {
			picked = append(picked, out)
		}
	}
	return picked
}

// consume rewires spec to read its alignment input from the output of
// producer, mounted at /inputs.
func (s Spec) consume(producer Name, artifact string) Spec {
	inputs := make(map[string]string, len(s.Inputs))
	for k, v := range s.Inputs {
		inputs[k] = v
	}
	inputs["alignment"] = path.Join(InputsMount, artifact)
	s.Inputs = inputs
	s.InputCount = 0
	s.Consumes = producer
	return s
}
