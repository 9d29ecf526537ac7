package stage

import (
	"fmt"
	"slices"
	"strings"
)

// Selection holds the per-stage enable flags for a run.
type Selection map[Name]bool

// Plan returns the stages a job runs, in Order. A stage runs when it is
// selected or when the stage it is triggered by runs. A stage triggered by
// another consumes that stage's alignmentArtifact instead of a job input.
func Plan(specs []Spec, selected Selection, alignmentArtifact string) ([]Spec, error) {
	byName := make(map[Name]Spec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	planned := make(map[Name]bool, len(Order))
	var plan []Spec
	for _, name := range Order {
		spec, ok := byName[name]
		if !ok {
			continue
		}
		triggered := spec.TriggeredBy != "" && planned[spec.TriggeredBy]
		if !selected[name] && !triggered {
			continue
		}
		if triggered {
			spec = spec.consume(spec.TriggeredBy, alignmentArtifact)
		}
		if strings.TrimSpace(spec.Image) == "" {
			return nil, fmt.Errorf("stage %s has no image configured", name)
		}
		planned[name] = true
		plan = append(plan, spec)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("no stages enabled")
	}
	return plan, nil
}

// RequiredInputs is the number of input files every job must declare for plan.
func RequiredInputs(plan []Spec) int {
	required := 0
	for _, spec := range plan {
		required = max(required, spec.InputCount)
	}
	return required
}

// Names lists the stage names in plan.
func Names(plan []Spec) []Name {
	names := make([]Name, 0, len(plan))
	for _, spec := range plan {
		names = append(names, spec.Name)
	}
	return names
}

// Contains reports whether plan includes name.
func Contains(plan []Spec, name Name) bool {
	return slices.ContainsFunc(plan, func(s Spec) bool { return s.Name == name })
}
