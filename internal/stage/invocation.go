package stage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"workshop/internal/fleet"
	"workshop/internal/manifest"
	"workshop/internal/services"
	"workshop/internal/worker"
)

// Mount binds a worker directory into the container.
type Mount struct {
	Source string
	Target string
}

// Invocation is a fully resolved container run.
type Invocation struct {
	Stage     Name
	Container string
	Image     string
	Mounts    []Mount
	Args      []string
	// OutputDir is the worker directory mounted at /outputs.
	OutputDir string
	// Outputs are the declared outputs the container must leave behind.
	Outputs []Output
}

var (
	namedInput   = regexp.MustCompile(`\{\{in:([A-Za-z0-9_-]+)\}\}`)
	namedOutput  = regexp.MustCompile(`\{\{out:([A-Za-z0-9_-]+)\}\}`)
	indexedInput = regexp.MustCompile(`\{\{input\.([0-9]+)\}\}`)
)

// BuildInvocation resolves spec for job on a worker with the given layout.
func BuildInvocation(spec Spec, layout fleet.Layout, job manifest.Job) (Invocation, error) {
	outputs, err := spec.ResolveOutputs(layout)
	if err != nil {
		return Invocation{}, services.Wrap(services.ErrConfiguration, "stage", "build invocation", "", err)
	}
	inv := Invocation{
		Outputs:   outputs,
		Stage:     spec.Name,
		Container: spec.Name.Container(),
		Image:     spec.Image,
		OutputDir: layout.StageOutput(string(spec.Name)),
		Mounts: []Mount{
			{Source: layout.Samples(), Target: SamplesMount},
			{Source: layout.StageOutput(string(spec.Name)), Target: OutputsMount},
			{Source: layout.References(), Target: ReferencesMount},
		},
	}
	if spec.Consumes != "" {
		inv.Mounts = append(inv.Mounts, Mount{Source: layout.StageOutput(string(spec.Consumes)), Target: InputsMount})
	}

	args := make([]string, 0, len(spec.Args))
	for _, tmpl := range spec.Args {
		arg, err := resolveArg(tmpl, spec, job)
		if err != nil {
			return Invocation{}, err
		}
		args = append(args, arg)
	}
	inv.Args = args
	return inv, nil
}

func resolveArg(tmpl string, spec Spec, job manifest.Job) (string, error) {
	var resolveErr error
	arg := namedInput.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := namedInput.FindStringSubmatch(m)[1]
		value, ok := spec.Inputs[name]
		if !ok {
			resolveErr = services.Wrap(services.ErrConfiguration, "stage", "build invocation",
				fmt.Sprintf("stage %s argument references unknown input %q", spec.Name, name), nil)
			return m
		}
		return value
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	arg = namedOutput.ReplaceAllStringFunc(arg, func(m string) string {
		name := namedOutput.FindStringSubmatch(m)[1]
		value, ok := spec.Outputs[name]
		if !ok {
			resolveErr = services.Wrap(services.ErrConfiguration, "stage", "build invocation",
				fmt.Sprintf("stage %s argument references unknown output %q", spec.Name, name), nil)
			return m
		}
		return value
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	arg = indexedInput.ReplaceAllStringFunc(arg, func(m string) string {
		idx, _ := strconv.Atoi(indexedInput.FindStringSubmatch(m)[1])
		if idx >= len(job.Inputs) {
			resolveErr = services.Wrap(services.ErrPrecondition, "stage", "build invocation",
				fmt.Sprintf("stage %s needs input %d but job %s declares %d", spec.Name, idx+1, job.ID, len(job.Inputs)), nil)
			return m
		}
		return path.Join(SamplesMount, SampleName(job.Inputs[idx]))
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return strings.ReplaceAll(arg, PlaceholderJob, job.ID), nil
}

// SampleName is the file name an input is staged under on the worker.
func SampleName(input string) string {
	return path.Base(strings.ReplaceAll(input, `\`, "/"))
}

// Command renders the invocation as a shell command line. {{nproc}} is
// expanded by the worker shell so the container sees the worker's core count.
func (inv Invocation) Command(docker string) string {
	parts := []string{worker.Quote(docker), "run", "--rm", "--name", worker.Quote(inv.Container)}
	for _, m := range inv.Mounts {
		parts = append(parts, "-v", worker.Quote(m.Source+":"+m.Target))
	}
	parts = append(parts, worker.Quote(inv.Image))
	for _, arg := range inv.Args {
		parts = append(parts, renderArg(arg))
	}
	return strings.Join(parts, " ")
}

func renderArg(arg string) string {
	if !strings.Contains(arg, PlaceholderNproc) {
		return worker.Quote(arg)
	}
	pieces := strings.Split(arg, PlaceholderNproc)
	var b strings.Builder
	for i, piece := range pieces {
		if i > 0 {
			b.WriteString("$(nproc)")
		}
		if piece != "" {
			b.WriteString(worker.Quote(piece))
		}
	}
	return b.String()
}
