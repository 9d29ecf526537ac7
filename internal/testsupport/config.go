package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workshop/internal/config"
	"workshop/internal/fleet"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Reference setup is a no-op that only creates the marker.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.OutputRoot = filepath.Join(base, "outputs")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Fleet.Inventory = filepath.Join(base, "fleet.yaml")
	cfgVal.Fleet.WorkDir = filepath.Join(base, "worker")
	cfgVal.Fleet.SetupCommand = "true"
	cfgVal.Fleet.CommandTimeout = 30
	cfgVal.Fleet.TransferTimeout = 30
	cfgVal.Fleet.SetupTimeout = 30
	cfgVal.Stages.Timeout = 30
	cfgVal.Workflow.Operator = "tester"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithStages selects which stages are enabled.
func WithStages(primary, qc, fusion bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages.PrimaryAnalysis = primary
		b.cfg.Stages.QualityControl = qc
		b.cfg.Stages.FusionAnalysis = fusion
	}
}

// WithStubbedDocker writes a docker stand-in and points the fleet at it.
// `docker run` records "<container> <image> <args>" in DockerLog and writes
// result.txt plus intermediate.tmp into the directory mounted at /outputs.
// A run whose recorded line contains any failOn substring exits 3 without
// producing output. stop and rm always report a missing container, and
// image inspect reports every image as not pulled.
func WithStubbedDocker(failOn ...string) ConfigOption {
	return func(b *configBuilder) {
		b.writeDockerStub(nil, failOn)
	}
}

// WithHangingDocker is WithStubbedDocker where a run whose recorded line
// contains hangOn sleeps for a minute instead of finishing.
func WithHangingDocker(hangOn string, failOn ...string) ConfigOption {
	return func(b *configBuilder) {
		b.writeDockerStub([]string{hangOn}, failOn)
	}
}

func (b *configBuilder) writeDockerStub(hangOn, failOn []string) {
	binDir := filepath.Join(b.baseDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		b.t.Fatalf("mkdir bin dir: %v", err)
	}
	var cases strings.Builder
	for _, match := range hangOn {
		fmt.Fprintf(&cases, "\tcase \"$line\" in *%s*) exec sleep 60 ;; esac\n", shellPattern(match))
	}
	for _, match := range failOn {
		fmt.Fprintf(&cases, "\tcase \"$line\" in *%s*) echo \"stage failed\" >&2; exit 3 ;; esac\n", shellPattern(match))
	}
	script := fmt.Sprintf(dockerStub, filepath.Join(b.baseDir, "docker.log"), cases.String())
	target := filepath.Join(binDir, "docker")
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		b.t.Fatalf("write docker stub: %v", err)
	}
	b.cfg.Fleet.DockerBinary = target
}

const dockerStub = `#!/bin/sh
log=%q
verb=$1
shift
case "$verb" in
version)
	echo "stub"
	exit 0
	;;
image)
	exit 1
	;;
stop|rm)
	echo "Error response from daemon: No such container: $1" >&2
	exit 1
	;;
run)
	out=""
	name=""
	while [ $# -gt 0 ]; do
		case "$1" in
		--rm) shift ;;
		--name) name=$2; shift 2 ;;
		-v)
			case "$2" in
			*:/outputs) out=${2%%:/outputs} ;;
			esac
			shift 2
			;;
		*) break ;;
		esac
	done
	image=$1
	shift
	line="$name $image $*"
	echo "$line" >> "$log"
%s	mkdir -p "$out"
	echo "$image" > "$out/result.txt"
	echo "scratch" > "$out/intermediate.tmp"
	exit 0
	;;
esac
echo "unsupported docker verb $verb" >&2
exit 2
`

func shellPattern(match string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + replacer.Replace(match) + `"`
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.OutputRoot)
}

// DockerLog returns the path the docker stub appends invocations to.
func DockerLog(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "docker.log")
}

// DockerInvocations returns the recorded docker runs, one per line.
func DockerInvocations(t testing.TB, cfg *config.Config) []string {
	t.Helper()
	data, err := os.ReadFile(DockerLog(cfg))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read docker log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// LocalSlots returns count local-driver slots with separate work directories.
func LocalSlots(cfg *config.Config, count int) []fleet.Slot {
	slots := make([]fleet.Slot, count)
	for i := range slots {
		slots[i] = fleet.Slot{
			Index:   i,
			Name:    fmt.Sprintf("local-%d", i),
			Driver:  fleet.DriverLocal,
			WorkDir: filepath.Join(BaseDir(cfg), fmt.Sprintf("worker-%d", i)),
		}
	}
	return slots
}
