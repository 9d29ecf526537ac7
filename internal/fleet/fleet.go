package fleet

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"workshop/internal/config"
)

// DriverKind selects how a worker is reached.
type DriverKind string

const (
	// DriverSSH reaches a remote machine over SSH.
	DriverSSH DriverKind = "ssh"
	// DriverLocal runs commands on the driver host itself.
	DriverLocal DriverKind = "local"
)

// ParseDriverKind normalizes a driver tag; empty means ssh.
func ParseDriverKind(value string) (DriverKind, error) {
	switch DriverKind(strings.ToLower(strings.TrimSpace(value))) {
	case "", DriverSSH:
		return DriverSSH, nil
	case DriverLocal:
		return DriverLocal, nil
	default:
		return "", fmt.Errorf("unknown driver %q (want ssh or local)", value)
	}
}

// Slot is one machine in the fleet, identified by its position in the inventory.
type Slot struct {
	Index    int
	Name     string
	Endpoint string
	Driver   DriverKind
	KeyPath  string
	// WorkDir overrides the fleet-wide work directory for this machine.
	WorkDir string
}

// Label returns a short human identifier for logs and tables.
func (s Slot) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Endpoint != "" {
		return s.Endpoint
	}
	return fmt.Sprintf("slot-%d", s.Index)
}

// Config is the immutable fleet description captured once at startup.
type Config struct {
	slots           []Slot
	SSHUser         string
	SSHPort         int
	KnownHosts      string
	WorkDir         string
	DockerBinary    string
	CommandTimeout  time.Duration
	TransferTimeout time.Duration
	SetupCommand    string
	SetupTimeout    time.Duration
	ReferenceMarker string
}

// NewConfig combines application settings with the loaded slots. Slot indices
// are reassigned from list order.
func NewConfig(cfg *config.Config, slots []Slot) Config {
	ordered := make([]Slot, len(slots))
	for i, slot := range slots {
		slot.Index = i
		ordered[i] = slot
	}
	return Config{
		slots:           ordered,
		SSHUser:         cfg.Fleet.SSHUser,
		SSHPort:         cfg.Fleet.SSHPort,
		KnownHosts:      cfg.Fleet.KnownHosts,
		WorkDir:         cfg.Fleet.WorkDir,
		DockerBinary:    cfg.Fleet.DockerBinary,
		CommandTimeout:  cfg.CommandTimeout(),
		TransferTimeout: cfg.TransferTimeout(),
		SetupCommand:    cfg.Fleet.SetupCommand,
		SetupTimeout:    cfg.SetupTimeout(),
		ReferenceMarker: cfg.Fleet.ReferenceMarker,
	}
}

// Slots returns a copy of the ordered slot list.
func (c Config) Slots() []Slot {
	return slices.Clone(c.slots)
}

// SlotCount returns the fixed fleet size.
func (c Config) SlotCount() int {
	return len(c.slots)
}

// Layout returns the worker directory layout for slot.
func (c Config) Layout(slot Slot) Layout {
	root := c.WorkDir
	if strings.TrimSpace(slot.WorkDir) != "" {
		root = slot.WorkDir
	}
	return Layout{Root: path.Clean(root)}
}

// Layout names the directories a job uses on a worker. Paths are POSIX paths
// on the worker, not on the driver host.
type Layout struct {
	Root string
}

// Samples is where job inputs are staged.
func (l Layout) Samples() string { return path.Join(l.Root, "samples") }

// Outputs is where stages write their results.
func (l Layout) Outputs() string { return path.Join(l.Root, "outputs") }

// References holds provisioned reference data shared by every job.
func (l Layout) References() string { return path.Join(l.Root, "references") }

// StageOutput is the output directory of one stage.
func (l Layout) StageOutput(stage string) string { return path.Join(l.Outputs(), stage) }

// Sample is the staged location of an input file.
func (l Layout) Sample(basename string) string { return path.Join(l.Samples(), basename) }

// Join resolves a work-dir relative path.
func (l Layout) Join(rel string) string { return path.Join(l.Root, rel) }
