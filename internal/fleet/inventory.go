package fleet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"workshop/internal/config"
)

// Inventory is the on-disk fleet description.
type Inventory struct {
	Workers []Worker `yaml:"workers"`
}

// Worker is one inventory entry.
type Worker struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint,omitempty"`
	Driver   string `yaml:"driver,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	WorkDir  string `yaml:"work_dir,omitempty"`
}

// LoadInventory reads and validates the YAML inventory at path.
func LoadInventory(path string) ([]Slot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return ParseInventory(data)
}

// ParseInventory decodes inventory YAML into ordered slots.
func ParseInventory(data []byte) ([]Slot, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	if len(inv.Workers) == 0 {
		return nil, errors.New("inventory lists no workers")
	}

	slots := make([]Slot, 0, len(inv.Workers))
	seen := make(map[string]int, len(inv.Workers))
	for i, w := range inv.Workers {
		driver, err := ParseDriverKind(w.Driver)
		if err != nil {
			return nil, fmt.Errorf("inventory worker %d: %w", i, err)
		}
		slot := Slot{
			Index:    i,
			Name:     strings.TrimSpace(w.Name),
			Endpoint: strings.TrimSpace(w.Endpoint),
			Driver:   driver,
			WorkDir:  strings.TrimSpace(w.WorkDir),
		}
		if driver == DriverSSH && slot.Endpoint == "" {
			return nil, fmt.Errorf("inventory worker %d (%s): ssh driver requires an endpoint", i, slot.Label())
		}
		if key := strings.TrimSpace(w.KeyPath); key != "" {
			expanded, err := config.ExpandPath(key)
			if err != nil {
				return nil, fmt.Errorf("inventory worker %d key_path: %w", i, err)
			}
			slot.KeyPath = expanded
		}
		if driver == DriverLocal && slot.WorkDir != "" {
			expanded, err := config.ExpandPath(slot.WorkDir)
			if err != nil {
				return nil, fmt.Errorf("inventory worker %d work_dir: %w", i, err)
			}
			slot.WorkDir = expanded
		}
		identity := string(driver) + "|" + slot.Endpoint + "|" + slot.WorkDir
		if prev, dup := seen[identity]; dup {
			return nil, fmt.Errorf("inventory workers %d and %d share endpoint and work_dir; jobs would collide", prev, i)
		}
		seen[identity] = i
		slots = append(slots, slot)
	}
	return slots, nil
}

// MarshalInventory renders slots back into inventory YAML.
func MarshalInventory(slots []Slot) ([]byte, error) {
	inv := Inventory{Workers: make([]Worker, 0, len(slots))}
	for _, slot := range slots {
		inv.Workers = append(inv.Workers, Worker{
			Name:     slot.Name,
			Endpoint: slot.Endpoint,
			Driver:   string(slot.Driver),
			KeyPath:  slot.KeyPath,
			WorkDir:  slot.WorkDir,
		})
	}
	return yaml.Marshal(&inv)
}

// ParseDockerMachineList converts `docker-machine ls --format '{{.Name}} {{.URL}}'`
// output into ssh slots. Machine keys are expected under machineDir/<name>/id_rsa,
// which is where docker-machine stores them.
func ParseDockerMachineList(r io.Reader, machineDir string) ([]Slot, error) {
	var slots []Slot
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		host := ""
		if len(fields) > 1 {
			host = hostFromURL(fields[1])
		}
		if host == "" {
			// Stopped machines report no URL.
			continue
		}
		slots = append(slots, Slot{
			Index:    len(slots),
			Name:     name,
			Endpoint: host,
			Driver:   DriverSSH,
			KeyPath:  filepath.Join(machineDir, name, "id_rsa"),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read machine list: %w", err)
	}
	return slots, nil
}

// hostFromURL extracts the host from a docker endpoint such as tcp://10.0.0.5:2376.
func hostFromURL(value string) string {
	value = strings.TrimSpace(value)
	if i := strings.Index(value, "://"); i >= 0 {
		value = value[i+3:]
	}
	if i := strings.LastIndex(value, ":"); i >= 0 {
		value = value[:i]
	}
	return strings.Trim(value, "/")
}
