// Package system models the system-definition document: the buses of a
// vehicle and the devices sitting on them. The transport core does not
// consume it directly; loaders use it to place compiled device interfaces at
// node ids and to bring up bus drivers at the right bitrates.
package system

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	novacan "github.com/ecthelion99/nova-can"
)

// Supported bus bitrates.
var validRates = map[int]bool{
	125000:  true,
	250000:  true,
	500000:  true,
	1000000: true,
	2000000: true,
	3000000: true,
	5000000: true,
}

// Device is one bus participant in the document.
type Device struct {
	Name       string `yaml:"name"`
	NodeID     uint8  `yaml:"node_id"`
	DeviceType string `yaml:"device_type"`
}

// Bus is one CAN bus with its bitrate and roster.
type Bus struct {
	Name    string   `yaml:"name"`
	Rate    int      `yaml:"rate"`
	Devices []Device `yaml:"devices"`
}

// Definition is the top-level system document.
type Definition struct {
	Name     string `yaml:"name"`
	CanBuses []Bus  `yaml:"can_buses"`
}

var ErrInvalidSystem = errors.New("system: invalid definition")

// Parse decodes and validates a system-definition document.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("system: parse definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load reads and parses a system-definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("system: read %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks names, bitrates and node-id ranges. Node-id uniqueness per
// bus is the composing application's responsibility, not the document's.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSystem)
	}
	for _, b := range d.CanBuses {
		if b.Name == "" {
			return fmt.Errorf("%w: bus name is required", ErrInvalidSystem)
		}
		if !validRates[b.Rate] {
			return fmt.Errorf("%w: bus %s: unsupported rate %d", ErrInvalidSystem, b.Name, b.Rate)
		}
		for _, dev := range b.Devices {
			if dev.Name == "" {
				return fmt.Errorf("%w: bus %s: device name is required", ErrInvalidSystem, b.Name)
			}
			if err := novacan.NodeID(dev.NodeID).Validate(); err != nil {
				return fmt.Errorf("%w: bus %s: device %s: %v", ErrInvalidSystem, b.Name, dev.Name, err)
			}
		}
	}
	return nil
}

// DevicesByID returns every device using the node id, across all buses.
// Duplicate ids on one bus are a composition error upstream; this helper just
// reports what the document says.
func (d *Definition) DevicesByID(id novacan.NodeID) []Device {
	var out []Device
	for _, b := range d.CanBuses {
		for _, dev := range b.Devices {
			if novacan.NodeID(dev.NodeID) == id {
				out = append(out, dev)
			}
		}
	}
	return out
}
