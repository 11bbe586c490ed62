// Package rv64config loads the YAML machine descriptor that cmd/riscv-em
// merges with its CLI flags before building a rv64.Machine.
package rv64config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk machine descriptor: hart count, RAM size, and which
// optional devices to attach. Every field is optional; a zero value means
// "let the CLI flag or built-in default decide".
type Config struct {
	NumHarts uint64 `yaml:"num_harts"`
	RAMSizeMB uint64 `yaml:"ram_size_mb"`

	BIOS   string `yaml:"bios"`
	Kernel string `yaml:"kernel"`
	Image  string `yaml:"image"`
	Append string `yaml:"append"`

	Devices DeviceConfig `yaml:"devices"`
}

// DeviceConfig lists the optional peripherals beyond the always-present
// ROM/SYSCON/CLINT/PLIC/UART set. cmd/riscv-em does not consult it: the
// VirtIO block device is attached exactly when a disk image is given.
type DeviceConfig struct {
	VirtIOBlock bool `yaml:"virtio_block"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &cfg, nil
}

// Merge overlays non-zero fields of override onto a copy of c, used to apply
// CLI flag values (which win) over a loaded config file.
func (c Config) Merge(override Config) Config {
	out := c
	if override.NumHarts != 0 {
		out.NumHarts = override.NumHarts
	}
	if override.RAMSizeMB != 0 {
		out.RAMSizeMB = override.RAMSizeMB
	}
	if override.BIOS != "" {
		out.BIOS = override.BIOS
	}
	if override.Kernel != "" {
		out.Kernel = override.Kernel
	}
	if override.Image != "" {
		out.Image = override.Image
	}
	if override.Append != "" {
		out.Append = override.Append
	}
	if override.Devices.VirtIOBlock {
		out.Devices.VirtIOBlock = true
	}
	return out
}
