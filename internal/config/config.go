// Package config holds the YAML platform configuration: core count and
// width, memory map, timing parameters and behavioural flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10us"
// as well as plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("config: bad duration node: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Platform describes a virtual platform instance.
type Platform struct {
	// XLen selects RV32 or RV64 cores.
	XLen int `yaml:"xlen"`
	// NumHarts is the number of cores.
	NumHarts int `yaml:"num_harts"`

	// MemBase and MemSize describe the main RAM window.
	MemBase uint64 `yaml:"mem_base"`
	MemSize uint64 `yaml:"mem_size"`
	// MemImage optionally backs RAM with a host file (mmap).
	MemImage string `yaml:"mem_image"`
	// TaggedMemory attaches a capability tag bitmap to RAM.
	TaggedMemory bool `yaml:"tagged_memory"`

	// ClintBase places the CLINT register file.
	ClintBase uint64 `yaml:"clint_base"`

	// GlobalQuantum and CyclePeriod drive the timing model.
	GlobalQuantum Duration `yaml:"global_quantum"`
	CyclePeriod   Duration `yaml:"cycle_period"`

	// MtimeSource is "simulation" or "wallclock".
	MtimeSource string `yaml:"mtime_source"`

	// UseDMI short-circuits RAM accesses through host memory.
	UseDMI bool `yaml:"use_dmi"`
	// UseDBBCache enables the decoded-block cache.
	UseDBBCache bool `yaml:"use_dbb_cache"`

	// IgnoreWFIHart0 keeps hart 0 spinning through WFI; some firmware
	// parks there in a hang loop.
	IgnoreWFIHart0 bool `yaml:"ignore_wfi_hart0"`
	// ErrorOnZeroTraphandler makes an M-mode trap to address 0 fatal.
	ErrorOnZeroTraphandler bool `yaml:"error_on_zero_traphandler"`

	// Trace prints a line per retired instruction.
	Trace bool `yaml:"trace"`
}

// Default returns the standard single-core RV64 platform.
func Default() Platform {
	return Platform{
		XLen:          64,
		NumHarts:      1,
		MemBase:       0x8000_0000,
		MemSize:       64 * 1024 * 1024,
		ClintBase:     0x0200_0000,
		GlobalQuantum: Duration(10 * time.Microsecond),
		CyclePeriod:   Duration(10 * time.Nanosecond),
		MtimeSource:   "simulation",
		UseDMI:        true,
		UseDBBCache:   true,
	}
}

// Load reads a YAML platform description, applying defaults for absent
// fields.
func Load(path string) (Platform, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return p, p.Validate()
}

// Validate rejects configurations the platform cannot build.
func (p *Platform) Validate() error {
	if p.XLen != 32 && p.XLen != 64 {
		return fmt.Errorf("config: xlen must be 32 or 64, got %d", p.XLen)
	}
	if p.NumHarts < 1 {
		return fmt.Errorf("config: num_harts must be >= 1, got %d", p.NumHarts)
	}
	if p.MemSize == 0 {
		return fmt.Errorf("config: mem_size must be non-zero")
	}
	switch p.MtimeSource {
	case "simulation", "wallclock":
	default:
		return fmt.Errorf("config: mtime_source must be simulation or wallclock, got %q", p.MtimeSource)
	}
	return nil
}
