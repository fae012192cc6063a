// Package riscvvp is a RISC-V virtual platform: a cycle-approximate
// simulator of multi-hart RV32/RV64 systems built around a cooperative
// discrete-event kernel, a transaction-level bus with DMI fast paths, and
// an instruction set simulator with a decoded-block cache.
//
// The package re-exports the assembly surface; the implementation lives
// under internal/.
package riscvvp

import (
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/config"
	"github.com/ics-jku/riscv-vp-go/internal/core"
	"github.com/ics-jku/riscv-vp-go/internal/platform"
)

// Config describes a platform instance. The zero value is not usable;
// start from DefaultConfig.
type Config = config.Platform

// System is a fully wired virtual platform.
type System = platform.System

// Hart is one simulated RISC-V core, exposing the debug-target and
// interrupt-sink surfaces.
type Hart = core.ISS

// DefaultConfig returns the standard single-core RV64 platform
// configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML platform description.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// New builds a platform from the configuration.
func New(cfg Config) (*System, error) { return platform.New(cfg) }

// Run is a convenience wrapper: build, load a flat image at the RAM base,
// and simulate until the horizon.
func Run(cfg Config, image []byte, horizon time.Duration) (*System, error) {
	sys, err := platform.New(cfg)
	if err != nil {
		return nil, err
	}
	if len(image) > 0 {
		if err := sys.LoadImage(cfg.MemBase, image); err != nil {
			sys.Close()
			return nil, err
		}
	}
	for _, h := range sys.Harts {
		h.SetProgramCounter(cfg.MemBase)
	}
	if err := sys.Run(horizon); err != nil {
		sys.Close()
		return nil, err
	}
	return sys, nil
}
