// Package platform assembles a virtual platform from a configuration:
// kernel, bus, RAM, CLINT and one ISS per hart, wired per the memory map.
package platform

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
	"github.com/ics-jku/riscv-vp-go/internal/clint"
	"github.com/ics-jku/riscv-vp-go/internal/config"
	"github.com/ics-jku/riscv-vp-go/internal/core"
	"github.com/ics-jku/riscv-vp-go/internal/kernel"
	"github.com/ics-jku/riscv-vp-go/internal/mem"
)

// System is a fully wired virtual platform.
type System struct {
	Config config.Platform
	Kernel *kernel.Kernel
	Bus    *bus.SimpleBus
	RAM    *mem.RAM
	CLINT  *clint.CLINT
	Harts  []*core.ISS

	unmap func() error
}

// New builds a platform from the configuration.
func New(cfg config.Platform) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	k := kernel.New(cfg.GlobalQuantum.Std())
	b := bus.NewSimpleBus()

	var ram *mem.RAM
	var unmap func() error
	var ramOpts []mem.Option
	if cfg.TaggedMemory {
		ramOpts = append(ramOpts, mem.WithTags())
	}
	if !cfg.UseDMI {
		ramOpts = append(ramOpts, mem.WithoutDMI())
	}
	if cfg.MemImage != "" {
		var err error
		ram, unmap, err = mem.MapFile(cfg.MemImage, cfg.MemSize, ramOpts...)
		if err != nil {
			return nil, err
		}
	} else {
		ram = mem.NewRAM(cfg.MemSize, ramOpts...)
	}
	b.Bind("ram", cfg.MemBase, cfg.MemBase+cfg.MemSize-1, ram)

	source := clint.SimulationTime
	if cfg.MtimeSource == "wallclock" {
		source = clint.WallClock
	}
	cl := clint.New(k, cfg.NumHarts, source)
	b.Bind("clint", cfg.ClintBase, cfg.ClintBase+clint.Size-1, cl)

	isa := core.RV64GC()
	if cfg.XLen == 32 {
		isa = core.RV32GC()
	}

	lock := core.NewBusLock(k)
	sys := &System{
		Config: cfg,
		Kernel: k,
		Bus:    b,
		RAM:    ram,
		CLINT:  cl,
		unmap:  unmap,
	}

	for id := 0; id < cfg.NumHarts; id++ {
		iss := core.NewISS(core.Params{
			ISA:                    isa,
			HartID:                 uint64(id),
			CyclePeriod:            cfg.CyclePeriod.Std(),
			ErrorOnZeroTraphandler: cfg.ErrorOnZeroTraphandler,
			Trace:                  cfg.Trace,
			UseDBBCache:            cfg.UseDBBCache,
		})
		task := k.Spawn(fmt.Sprintf("core%d", id), func(t *kernel.Task) {
			if err := iss.Run(); err != nil {
				slog.Error("platform: hart terminated with error",
					"hart", iss.GetHartID(), "err", err)
			}
			if sys.allHartsDone() {
				k.Stop()
			}
		})
		iss.AttachScheduler(task)

		cm := core.NewCombinedMemory(uint64(id), task, iss.QuantumKeeper(), lock, b,
			4*cfg.CyclePeriod.Std())
		if cfg.UseDMI {
			if !cm.RequestDMI(cfg.MemBase) {
				slog.Warn("platform: DMI request refused", "addr",
					fmt.Sprintf("0x%x", cfg.MemBase))
			}
		}
		mmu := core.NewMMU(iss, cm)
		cm.SetMMU(mmu)

		iss.Init(cm, cm, cl, cfg.MemBase, cfg.MemBase+cfg.MemSize)
		if id == 0 && cfg.IgnoreWFIHart0 {
			iss.BlockOnWFI(false)
		}

		cl.ConnectHart(id, iss)
		sys.Harts = append(sys.Harts, iss)
	}

	return sys, nil
}

func (s *System) allHartsDone() bool {
	for _, h := range s.Harts {
		if h.GetStatus() == core.Runnable {
			return false
		}
	}
	return true
}

// LoadImage copies a flat binary into RAM at the given bus address.
func (s *System) LoadImage(addr uint64, data []byte) error {
	if addr < s.Config.MemBase || addr+uint64(len(data)) > s.Config.MemBase+s.Config.MemSize {
		return fmt.Errorf("platform: image [0x%x, 0x%x) outside RAM", addr, addr+uint64(len(data)))
	}
	_, err := s.RAM.WriteAt(data, int64(addr-s.Config.MemBase))
	return err
}

// Run advances the platform until the horizon (zero: until no hart is
// runnable).
func (s *System) Run(horizon time.Duration) error {
	return s.Kernel.Run(horizon)
}

// Close releases host resources (mmap'd images).
func (s *System) Close() error {
	if s.unmap != nil {
		return s.unmap()
	}
	return nil
}
