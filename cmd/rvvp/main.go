// Command rvvp runs the RISC-V virtual platform: it builds a system from a
// YAML configuration, stages a guest image into RAM and executes it.
package main

import (
	"debug/elf"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ics-jku/riscv-vp-go/internal/config"
	"github.com/ics-jku/riscv-vp-go/internal/platform"
)

var (
	flagConfig  string
	flagBin     string
	flagBinAddr uint64
	flagElf     string
	flagEntry   uint64
	flagTimeout time.Duration
	flagTrace   bool
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "rvvp",
		Short: "RISC-V virtual platform",
		RunE:  run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "platform YAML configuration")
	root.Flags().StringVar(&flagBin, "bin", "", "flat binary image to load")
	root.Flags().Uint64Var(&flagBinAddr, "bin-addr", 0, "load address for --bin (default: RAM base)")
	root.Flags().StringVar(&flagElf, "elf", "", "ELF executable to load")
	root.Flags().Uint64Var(&flagEntry, "entry", 0, "entry point override")
	root.Flags().DurationVar(&flagTimeout, "timeout", 0, "stop after this much simulated time")
	root.Flags().BoolVar(&flagTrace, "trace", false, "trace retired instructions")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	} else {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}
}

func run(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg := config.Default()
	if flagConfig != "" {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
	}
	cfg.Trace = cfg.Trace || flagTrace

	sys, err := platform.New(cfg)
	if err != nil {
		return err
	}
	defer sys.Close()

	entry := cfg.MemBase
	switch {
	case flagBin != "":
		data, err := os.ReadFile(flagBin)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		addr := flagBinAddr
		if addr == 0 {
			addr = cfg.MemBase
		}
		if err := sys.LoadImage(addr, data); err != nil {
			return err
		}
		entry = addr
	case flagElf != "":
		e, err := loadELF(sys, flagElf)
		if err != nil {
			return err
		}
		entry = e
	default:
		return fmt.Errorf("one of --bin or --elf is required")
	}
	if flagEntry != 0 {
		entry = flagEntry
	}

	for _, h := range sys.Harts {
		h.SetProgramCounter(entry)
	}

	slog.Info("starting simulation", "entry", fmt.Sprintf("0x%x", entry),
		"harts", len(sys.Harts), "xlen", cfg.XLen)

	start := time.Now()
	if err := sys.Run(flagTimeout); err != nil {
		return err
	}
	slog.Info("simulation finished", "wall", time.Since(start),
		"simulated", sys.Kernel.Now())

	for _, h := range sys.Harts {
		st := h.Stats()
		slog.Info("hart summary", "hart", h.GetHartID(), "status", h.GetStatus(),
			"pc", fmt.Sprintf("0x%x", h.GetProgramCounter()), "instret", st.Instret,
			"traps", st.TrapsTaken, "irqs", st.IrqsHandled)
	}
	return nil
}

func loadELF(sys *platform.System, path string) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open ELF: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("ELF machine is %v, want RISC-V", f.Machine)
	}
	want := elf.ELFCLASS64
	if sys.Config.XLen == 32 {
		want = elf.ELFCLASS32
	}
	if f.Class != want {
		return 0, fmt.Errorf("ELF class is %v, platform wants %v", f.Class, want)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return 0, fmt.Errorf("read segment: %w", err)
		}
		if err := sys.LoadImage(prog.Paddr, data); err != nil {
			return 0, err
		}
	}
	return f.Entry, nil
}
