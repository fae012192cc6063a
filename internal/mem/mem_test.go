package mem

import (
	"testing"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
)

func TestRAMTransport(t *testing.T) {
	r := NewRAM(0x1000)
	var delay time.Duration

	tx := bus.Transaction{Cmd: bus.Write, Addr: 0x10, Data: []byte{0x78, 0x56, 0x34, 0x12}}
	r.Transport(&tx, &delay)
	if tx.Status != bus.OK {
		t.Fatalf("write status = %v", tx.Status)
	}
	if delay == 0 {
		t.Error("no access delay charged")
	}

	rd := bus.Transaction{Cmd: bus.Read, Addr: 0x10, Data: make([]byte, 4)}
	r.Transport(&rd, &delay)
	if rd.Status != bus.OK {
		t.Fatalf("read status = %v", rd.Status)
	}
	if r.Uint32(0x10) != 0x12345678 {
		t.Errorf("mem = 0x%x", r.Uint32(0x10))
	}
}

func TestRAMOutOfBounds(t *testing.T) {
	r := NewRAM(0x100)
	var delay time.Duration
	tx := bus.Transaction{Cmd: bus.Read, Addr: 0xfe, Data: make([]byte, 4)}
	r.Transport(&tx, &delay)
	if tx.Status != bus.AddressError {
		t.Errorf("status = %v, want AddressError", tx.Status)
	}
}

func TestRAMDMIDisabled(t *testing.T) {
	r := NewRAM(0x100, WithoutDMI())
	if _, ok := r.DMI(0); ok {
		t.Error("DMI granted despite WithoutDMI")
	}
}

func TestTaggedStoreClearsTag(t *testing.T) {
	r := NewRAM(0x100, WithTags())
	dmi, ok := r.DMI(0)
	if !ok || dmi.Tags == nil {
		t.Fatal("no tag map exported")
	}
	dmi.Tags.Set(0x20, true)

	var delay time.Duration
	tx := bus.Transaction{Cmd: bus.Write, Addr: 0x24, Data: []byte{1}}
	r.Transport(&tx, &delay)

	if dmi.Tags.Get(0x20) {
		t.Error("store did not clear the capability tag")
	}
}
