// Package bus provides the transaction-level memory bus connecting harts to
// memories and peripherals: a generic payload, a target interface, an
// address decoder and the DMI handshake.
package bus

import (
	"fmt"
	"log/slog"
	"time"
)

// Command selects the transaction direction.
type Command int

const (
	Read Command = iota
	Write
)

func (c Command) String() string {
	if c == Read {
		return "read"
	}
	return "write"
}

// Status is the transaction response status.
type Status int

const (
	OK Status = iota
	AddressError
	GenericError
)

// Transaction is the generic payload routed through the bus. Data is shared
// with the initiator: targets read from it on Write and fill it on Read.
// Hart identifies the originating hart for targets that care (bus locking,
// per-hart CLINT registers).
type Transaction struct {
	Cmd    Command
	Addr   uint64
	Data   []byte
	Status Status
	Hart   uint64
}

// Target is a memory-mapped module reachable through the bus. Transport
// processes a transaction with the address already rebased to the target's
// local address space, accumulating model time into delay.
type Target interface {
	Transport(tx *Transaction, delay *time.Duration)
}

// DMIProvider is implemented by targets that can hand out a direct memory
// interface window for a local address.
type DMIProvider interface {
	DMI(localAddr uint64) (DMIRange, bool)
}

// DMIRange is a host window onto target memory. Start and End are global
// (bus) addresses; Ptr aliases the target's backing store.
type DMIRange struct {
	Start uint64
	End   uint64
	Ptr   []byte
	// Tags is non-nil on tagged (capability) memory: one bit per 16-byte
	// granule, parallel to Ptr.
	Tags *TagMap
}

// Contains reports whether the global address falls inside the window.
func (r *DMIRange) Contains(addr uint64) bool {
	return addr >= r.Start && addr < r.End
}

// Slice returns the host bytes backing [addr, addr+n).
func (r *DMIRange) Slice(addr uint64, n int) []byte {
	off := addr - r.Start
	return r.Ptr[off : off+uint64(n)]
}

// PortMapping binds an address range [Start, End] to a target.
type PortMapping struct {
	Start  uint64
	End    uint64
	Name   string
	Target Target
}

// Contains reports whether addr decodes to this port.
func (p *PortMapping) Contains(addr uint64) bool {
	return addr >= p.Start && addr <= p.End
}

// SimpleBus decodes global addresses to ports and forwards transactions.
type SimpleBus struct {
	ports []PortMapping
}

// NewSimpleBus creates an empty bus.
func NewSimpleBus() *SimpleBus {
	return &SimpleBus{}
}

// Bind adds a port mapping. Ranges must not overlap; the first match wins.
func (b *SimpleBus) Bind(name string, start, end uint64, t Target) {
	if end < start {
		panic(fmt.Sprintf("bus: invalid range %x-%x for %s", start, end, name))
	}
	b.ports = append(b.ports, PortMapping{Start: start, End: end, Name: name, Target: t})
}

func (b *SimpleBus) decode(addr uint64) *PortMapping {
	for i := range b.ports {
		if b.ports[i].Contains(addr) {
			return &b.ports[i]
		}
	}
	return nil
}

// Transport routes a transaction to the target owning its address. Unmapped
// addresses complete with AddressError.
func (b *SimpleBus) Transport(tx *Transaction, delay *time.Duration) {
	port := b.decode(tx.Addr)
	if port == nil {
		slog.Debug("bus: transaction to unmapped address", "addr", fmt.Sprintf("0x%x", tx.Addr), "cmd", tx.Cmd)
		tx.Status = AddressError
		return
	}
	local := *tx
	local.Addr = tx.Addr - port.Start
	local.Status = OK
	port.Target.Transport(&local, delay)
	tx.Status = local.Status
}

// DMI asks the target owning addr for a direct memory window. The returned
// range is rebased to global addresses.
func (b *SimpleBus) DMI(addr uint64) (DMIRange, bool) {
	port := b.decode(addr)
	if port == nil {
		return DMIRange{}, false
	}
	prov, ok := port.Target.(DMIProvider)
	if !ok {
		return DMIRange{}, false
	}
	r, ok := prov.DMI(addr - port.Start)
	if !ok {
		return DMIRange{}, false
	}
	r.Start += port.Start
	r.End += port.Start
	return r, true
}
