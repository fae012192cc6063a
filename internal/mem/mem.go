// Package mem implements bus-attached memory targets: plain RAM (with
// optional capability tags) and mmap-backed file memory.
package mem

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/ics-jku/riscv-vp-go/internal/bus"
)

var byteOrder = binary.LittleEndian

// RAM is a byte-addressable memory target. It serves transactions from the
// bus and exports its whole backing store as a single DMI window.
type RAM struct {
	data        []byte
	tags        *bus.TagMap
	accessDelay time.Duration
	allowDMI    bool
}

// Option configures a RAM at construction.
type Option func(*RAM)

// WithAccessDelay sets the per-transaction delay charged by the model.
func WithAccessDelay(d time.Duration) Option {
	return func(r *RAM) { r.accessDelay = d }
}

// WithTags attaches a capability tag bitmap covering the whole region.
func WithTags() Option {
	return func(r *RAM) { r.tags = bus.NewTagMap(uint64(len(r.data))) }
}

// WithoutDMI disables the DMI export, forcing all traffic through
// transactions (useful for tests of the transaction path).
func WithoutDMI() Option {
	return func(r *RAM) { r.allowDMI = false }
}

// NewRAM creates a zeroed RAM of the given size.
func NewRAM(size uint64, opts ...Option) *RAM {
	r := &RAM{
		data:        make([]byte, size),
		accessDelay: 20 * time.Nanosecond,
		allowDMI:    true,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Size returns the region size in bytes.
func (r *RAM) Size() uint64 { return uint64(len(r.data)) }

// Data exposes the backing store.
func (r *RAM) Data() []byte { return r.data }

// Transport implements bus.Target.
func (r *RAM) Transport(tx *bus.Transaction, delay *time.Duration) {
	end := tx.Addr + uint64(len(tx.Data))
	if end > uint64(len(r.data)) || end < tx.Addr {
		tx.Status = bus.AddressError
		return
	}
	*delay += r.accessDelay
	switch tx.Cmd {
	case bus.Read:
		copy(tx.Data, r.data[tx.Addr:end])
	case bus.Write:
		copy(r.data[tx.Addr:end], tx.Data)
		if r.tags != nil {
			r.tags.ClearRange(tx.Addr, uint64(len(tx.Data)))
		}
	}
	tx.Status = bus.OK
}

// DMI implements bus.DMIProvider.
func (r *RAM) DMI(localAddr uint64) (bus.DMIRange, bool) {
	if !r.allowDMI || localAddr >= uint64(len(r.data)) {
		return bus.DMIRange{}, false
	}
	return bus.DMIRange{
		Start: 0,
		End:   uint64(len(r.data)),
		Ptr:   r.data,
		Tags:  r.tags,
	}, true
}

// ReadAt implements io.ReaderAt for loaders.
func (r *RAM) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	return copy(p, r.data[off:]), nil
}

// WriteAt implements io.WriterAt for loaders.
func (r *RAM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.data)) {
		return 0, fmt.Errorf("mem: write offset 0x%x out of bounds", off)
	}
	n := copy(r.data[off:], p)
	if n < len(p) {
		return n, fmt.Errorf("mem: short write at 0x%x", off)
	}
	return n, nil
}

var (
	_ bus.Target      = (*RAM)(nil)
	_ bus.DMIProvider = (*RAM)(nil)
)

// Uint32 is a load helper for tests and loaders.
func (r *RAM) Uint32(addr uint64) uint32 { return byteOrder.Uint32(r.data[addr:]) }

// PutUint32 is a store helper for tests and loaders.
func (r *RAM) PutUint32(addr uint64, v uint32) { byteOrder.PutUint32(r.data[addr:], v) }
