//go:build unix

package mem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MapFile maps the named file read/write into a RAM whose backing store is
// the file contents. Stores through the guest are written back to the file
// by the host page cache. The file is grown to size if shorter.
func MapFile(path string, size uint64, opts ...Option) (*RAM, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("mem: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("mem: stat %s: %w", path, err)
	}
	if uint64(st.Size()) < size {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, nil, fmt.Errorf("mem: grow %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mem: mmap %s: %w", path, err)
	}

	r := &RAM{data: data, allowDMI: true}
	for _, o := range opts {
		o(r)
	}
	unmap := func() error { return unix.Munmap(data) }
	return r, unmap, nil
}
