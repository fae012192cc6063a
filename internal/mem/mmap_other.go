//go:build !unix

package mem

import "fmt"

// MapFile is unsupported on this platform.
func MapFile(path string, size uint64, opts ...Option) (*RAM, func() error, error) {
	return nil, nil, fmt.Errorf("mem: file-backed memory requires a unix host")
}
