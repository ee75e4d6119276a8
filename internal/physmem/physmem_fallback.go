//go:build !unix

package physmem

import "fmt"

// Map allocates size bytes on the Go heap when anonymous mappings are not available.
func Map(size int) ([]byte, func() error, error) {
	if size < 0 {
		return nil, nil, fmt.Errorf("physmem: negative size %d", size)
	}
	return make([]byte, size), func() error { return nil }, nil
}
