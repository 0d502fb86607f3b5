//go:build unix

// Package hostmem manages mmap'd memory that lives outside the Go heap and
// provides raw loads, stores and compare-and-swap on absolute addresses.
// Guest state and guest memory live here so translated code can embed their
// addresses.
package hostmem

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	DefaultRegionSize = 1 << 20 // 1MB
)

// Region is an anonymous read/write mapping carved up by a bump allocator
type Region struct {
	buffer []byte
	used   int
	mu     sync.Mutex
}

// NewRegion maps size bytes of zeroed memory
func NewRegion(size int) (*Region, error) {
	if size <= 0 {
		size = DefaultRegionSize
	}

	buffer, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap host region: %w", err)
	}

	return &Region{buffer: buffer}, nil
}

// Allocate reserves size bytes aligned to align (a power of two) and returns
// the absolute address of the reservation
func (r *Region) Allocate(size, align int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("alignment %d is not a power of two", align)
	}

	base := int(r.base())
	start := (base + r.used + align - 1) &^ (align - 1)
	offset := start - base
	if offset+size > len(r.buffer) {
		return 0, fmt.Errorf("out of host memory: need %d, have %d", size, len(r.buffer)-r.used)
	}
	r.used = offset + size

	return uint64(start), nil
}

// Base returns the address of the first byte of the region
func (r *Region) Base() uint64 {
	return uint64(r.base())
}

func (r *Region) base() uintptr {
	if len(r.buffer) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&r.buffer[0]))
}

// Contains reports whether [addr, addr+size) lies inside the region
func (r *Region) Contains(addr uint64, size int) bool {
	base := r.Base()
	return len(r.buffer) > 0 && addr >= base && addr+uint64(size) <= base+uint64(len(r.buffer))
}

// Bytes returns the region memory backing [addr, addr+size), or nil when the
// range is outside the region. The slice aliases the mapping.
func (r *Region) Bytes(addr uint64, size int) []byte {
	if !r.Contains(addr, size) {
		return nil
	}
	offset := addr - r.Base()
	return r.buffer[offset : offset+uint64(size)]
}

// Word reads a little-endian 32-bit instruction word at addr
func (r *Region) Word(addr uint64) (uint32, bool) {
	if addr&3 != 0 || !r.Contains(addr, 4) {
		return 0, false
	}
	return Load32(addr), true
}

// Used returns the number of bytes handed out so far
func (r *Region) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Capacity returns the total size of the mapping
func (r *Region) Capacity() int {
	return len(r.buffer)
}

// Reset forgets every allocation and zeroes the memory
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buffer[:r.used])
	r.used = 0
}

// Free unmaps the region
func (r *Region) Free() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buffer == nil {
		return nil
	}

	err := unix.Munmap(r.buffer)
	r.buffer = nil
	r.used = 0
	return err
}
