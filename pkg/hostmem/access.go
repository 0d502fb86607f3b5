package hostmem

import (
	"sync/atomic"
	"unsafe"
)

// Raw accessors on absolute addresses. Callers guarantee the address points
// into memory outside the Go heap (a Region or native memory) that is live for
// the duration of the access. Multi-byte values use host byte order, which is
// little-endian on every supported host.

func ptr(addr uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}

func Load8(addr uint64) uint8   { return *(*uint8)(ptr(addr)) }
func Load16(addr uint64) uint16 { return *(*uint16)(ptr(addr)) }
func Load32(addr uint64) uint32 { return *(*uint32)(ptr(addr)) }
func Load64(addr uint64) uint64 { return *(*uint64)(ptr(addr)) }

func Store8(addr uint64, v uint8)   { *(*uint8)(ptr(addr)) = v }
func Store16(addr uint64, v uint16) { *(*uint16)(ptr(addr)) = v }
func Store32(addr uint64, v uint32) { *(*uint32)(ptr(addr)) = v }
func Store64(addr uint64, v uint64) { *(*uint64)(ptr(addr)) = v }

// Load reads size (1, 2, 4, 8 or 16) bytes; lo holds the low 64 bits
func Load(addr uint64, size int) (lo, hi uint64) {
	switch size {
	case 1:
		return uint64(Load8(addr)), 0
	case 2:
		return uint64(Load16(addr)), 0
	case 4:
		return uint64(Load32(addr)), 0
	case 8:
		return Load64(addr), 0
	case 16:
		return Load64(addr), Load64(addr + 8)
	}
	panic("hostmem: unsupported access size")
}

// Store writes size (1, 2, 4, 8 or 16) bytes
func Store(addr uint64, size int, lo, hi uint64) {
	switch size {
	case 1:
		Store8(addr, uint8(lo))
	case 2:
		Store16(addr, uint16(lo))
	case 4:
		Store32(addr, uint32(lo))
	case 8:
		Store64(addr, lo)
	case 16:
		Store64(addr, lo)
		Store64(addr+8, hi)
	default:
		panic("hostmem: unsupported access size")
	}
}

// CompareAndSwap atomically replaces the size-byte value at addr with new if
// it equals old, with sequentially consistent ordering. Sub-word widths are
// emulated with a CAS loop on the enclosing aligned 32-bit word, so addr must
// be naturally aligned.
func CompareAndSwap(addr uint64, size int, old, new uint64) bool {
	switch size {
	case 8:
		return atomic.CompareAndSwapUint64((*uint64)(ptr(addr)), old, new)
	case 4:
		return atomic.CompareAndSwapUint32((*uint32)(ptr(addr)), uint32(old), uint32(new))
	case 1, 2:
		word := addr &^ 3
		shift := (addr & 3) * 8
		mask := uint32(1)<<(uint(size)*8) - 1
		p := (*uint32)(ptr(word))
		for {
			cur := atomic.LoadUint32(p)
			if (cur>>shift)&mask != uint32(old)&mask {
				return false
			}
			next := cur&^(mask<<shift) | (uint32(new)&mask)<<shift
			if atomic.CompareAndSwapUint32(p, cur, next) {
				return true
			}
		}
	}
	panic("hostmem: unsupported compare-and-swap size")
}
