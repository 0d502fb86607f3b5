//go:build unix

package hostmem

import (
	"testing"
)

func newTestRegion(t *testing.T, size int) *Region {
	t.Helper()
	r, err := NewRegion(size)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	t.Cleanup(func() {
		if err := r.Free(); err != nil {
			t.Errorf("Free: %v", err)
		}
	})
	return r
}

// TestAllocateAlignment tests that allocations honour alignment and bounds
func TestAllocateAlignment(t *testing.T) {
	r := newTestRegion(t, 4096)

	a, err := r.Allocate(3, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a != r.Base() {
		t.Errorf("first allocation at 0x%x, want base 0x%x", a, r.Base())
	}

	b, err := r.Allocate(16, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b%16 != 0 {
		t.Errorf("allocation 0x%x not 16-byte aligned", b)
	}
	if b < a+3 {
		t.Errorf("allocations overlap: 0x%x < 0x%x", b, a+3)
	}

	if _, err := r.Allocate(8, 3); err == nil {
		t.Error("expected error for non power-of-two alignment")
	}
	if _, err := r.Allocate(8192, 8); err == nil {
		t.Error("expected out of memory error")
	}
}

// TestLoadStore tests raw access at every width
func TestLoadStore(t *testing.T) {
	r := newTestRegion(t, 4096)
	addr, err := r.Allocate(32, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	Store(addr, 8, 0x1122334455667788, 0)
	if got := Load8(addr); got != 0x88 {
		t.Errorf("Load8 = 0x%x, want 0x88 (little-endian)", got)
	}
	if got := Load16(addr); got != 0x7788 {
		t.Errorf("Load16 = 0x%x", got)
	}
	if got := Load32(addr + 4); got != 0x11223344 {
		t.Errorf("Load32 = 0x%x", got)
	}

	Store(addr+16, 16, 1, 2)
	lo, hi := Load(addr+16, 16)
	if lo != 1 || hi != 2 {
		t.Errorf("Load 16 bytes = (%d, %d), want (1, 2)", lo, hi)
	}

	if w, ok := r.Word(addr + 4); !ok || w != 0x11223344 {
		t.Errorf("Word = 0x%x, %v", w, ok)
	}
	if _, ok := r.Word(addr + 1); ok {
		t.Error("Word accepted a misaligned address")
	}
	if _, ok := r.Word(r.Base() + uint64(r.Capacity())); ok {
		t.Error("Word accepted an address past the region")
	}
}

// TestCompareAndSwapWidths tests success and failure at every supported width
func TestCompareAndSwapWidths(t *testing.T) {
	r := newTestRegion(t, 4096)
	addr, err := r.Allocate(16, 16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	for _, size := range []int{1, 2, 4, 8} {
		Store64(addr, 0)
		Store64(addr+8, 0xFFFFFFFFFFFFFFFF)
		target := addr + 8 - uint64(size) // top of the first word, next to the 0xFF guard

		Store(target, size, 5, 0)
		if CompareAndSwap(target, size, 4, 9) {
			t.Errorf("size %d: swap succeeded with stale comparand", size)
		}
		if lo, _ := Load(target, size); lo != 5 {
			t.Errorf("size %d: value changed on failure: %d", size, lo)
		}
		if !CompareAndSwap(target, size, 5, 9) {
			t.Errorf("size %d: swap failed with matching comparand", size)
		}
		if lo, _ := Load(target, size); lo != 9 {
			t.Errorf("size %d: value = %d, want 9", size, lo)
		}
		if Load64(addr+8) != 0xFFFFFFFFFFFFFFFF {
			t.Errorf("size %d: neighbouring word clobbered", size)
		}
	}
}

// TestReset tests that Reset zeroes used memory
func TestReset(t *testing.T) {
	r := newTestRegion(t, 4096)
	addr, _ := r.Allocate(8, 8)
	Store64(addr, 42)
	r.Reset()
	if r.Used() != 0 {
		t.Errorf("Used = %d after Reset", r.Used())
	}
	if Load64(addr) != 0 {
		t.Error("memory not cleared by Reset")
	}
}
