// Package cache arbitrates the identity of translation units: one Block per
// guest address per cache generation, however many threads ask at once.
// It does not compile anything itself.
package cache

import (
	"slices"
	"sync"
	"sync/atomic"

	"a64rec/pkg/backend"
	"a64rec/pkg/metrics"
)

// Summary describes the unit a Block was compiled from
type Summary struct {
	Instructions int
	Exits        int
	Fingerprint  [32]byte
}

type compiled struct {
	entry   backend.Entry
	summary Summary
}

// Block is the cache slot of one guest address. It starts pending and is
// published at most once.
type Block struct {
	Addr       uint64
	generation uint64
	code       atomic.Pointer[compiled]
}

// Generation is the cache generation the block was created in
func (b *Block) Generation() uint64 { return b.generation }

// Entry returns the compiled code, or nil while the block is pending
func (b *Block) Entry() backend.Entry {
	if c := b.code.Load(); c != nil {
		return c.entry
	}
	return nil
}

// Compiled reports whether the block has been published
func (b *Block) Compiled() bool { return b.code.Load() != nil }

// Summary returns the unit summary of a published block
func (b *Block) Summary() Summary {
	if c := b.code.Load(); c != nil {
		return c.summary
	}
	return Summary{}
}

// Publish stores the compiled entry. It returns false if the block was
// already published, in which case the existing entry is kept.
func (b *Block) Publish(entry backend.Entry, s Summary) bool {
	return b.code.CompareAndSwap(nil, &compiled{entry: entry, summary: s})
}

// Cache maps guest addresses to Blocks
type Cache struct {
	mu         sync.Mutex
	blocks     map[uint64]*Block
	generation uint64
	metrics    *metrics.Metrics
}

// New creates an empty cache; m may be nil
func New(m *metrics.Metrics) *Cache {
	return &Cache{
		blocks:  make(map[uint64]*Block),
		metrics: m,
	}
}

// GetBlock returns the Block for addr, creating a pending one if absent.
// Concurrent callers for the same address always get the same instance.
func (c *Cache) GetBlock(addr uint64) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.blocks[addr]; ok {
		c.metrics.CacheHit()
		return b
	}
	b := &Block{Addr: addr, generation: c.generation}
	c.blocks[addr] = b
	c.metrics.CacheMiss(len(c.blocks))
	return b
}

// Lookup returns the Block for addr without creating one
func (c *Cache) Lookup(addr uint64) (*Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[addr]
	return b, ok
}

// Clear drops every Block and starts a new generation. Blocks handed out
// before stay usable by their holders but are no longer returned.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = make(map[uint64]*Block)
	c.generation++
	c.metrics.Invalidated()
}

// Len is the number of cached Blocks
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Generation counts Clear calls
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Addresses lists cached addresses in ascending order
func (c *Cache) Addresses() []uint64 {
	c.mu.Lock()
	addrs := make([]uint64, 0, len(c.blocks))
	for a := range c.blocks {
		addrs = append(addrs, a)
	}
	c.mu.Unlock()
	slices.Sort(addrs)
	return addrs
}
