// Package hostcall assigns absolute call addresses to host-side Go functions
// so translated code can reach them with an ordinary call instruction.
package hostcall

import (
	"fmt"
	"sync"
)

// Continue is the system-call result that tells translated code to reload
// guest state and resume after the call site. Any other result makes the unit
// exit without reloading.
const Continue int32 = 1

// Func is a host function callable from translated code. Arguments and the
// result are passed as raw 64-bit values.
type Func func(args []uint64) uint64

// SyscallHandler services a guest system call. state is the address of the
// calling thread's CpuState, which has been flushed before the call.
type SyscallHandler func(num uint32, state uint64) int32

const (
	baseAddress = 0xFFFF_8000_0000_0000
	stride      = 0x10
)

type entry struct {
	name string
	fn   Func
}

// Table maps synthetic absolute addresses to host functions
type Table struct {
	mu    sync.RWMutex
	funcs map[uint64]entry
	next  uint64
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		funcs: make(map[uint64]entry),
		next:  baseAddress,
	}
}

// Register adds fn and returns the address translated code must call
func (t *Table) Register(name string, fn Func) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	addr := t.next
	t.next += stride
	t.funcs[addr] = entry{name: name, fn: fn}
	return addr
}

// RegisterSyscall adds the supervisor entry with the (i32 num, i64 state) ->
// i32 signature used by system-call trampolines
func (t *Table) RegisterSyscall(h SyscallHandler) uint64 {
	return t.Register("syscall", func(args []uint64) uint64 {
		return uint64(uint32(h(uint32(args[0]), args[1])))
	})
}

// Lookup returns the function registered at addr
func (t *Table) Lookup(addr uint64) (Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.funcs[addr]
	return e.fn, ok
}

// Name returns the registered name for addr, for IR dumps
func (t *Table) Name(addr uint64) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.funcs[addr]; ok {
		return e.name
	}
	return fmt.Sprintf("0x%x", addr)
}

// Len returns the number of registered functions
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.funcs)
}
