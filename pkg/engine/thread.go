package engine

import (
	"context"
	"sync/atomic"

	"a64rec/pkg/state"

	"github.com/cockroachdb/errors"
)

// Thread is one guest thread bound to an engine
type Thread struct {
	State *state.CpuState
	// Addr is the absolute address of State, the argument of every unit
	Addr uint64

	exited   atomic.Bool
	exitCode atomic.Int64
}

// Exit stops the thread after the current unit returns
func (t *Thread) Exit(code int64) {
	t.exitCode.Store(code)
	t.exited.Store(true)
}

// Exited returns the exit code once Exit has been called
func (t *Thread) Exited() (int64, bool) {
	if !t.exited.Load() {
		return 0, false
	}
	return t.exitCode.Load(), true
}

// Attach registers the CpuState at addr as a thread so system calls made
// from it reach the SyscallFunc
func (e *Engine) Attach(cpu *state.CpuState, addr uint64) *Thread {
	t := &Thread{State: cpu, Addr: addr}
	e.mu.Lock()
	e.threads[addr] = t
	e.mu.Unlock()
	return t
}

// Detach forgets t
func (e *Engine) Detach(t *Thread) {
	e.mu.Lock()
	delete(e.threads, t.Addr)
	e.mu.Unlock()
}

func (e *Engine) thread(addr uint64) *Thread {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threads[addr]
}

func (e *Engine) syscall(num uint32, addr uint64) int32 {
	t := e.thread(addr)
	if t == nil {
		log.Errorf("system call %d from unknown state 0x%x", num, addr)
		return 0
	}
	if e.onSvc == nil {
		log.Warningf("unhandled system call %d", num)
		return 0
	}
	return e.onSvc(t, num)
}

// Run executes t from pc until it exits or ctx is done. Each unit leaves the
// next guest address in BranchTo.
func (e *Engine) Run(ctx context.Context, t *Thread, pc uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		blk, err := e.Compile(pc)
		if err != nil {
			return errors.Wrapf(err, "dispatch 0x%x", pc)
		}
		if blk.Summary().Instructions == 0 {
			return errors.Newf("no translatable instruction at 0x%x", pc)
		}
		t.State.PC = pc
		blk.Entry().Call(t.Addr)
		e.metrics.Dispatched()

		if code, ok := t.Exited(); ok {
			log.Debugf("thread 0x%x exited with %d", t.Addr, code)
			return nil
		}
		pc = t.State.BranchTo
	}
}
