// Package engine ties the recompiler, a code-generation backend and the
// block cache together: it compiles each entry address once per cache
// generation and dispatches guest threads from unit to unit.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"a64rec/pkg/backend"
	"a64rec/pkg/cache"
	"a64rec/pkg/hostcall"
	"a64rec/pkg/metrics"
	"a64rec/pkg/profile"
	"a64rec/pkg/recompiler"

	"github.com/cockroachdb/errors"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger("a64rec.engine")

// SyscallFunc services a supervisor call raised by thread t. Returning
// hostcall.Continue resumes translated code after the call; anything else
// leaves the unit and dispatch resumes at the instruction after the call
// unless the handler exited the thread.
type SyscallFunc func(t *Thread, num uint32) int32

// Params wires an Engine
type Params struct {
	Decoder  recompiler.Decoder
	Code     recompiler.CodeReader
	Compiler backend.Compiler
	// Host receives the syscall trampoline target; it must be the table the
	// backend resolves calls through
	Host    *hostcall.Table
	Syscall SyscallFunc
	Options recompiler.Options
	// Workers bounds Precompile; zero means one per CPU
	Workers int
	Profile *profile.Store
	Metrics *metrics.Metrics
}

// Engine compiles and runs guest code. It is safe for concurrent use.
type Engine struct {
	decoder  recompiler.Decoder
	code     recompiler.CodeReader
	compiler backend.Compiler
	opts     recompiler.Options
	workers  int
	profile  *profile.Store
	metrics  *metrics.Metrics
	onSvc    SyscallFunc

	cache *cache.Cache
	group singleflight.Group

	mu      sync.RWMutex
	threads map[uint64]*Thread
}

// New creates an engine with an empty cache
func New(p Params) *Engine {
	e := &Engine{
		decoder:  p.Decoder,
		code:     p.Code,
		compiler: p.Compiler,
		opts:     p.Options,
		workers:  p.Workers,
		profile:  p.Profile,
		metrics:  p.Metrics,
		onSvc:    p.Syscall,
		cache:    cache.New(p.Metrics),
		threads:  make(map[uint64]*Thread),
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	if p.Host != nil && e.opts.SyscallEntry == 0 {
		e.opts.SyscallEntry = p.Host.RegisterSyscall(e.syscall)
	}
	return e
}

// Cache exposes the block cache
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Options returns the translation options, including the syscall entry
func (e *Engine) Options() recompiler.Options { return e.opts }

// Compile returns the published Block for addr, translating it if this
// generation has not done so yet. Concurrent callers share one translation.
// A failed translation is reported to every waiter and retried by the next
// call.
func (e *Engine) Compile(addr uint64) (*cache.Block, error) {
	blk := e.cache.GetBlock(addr)
	if blk.Compiled() {
		return blk, nil
	}

	key := fmt.Sprintf("%d:%x", blk.Generation(), addr)
	_, err, _ := e.group.Do(key, func() (interface{}, error) {
		if blk.Compiled() {
			return nil, nil
		}
		return nil, e.build(blk)
	})
	if err != nil {
		return nil, err
	}
	return blk, nil
}

func (e *Engine) build(blk *cache.Block) error {
	start := time.Now()
	log.Debugf("translating 0x%x", blk.Addr)

	unit, err := recompiler.New(e.decoder, e.code, e.opts).Recompile(blk.Addr)
	if err != nil {
		e.metrics.CompileFailed()
		log.Errorf("translation of 0x%x failed: %v", blk.Addr, err)
		return err
	}

	entry, err := e.compiler.Compile(unit.Function)
	if err != nil {
		e.metrics.CompileFailed()
		log.Errorf("backend rejected unit 0x%x: %v", blk.Addr, err)
		return errors.Wrapf(err, "compile unit 0x%x", blk.Addr)
	}

	s := cache.Summary{
		Instructions: unit.Instructions(),
		Exits:        unit.Exits,
		Fingerprint:  unit.Fingerprint,
	}
	if !blk.Publish(entry, s) {
		return nil
	}
	took := time.Since(start)
	e.metrics.Compiled(unit.Instructions(), took)
	log.Debugf("unit 0x%x: %d instructions, %d exits, %d jumps elided in %s",
		blk.Addr, unit.Instructions(), unit.Exits, unit.Elided, took)

	e.record(unit)
	return nil
}

func (e *Engine) record(unit *recompiler.Unit) {
	if e.profile == nil {
		return
	}
	err := e.profile.Put(profile.Record{
		Entry:        unit.Entry,
		Fingerprint:  unit.Fingerprint,
		Instructions: unit.Instructions(),
		Exits:        unit.Exits,
		CompiledAt:   time.Now().UnixNano(),
	})
	if err != nil {
		e.metrics.ProfileWriteFailed()
		log.Warningf("cannot record unit 0x%x: %v", unit.Entry, err)
	}
}

// Precompile translates addrs in parallel, at most Workers at a time. It
// stops at the first failure.
func (e *Engine) Precompile(ctx context.Context, addrs []uint64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, addr := range addrs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := e.Compile(addr)
			return err
		})
	}
	return g.Wait()
}

// Warm precompiles every entry in the profile and returns how many there
// were. Entries whose guest code changed since they were recorded are
// compiled anyway and reported.
func (e *Engine) Warm(ctx context.Context) (int, error) {
	if e.profile == nil {
		return 0, nil
	}
	records, err := e.profile.Records()
	if err != nil {
		return 0, err
	}
	addrs := make([]uint64, len(records))
	for i, rec := range records {
		addrs[i] = rec.Entry
	}
	if err := e.Precompile(ctx, addrs); err != nil {
		return 0, err
	}

	for _, rec := range records {
		blk, ok := e.cache.Lookup(rec.Entry)
		if ok && blk.Summary().Fingerprint != rec.Fingerprint {
			log.Noticef("guest code at 0x%x changed since it was profiled", rec.Entry)
		}
	}
	log.Infof("warmed %d units", len(records))
	return len(records), nil
}

// Invalidate discards every translation. Threads running a unit finish it
// normally; their next dispatch retranslates.
func (e *Engine) Invalidate() {
	e.cache.Clear()
	log.Noticef("translation cache invalidated, generation %d", e.cache.Generation())
}
