// Package recompiler translates guest ARM64 code into IR translation units.
//
// A Recompiler owns one unit at a time. Instruction handlers supplied by a
// Decoder emit IR through the register views (X, V, NZCV, ...) and the
// branch helpers; guest state is shadowed in per-unit locals that are
// loaded in the prologue and flushed at every exit and system call.
package recompiler

import (
	"encoding/binary"
	"fmt"
	"slices"

	"a64rec/pkg/errors"
	"a64rec/pkg/ir"

	"golang.org/x/crypto/blake2b"
)

// InstructionSize is the width of every guest instruction
const InstructionSize = 4

// Handler emits IR for one decoded instruction word at pc
type Handler func(r *Recompiler, inst uint32, pc uint64)

// Decoder maps an instruction word to its handler, or nil when the word is
// not decodable
type Decoder interface {
	Lookup(inst uint32) Handler
}

// CodeReader fetches guest instruction words
type CodeReader interface {
	Word(addr uint64) (uint32, bool)
}

// Options controls how much of the control flow graph a unit covers
type Options struct {
	// SingleBlock exits through the dispatch trampoline on every branch
	// instead of creating local labels
	SingleBlock bool
	// PredictReturns turns a return to the link value of a known call
	// site into a local branch
	PredictReturns bool
	// MaxInstructions bounds the instructions translated into one unit;
	// zero means unbounded
	MaxInstructions int
	// SyscallEntry is the absolute address of the system call handler
	SyscallEntry uint64
}

// Unit is one translated entry address
type Unit struct {
	Entry     uint64
	Function  *ir.Function
	Addresses []uint64
	// Fingerprint is a blake2b-256 digest of the translated words, used to
	// notice that guest code changed under a cached translation
	Fingerprint [32]byte
	Exits       int
	Elided      int
}

// Instructions is the number of guest instructions in the unit
func (u *Unit) Instructions() int { return len(u.Addresses) }

// Recompiler builds translation units. It is not safe for concurrent use;
// create one per goroutine.
type Recompiler struct {
	decoder Decoder
	code    CodeReader
	opts    Options

	// views, built once
	X, V, VB, VH, VS, VD Bank

	NZCV, GuestPC, SP, TlsBase, BranchTo Ref
	FlagN, FlagZ, FlagC, FlagV           Ref

	Exclusive8, Exclusive16, Exclusive32, Exclusive64 Ref

	// per unit
	fn        *ir.Function
	b         *ir.Builder
	stateAddr *ir.Value
	prologue  *ir.Block

	locals     map[int]*Local
	localOrder []*Local

	nextLabel    int
	justBranched bool
	lastBranch   *LabelTag
	lastJump     *ir.Value
	elided       int
	marks        []*mark

	storePairs []labelPair
	loadPairs  []labelPair

	ctx         BlockContext
	pc          uint64
	branched    bool
	worklist    []workItem
	blockLabels map[uint64]*LabelTag
	positions   map[uint64]*mark
	words       map[uint64]uint32
	exits       int
}

// New returns a Recompiler reading code through code and decoding it with
// decoder
func New(decoder Decoder, code CodeReader, opts Options) *Recompiler {
	r := &Recompiler{decoder: decoder, code: code, opts: opts}
	r.buildViews()
	return r
}

func (r *Recompiler) Options() Options { return r.opts }

// Builder exposes the IR builder for handlers that need raw instructions
func (r *Recompiler) Builder() *ir.Builder { return r.b }

// StateAddr is the unit's parameter: the address of the guest CpuState
func (r *Recompiler) StateAddr() Expr { return Value(r.stateAddr) }

// PC is the address of the instruction being translated
func (r *Recompiler) PC() uint64 { return r.pc }

// Context is the path context of the instruction being translated
func (r *Recompiler) Context() BlockContext { return r.ctx }

func (r *Recompiler) reset(entry uint64) {
	r.fn = ir.NewFunction(fmt.Sprintf("unit_%x", entry), ir.I64)
	r.b = ir.NewBuilder(r.fn)
	r.stateAddr = r.fn.Param(0)
	r.prologue = r.fn.NewBlock("prologue")

	r.locals = make(map[int]*Local)
	r.localOrder = nil

	r.nextLabel = 0
	r.clearBranch()
	r.elided = 0
	r.marks = nil

	r.storePairs = nil
	r.loadPairs = nil
	// pair 0 is the unit exit: flush, then return to dispatch
	r.storePairs = append(r.storePairs, labelPair{pre: r.DefineLabel(), post: r.DefineLabel()})

	r.ctx = BlockContext{LR: NoLink}
	r.pc = entry
	r.branched = false
	r.worklist = nil
	r.blockLabels = make(map[uint64]*LabelTag)
	r.positions = make(map[uint64]*mark)
	r.words = make(map[uint64]uint32)
	r.exits = 0
}

// Recompile translates the code reachable from entry into one unit.
// Invariant violations raised while emitting come back as the error.
func (r *Recompiler) Recompile(entry uint64) (unit *Unit, err error) {
	defer func() {
		if err != nil {
			unit = nil
			if !errors.IsTranslationError(err) {
				err = errors.WrapTranslationError(err, entry, "recompile failed")
			}
		}
	}()
	defer errors.Recover(&err)

	r.reset(entry)
	entryTag := r.labelFor(entry, r.ctx)
	r.discover()
	return r.finish(entry, entryTag)
}

// finish fills in the flush/reload sequences now that the set of used
// locals is final, then builds the prologue and prunes dead blocks
func (r *Recompiler) finish(entry uint64, entryTag *LabelTag) (*Unit, error) {
	for i, p := range r.storePairs {
		if p.pre.Resolved() {
			r.b.SetInsertPoint(p.pre.Block())
			r.storeLocals()
			r.b.Br(p.post.Block())
		}
		if i == 0 && p.post.Resolved() {
			r.b.SetInsertPoint(p.post.Block())
			r.b.Ret(nil)
		}
	}
	for _, p := range r.loadPairs {
		if p.pre.Resolved() {
			r.b.SetInsertPoint(p.pre.Block())
			r.loadLocals()
			r.b.Br(p.post.Block())
		}
	}

	r.b.SetInsertPoint(r.prologue)
	r.loadLocals()
	r.b.Br(entryTag.Block())

	r.fn.RemoveUnreachable()
	if err := r.fn.Verify(); err != nil {
		return nil, errors.WrapTranslationError(err, entry, "malformed unit")
	}

	addrs := make([]uint64, 0, len(r.words))
	for a := range r.words {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)

	h, _ := blake2b.New256(nil)
	var buf [12]byte
	for _, a := range addrs {
		binary.LittleEndian.PutUint64(buf[:8], a)
		binary.LittleEndian.PutUint32(buf[8:], r.words[a])
		h.Write(buf[:])
	}

	u := &Unit{
		Entry:     entry,
		Function:  r.fn,
		Addresses: addrs,
		Exits:     r.exits,
		Elided:    r.elided,
	}
	copy(u.Fingerprint[:], h.Sum(nil))
	return u, nil
}
