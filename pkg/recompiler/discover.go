package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/ir"
	"a64rec/pkg/state"
)

// NoLink marks a path with no known return address
const NoLink = ^uint64(0)

// BlockContext travels with every queued address. It is copied, never
// shared, so sibling paths cannot see each other's changes.
type BlockContext struct {
	// LR is the return address of the innermost call on this path
	LR uint64
}

type workItem struct {
	ctx  BlockContext
	addr uint64
}

type labelPair struct {
	pre, post *LabelTag
}

// labelFor returns the label of a guest address. An address translated
// already gets a label that splits its block when first used; any other
// address is queued for translation under ctx.
func (r *Recompiler) labelFor(addr uint64, ctx BlockContext) *LabelTag {
	if t, ok := r.blockLabels[addr]; ok {
		return t
	}
	var t *LabelTag
	if m, ok := r.positions[addr]; ok {
		t = r.newTag(func() *ir.Block { return r.splitAt(m) })
		t.placed = true
	} else {
		t = r.DefineLabel()
		r.worklist = append(r.worklist, workItem{ctx: ctx, addr: addr})
	}
	r.blockLabels[addr] = t
	return t
}

// AddressLabel returns the label of addr under the current path context
func (r *Recompiler) AddressLabel(addr uint64) *LabelTag {
	return r.labelFor(addr, r.ctx)
}

func (r *Recompiler) discover() {
	for len(r.worklist) > 0 {
		item := r.worklist[0]
		r.worklist = r.worklist[1:]
		r.translate(item)
	}
}

func (r *Recompiler) budgetSpent() bool {
	return r.opts.MaxInstructions > 0 && len(r.words) >= r.opts.MaxInstructions
}

// translate emits straight-line code from item.addr until the path
// branches or runs into an address that already has a label
func (r *Recompiler) translate(item workItem) {
	r.ctx = item.ctx
	r.Label(r.blockLabels[item.addr])

	for pc := item.addr; ; pc += InstructionSize {
		if pc != item.addr {
			if t, ok := r.blockLabels[pc]; ok {
				r.Branch(t)
				return
			}
		}
		r.pc = pc
		r.branched = false
		if r.budgetSpent() {
			r.Exit(r.I64(pc))
			return
		}

		r.positions[pc] = r.markHere()
		word, ok := r.code.Word(pc)
		var h Handler
		if ok {
			h = r.decoder.Lookup(word)
		}
		if h == nil {
			// not ours to translate: let dispatch deal with it
			r.Exit(r.I64(pc))
			return
		}
		r.words[pc] = word
		h(r, word, pc)
		if r.branched {
			return
		}
		if r.b.InsertBlock().Terminated() {
			errors.Invariantf("handler at 0x%x terminated its block without branching", pc)
		}
	}
}

func (r *Recompiler) decodable(addr uint64) bool {
	word, ok := r.code.Word(addr)
	return ok && r.decoder.Lookup(word) != nil
}

// Exit stages target in BranchTo and leaves the unit through the flush
// sequence
func (r *Recompiler) Exit(target Expr) {
	if !r.justBranched {
		r.BranchTo.Set(target)
		r.exits++
	}
	r.Branch(r.storePairs[0].pre)
	r.branched = true
}

func (r *Recompiler) branchAddress(addr uint64, ctx BlockContext) {
	if r.opts.SingleBlock {
		r.Exit(r.I64(addr))
		return
	}
	r.Branch(r.labelFor(addr, ctx))
	r.branched = true
}

// BranchAddress jumps to a guest address
func (r *Recompiler) BranchAddress(addr uint64) {
	r.branchAddress(addr, r.ctx)
}

// withLink stages the return address in X30 and returns the context the
// callee path runs under
func (r *Recompiler) withLink() BlockContext {
	next := r.pc + InstructionSize
	r.X.Set(state.LinkReg, r.I64(next))
	if r.opts.SingleBlock || !r.decodable(next) {
		return r.ctx
	}
	r.labelFor(next, r.ctx)
	linked := r.ctx
	linked.LR = next
	return linked
}

// BranchLinked is a call to a guest address
func (r *Recompiler) BranchLinked(addr uint64) {
	r.branchAddress(addr, r.withLink())
}

func (r *Recompiler) branchRegister(target Expr, reg int, ctx BlockContext) {
	if reg == state.LinkReg && r.opts.PredictReturns && !r.opts.SingleBlock && ctx.LR != NoLink {
		hit, miss := r.DefineLabel(), r.DefineLabel()
		r.BranchIf(r.Eq(target, r.I64(ctx.LR)), hit, miss)
		r.Label(hit)
		r.branchAddress(ctx.LR, ctx)
		r.Label(miss)
	}
	r.Exit(target)
}

// BranchRegister jumps to the address held in register reg
func (r *Recompiler) BranchRegister(reg int) {
	r.branchRegister(r.Let(r.X.Get(reg)), reg, r.ctx)
}

// BranchLinkedRegister calls the address held in register reg. The target
// is read before X30 is overwritten.
func (r *Recompiler) BranchLinkedRegister(reg int) {
	target := r.Let(r.X.Get(reg))
	ctx := r.withLink()
	// the callee is unknown, so there is nothing to predict
	r.branchRegister(target, -1, ctx)
}

// BranchConditional jumps to target when cond holds and otherwise keeps
// translating the next instruction on the current path
func (r *Recompiler) BranchConditional(cond Expr, target uint64) {
	fall := r.DefineLabel()
	if r.opts.SingleBlock {
		taken := r.DefineLabel()
		r.BranchIf(cond, taken, fall)
		r.Label(taken)
		r.Exit(r.I64(target))
	} else {
		r.BranchIf(cond, r.AddressLabel(target), fall)
	}
	r.Label(fall)
	r.branched = false
}
