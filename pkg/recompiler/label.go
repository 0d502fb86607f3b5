package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/ir"
)

// LabelTag names a block before it exists. The id is fixed at creation so
// references can be counted while the block is still unmaterialized.
type LabelTag struct {
	id      int
	block   *ir.Block
	factory func() *ir.Block

	refs   int  // emitted jumps to the tag
	pinned bool // named by a conditional branch
	placed bool // Label has run
}

func (t *LabelTag) ID() int { return t.id }

// Resolved reports whether the block exists yet
func (t *LabelTag) Resolved() bool { return t.block != nil }

// Block materializes the tag's block on first use
func (t *LabelTag) Block() *ir.Block {
	if t.block == nil {
		if t.factory == nil {
			errors.Invariantf("label %d has no block factory", t.id)
		}
		t.block = t.factory()
		t.factory = nil
	}
	return t.block
}

// mark is an instruction position that may later become a block boundary
type mark struct {
	block *ir.Block
	index int
}

func (r *Recompiler) newTag(factory func() *ir.Block) *LabelTag {
	t := &LabelTag{id: r.nextLabel, factory: factory}
	r.nextLabel++
	return t
}

// DefineLabel returns a tag whose block is created on first use
func (r *Recompiler) DefineLabel() *LabelTag {
	return r.newTag(func() *ir.Block { return r.fn.NewBlock("") })
}

// NewLabel returns a tag for an existing block
func (r *Recompiler) NewLabel(b *ir.Block) *LabelTag {
	t := r.newTag(nil)
	t.block = b
	return t
}

// markHere records the current insertion position
func (r *Recompiler) markHere() *mark {
	cur := r.b.InsertBlock()
	m := &mark{block: cur, index: cur.Len()}
	r.marks = append(r.marks, m)
	return m
}

// splitAt turns a recorded position into the start of a block
func (r *Recompiler) splitAt(m *mark) *ir.Block {
	if m.index == 0 {
		return m.block
	}
	old, at := m.block, m.index
	nb, err := r.fn.SplitBlock(old, at)
	if err != nil {
		panic(err)
	}
	for _, o := range r.marks {
		if o.block == old && o.index >= at {
			o.block = nb
			o.index -= at
		}
	}
	if r.b.InsertBlock() == old {
		r.b.SetInsertPoint(nb)
	}
	return nb
}

// Label moves emission to the tag's block. Directly after an emitted
// Branch to the same, otherwise unreferenced tag, the jump is taken back
// and emission simply continues; the tag then names the current position
// and splits the block if something jumps to it later.
func (r *Recompiler) Label(t *LabelTag) {
	if t.placed {
		errors.Invariantf("label %d placed twice", t.id)
	}
	t.placed = true

	cur := r.b.InsertBlock()
	if r.justBranched && r.lastBranch == t && r.lastJump != nil &&
		t.refs == 1 && !t.pinned && cur.Terminator() == r.lastJump {
		r.b.RemoveTerminator(cur)
		if err := r.fn.RemoveBlock(t.block); err != nil {
			panic(err)
		}
		m := r.markHere()
		t.block = nil
		t.refs = 0
		t.factory = func() *ir.Block { return r.splitAt(m) }
		r.clearBranch()
		r.elided++
		return
	}

	blk := t.Block()
	if cur != nil && !cur.Terminated() {
		// plain fallthrough into the label
		r.b.Br(blk)
		t.refs++
	}
	r.b.SetInsertPoint(blk)
	r.clearBranch()
}

func (r *Recompiler) clearBranch() {
	r.justBranched = false
	r.lastBranch = nil
	r.lastJump = nil
}

// Branch jumps to t. Directly after another unconditional branch the jump
// is dead and is not emitted, but t is still remembered as the last target.
func (r *Recompiler) Branch(t *LabelTag) {
	if r.justBranched {
		r.lastBranch = t
		r.lastJump = nil
		return
	}
	r.lastJump = r.b.Br(t.Block())
	r.lastBranch = t
	t.refs++
	r.justBranched = true
}

// BranchIf jumps to ifTag when cond holds, else to elseTag. Both tags are
// pinned against elision even when the branch itself is dead code.
func (r *Recompiler) BranchIf(cond Expr, ifTag, elseTag *LabelTag) {
	ifTag.pinned = true
	elseTag.pinned = true
	if r.justBranched {
		return
	}
	if cond.typ != ir.I1 {
		errors.Invariantf("branch condition of type %v", cond.typ)
	}
	c := cond.Emit()
	// resolve after the condition: a split may move the insertion point
	ib := ifTag.Block()
	eb := elseTag.Block()
	r.b.CondBr(c, ib, eb)
	ifTag.refs++
	elseTag.refs++
	r.justBranched = true
	r.lastBranch = nil
	r.lastJump = nil
}

// Branched reports whether the current path ended in a control transfer
func (r *Recompiler) Branched() bool { return r.branched }
