package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// Block is a basic block: straight-line values ending in one terminator
type Block struct {
	id     int
	name   string
	fn     *Function
	instrs []*Value
}

func (b *Block) ID() int             { return b.id }
func (b *Block) Name() string        { return b.name }
func (b *Block) Function() *Function { return b.fn }
func (b *Block) Instrs() []*Value    { return b.instrs }
func (b *Block) Len() int            { return len(b.instrs) }

// Terminator returns the final branch or return, or nil while the block is
// still open
func (b *Block) Terminator() *Value {
	if len(b.instrs) == 0 {
		return nil
	}
	if last := b.instrs[len(b.instrs)-1]; last.op.IsTerminator() {
		return last
	}
	return nil
}

// Terminated reports whether the block already ends in a terminator
func (b *Block) Terminated() bool {
	return b.Terminator() != nil
}

// Succs returns the successor blocks
func (b *Block) Succs() []*Block {
	if t := b.Terminator(); t != nil {
		return t.targets
	}
	return nil
}

func (b *Block) label() string {
	if b.name != "" {
		return fmt.Sprintf("b%d.%s", b.id, b.name)
	}
	return fmt.Sprintf("b%d", b.id)
}

// removeLast drops the final value of the block
func (b *Block) removeLast() *Value {
	last := b.instrs[len(b.instrs)-1]
	b.instrs = b.instrs[:len(b.instrs)-1]
	last.block = nil
	return last
}

// Function is a translation unit's IR: parameters plus basic blocks, the
// first of which is the entry
type Function struct {
	Name   string
	params []*Value
	blocks []*Block

	nextValue int
	nextBlock int
}

// NewFunction creates an empty function taking the given parameters
func NewFunction(name string, params ...Type) *Function {
	f := &Function{Name: name}
	for i, t := range params {
		f.params = append(f.params, &Value{id: f.newID(), op: OpParam, typ: t, aux: uint64(i)})
	}
	return f
}

func (f *Function) newID() int {
	id := f.nextValue
	f.nextValue++
	return id
}

// NumValues bounds every value ID in the function
func (f *Function) NumValues() int { return f.nextValue }

func (f *Function) Param(i int) *Value { return f.params[i] }
func (f *Function) Params() []*Value   { return f.params }
func (f *Function) Blocks() []*Block   { return f.blocks }

// Entry returns the first block
func (f *Function) Entry() *Block {
	if len(f.blocks) == 0 {
		return nil
	}
	return f.blocks[0]
}

// NewBlock appends an empty block
func (f *Function) NewBlock(name string) *Block {
	b := &Block{id: f.nextBlock, name: name, fn: f}
	f.nextBlock++
	f.blocks = append(f.blocks, b)
	return b
}

// Preds computes the predecessor lists of every block
func (f *Function) Preds() map[*Block][]*Block {
	preds := make(map[*Block][]*Block, len(f.blocks))
	for _, b := range f.blocks {
		for _, s := range b.Succs() {
			preds[s] = append(preds[s], b)
		}
	}
	return preds
}

// referenced reports whether any terminator or phi names b
func (f *Function) referenced(b *Block) bool {
	for _, other := range f.blocks {
		for _, v := range other.instrs {
			if v.op.IsTerminator() || v.op == OpPhi {
				if slices.Contains(v.targets, b) {
					return true
				}
			}
		}
	}
	return false
}

// RemoveBlock deletes an empty, unreferenced block
func (f *Function) RemoveBlock(b *Block) error {
	if b.fn != f {
		return errors.AssertionFailedf("block %s belongs to another function", b.label())
	}
	if len(b.instrs) != 0 {
		return errors.AssertionFailedf("block %s is not empty", b.label())
	}
	if f.referenced(b) {
		return errors.AssertionFailedf("block %s is still referenced", b.label())
	}
	i := slices.Index(f.blocks, b)
	if i < 0 {
		return errors.AssertionFailedf("block %s already removed", b.label())
	}
	f.blocks = slices.Delete(f.blocks, i, i+1)
	b.fn = nil
	return nil
}

// SplitBlock moves the values of b from index onwards into a new block placed
// right after b, and ends b with a branch to it. Phis in the successors of a
// moved terminator are rewritten to name the new block. Splitting at 0 is not
// allowed: the caller should use b itself.
func (f *Function) SplitBlock(b *Block, index int) (*Block, error) {
	if b.fn != f {
		return nil, errors.AssertionFailedf("block %s belongs to another function", b.label())
	}
	if index <= 0 || index > len(b.instrs) {
		return nil, errors.AssertionFailedf("split index %d out of range for %s (%d values)", index, b.label(), len(b.instrs))
	}
	for _, v := range b.instrs[index:] {
		if v.op == OpPhi {
			return nil, errors.AssertionFailedf("split of %s would separate a phi", b.label())
		}
	}

	nb := &Block{id: f.nextBlock, fn: f}
	f.nextBlock++
	pos := slices.Index(f.blocks, b)
	f.blocks = slices.Insert(f.blocks, pos+1, nb)

	nb.instrs = append(nb.instrs, b.instrs[index:]...)
	b.instrs = b.instrs[:index:index]
	for _, v := range nb.instrs {
		v.block = nb
	}

	for _, s := range nb.Succs() {
		for _, v := range s.instrs {
			if v.op != OpPhi {
				break
			}
			for i, from := range v.targets {
				if from == b {
					v.targets[i] = nb
				}
			}
		}
	}

	br := &Value{id: f.newID(), op: OpBr, typ: Void, block: b, targets: []*Block{nb}}
	b.instrs = append(b.instrs, br)
	return nb, nil
}

// RemoveUnreachable drops blocks not reachable from the entry and returns how
// many were removed
func (f *Function) RemoveUnreachable() int {
	if len(f.blocks) == 0 {
		return 0
	}
	seen := map[*Block]bool{f.blocks[0]: true}
	work := []*Block{f.blocks[0]}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range b.Succs() {
			if !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}

	kept := f.blocks[:0]
	removed := 0
	for _, b := range f.blocks {
		if seen[b] {
			kept = append(kept, b)
			continue
		}
		b.fn = nil
		removed++
	}
	f.blocks = kept

	if removed > 0 {
		for _, b := range f.blocks {
			for _, v := range b.instrs {
				if v.op != OpPhi {
					break
				}
				args, from := v.args[:0], v.targets[:0]
				for i, pred := range v.targets {
					if seen[pred] {
						args = append(args, v.args[i])
						from = append(from, pred)
					}
				}
				v.args, v.targets = args, from
			}
		}
	}
	return removed
}

// Verify checks the structural invariants a backend relies on: every block
// ends in exactly one terminator, branch targets belong to this function,
// phis lead their block and have one incoming edge per predecessor, and every
// operand is defined in this function.
func (f *Function) Verify() error {
	if len(f.blocks) == 0 {
		return errors.Newf("function %s has no blocks", f.Name)
	}
	owned := make(map[*Block]bool, len(f.blocks))
	for _, b := range f.blocks {
		owned[b] = true
	}
	defined := make(map[*Value]bool, f.nextValue)
	for _, p := range f.params {
		defined[p] = true
	}
	for _, b := range f.blocks {
		for _, v := range b.instrs {
			defined[v] = true
		}
	}
	preds := f.Preds()

	for _, b := range f.blocks {
		if len(b.instrs) == 0 {
			return errors.Newf("%s: empty block", b.label())
		}
		inPhis := true
		for i, v := range b.instrs {
			if v.block != b {
				return errors.Newf("%s: value %%%d has wrong parent", b.label(), v.id)
			}
			if v.op.IsTerminator() != (i == len(b.instrs)-1) {
				return errors.Newf("%s: terminator must be last (value %%%d)", b.label(), v.id)
			}
			if v.op == OpPhi {
				if !inPhis {
					return errors.Newf("%s: phi %%%d after non-phi", b.label(), v.id)
				}
				if len(v.targets) != len(preds[b]) {
					return errors.Newf("%s: phi %%%d has %d edges for %d predecessors", b.label(), v.id, len(v.targets), len(preds[b]))
				}
				for _, from := range v.targets {
					if !slices.Contains(preds[b], from) {
						return errors.Newf("%s: phi %%%d names non-predecessor %s", b.label(), v.id, from.label())
					}
				}
			} else {
				inPhis = false
			}
			for _, a := range v.args {
				if !defined[a] {
					return errors.Newf("%s: value %%%d uses undefined %%%d", b.label(), v.id, a.id)
				}
			}
			if v.op.IsTerminator() {
				for _, t := range v.targets {
					if !owned[t] {
						return errors.Newf("%s: branch to foreign block %s", b.label(), t.label())
					}
				}
			}
		}
	}
	return nil
}

// String renders the function in a readable LLVM-like syntax
func (f *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s(", f.Name)
	for i, p := range f.params {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%%%d: %v", p.id, p.typ)
	}
	sb.WriteString(") {\n")
	for _, b := range f.blocks {
		fmt.Fprintf(&sb, "%s:\n", b.label())
		for _, v := range b.instrs {
			sb.WriteString("  ")
			sb.WriteString(v.String())
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (v *Value) String() string {
	ref := func(a *Value) string { return fmt.Sprintf("%%%d", a.id) }
	var rhs string
	switch v.op {
	case OpConst:
		if v.typ.Bits() > 64 {
			rhs = fmt.Sprintf("const %v 0x%x_%016x", v.typ, v.auxHi, v.aux)
		} else {
			rhs = fmt.Sprintf("const %v 0x%x", v.typ, v.aux)
		}
	case OpAlloca:
		rhs = fmt.Sprintf("alloca %v", v.elem)
	case OpLoad:
		rhs = fmt.Sprintf("load %v, %s", v.typ, ref(v.args[0]))
	case OpStore:
		return fmt.Sprintf("store %s, %s", ref(v.args[0]), ref(v.args[1]))
	case OpBinary:
		rhs = fmt.Sprintf("%v %v %s, %s", v.BinOp(), v.typ, ref(v.args[0]), ref(v.args[1]))
	case OpICmp:
		rhs = fmt.Sprintf("icmp %v %s, %s", v.Pred(), ref(v.args[0]), ref(v.args[1]))
	case OpExtractElement:
		rhs = fmt.Sprintf("extractelement %s, %d", ref(v.args[0]), v.aux)
	case OpInsertElement:
		rhs = fmt.Sprintf("insertelement %s, %s, %d", ref(v.args[0]), ref(v.args[1]), v.aux)
	case OpCall:
		args := make([]string, len(v.args))
		for i, a := range v.args {
			args[i] = ref(a)
		}
		rhs = fmt.Sprintf("call %v 0x%x(%s)", v.typ, v.aux, strings.Join(args, ", "))
		if v.typ.IsVoid() {
			return rhs
		}
	case OpCmpXchg:
		rhs = fmt.Sprintf("cmpxchg %s, %s, %s seq_cst seq_cst", ref(v.args[0]), ref(v.args[1]), ref(v.args[2]))
	case OpPhi:
		edges := make([]string, len(v.args))
		for i, a := range v.args {
			edges[i] = fmt.Sprintf("[%s, %s]", ref(a), v.targets[i].label())
		}
		rhs = fmt.Sprintf("phi %v %s", v.typ, strings.Join(edges, ", "))
	case OpBr:
		return "br " + v.targets[0].label()
	case OpCondBr:
		return fmt.Sprintf("br %s, %s, %s", ref(v.args[0]), v.targets[0].label(), v.targets[1].label())
	case OpRet:
		if len(v.args) == 0 {
			return "ret void"
		}
		return "ret " + ref(v.args[0])
	default:
		args := make([]string, len(v.args))
		for i, a := range v.args {
			args[i] = ref(a)
		}
		rhs = fmt.Sprintf("%v %s to %v", v.op, strings.Join(args, ", "), v.typ)
	}
	return fmt.Sprintf("%%%d = %s", v.id, rhs)
}
