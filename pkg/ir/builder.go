package ir

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Builder appends values at an insertion block. Misuse (emitting into a
// terminated block, mismatched operand types) panics with an assertion
// failure; callers that translate guest code recover it into an error.
type Builder struct {
	fn  *Function
	cur *Block
}

// NewBuilder returns a builder for fn with no insertion point
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

func (b *Builder) Function() *Function { return b.fn }

// SetInsertPoint makes blk the block new values are appended to
func (b *Builder) SetInsertPoint(blk *Block) {
	if blk.fn != b.fn {
		panic(errors.AssertionFailedf("insert point %s is not in function %s", blk.label(), b.fn.Name))
	}
	b.cur = blk
}

// InsertBlock returns the current insertion block
func (b *Builder) InsertBlock() *Block { return b.cur }

func (b *Builder) emit(v *Value) *Value {
	if b.cur == nil {
		panic(errors.AssertionFailedf("no insertion point"))
	}
	if b.cur.Terminated() {
		panic(errors.AssertionFailedf("emitting %v into terminated block %s", v.op, b.cur.label()))
	}
	v.id = b.fn.newID()
	v.block = b.cur
	b.cur.instrs = append(b.cur.instrs, v)
	return v
}

func mismatch(op Op, want, got Type) {
	panic(errors.AssertionFailedf("%v: operand type %v, want %v", op, got, want))
}

// Const emits an integer, float-bits or pointer constant
func (b *Builder) Const(t Type, bits uint64) *Value {
	if t.Bits() < 64 {
		bits &= 1<<uint(t.Bits()) - 1
	}
	return b.emit(&Value{op: OpConst, typ: t, aux: bits})
}

// ConstF32 emits a float constant
func (b *Builder) ConstF32(f float32) *Value {
	return b.Const(F32, uint64(math.Float32bits(f)))
}

// ConstF64 emits a double constant
func (b *Builder) ConstF64(f float64) *Value {
	return b.Const(F64, math.Float64bits(f))
}

// ConstVector emits a 128-bit constant from its low and high halves
func (b *Builder) ConstVector(t Type, lo, hi uint64) *Value {
	if !t.IsVector() || t.Bits() != 128 {
		panic(errors.AssertionFailedf("ConstVector of %v", t))
	}
	return b.emit(&Value{op: OpConst, typ: t, aux: lo, auxHi: hi})
}

// Zero emits the all-zero value of t
func (b *Builder) Zero(t Type) *Value {
	if t.IsVector() {
		return b.ConstVector(t, 0, 0)
	}
	return b.Const(t, 0)
}

// Alloca reserves a stack slot of type t in the entry block, ahead of every
// non-alloca value, regardless of the insertion point
func (b *Builder) Alloca(t Type) *Value {
	entry := b.fn.Entry()
	if entry == nil {
		panic(errors.AssertionFailedf("alloca without entry block"))
	}
	v := &Value{id: b.fn.newID(), op: OpAlloca, typ: Ptr, elem: t, block: entry}
	pos := 0
	for pos < len(entry.instrs) && entry.instrs[pos].op == OpAlloca {
		pos++
	}
	entry.instrs = append(entry.instrs, nil)
	copy(entry.instrs[pos+1:], entry.instrs[pos:])
	entry.instrs[pos] = v
	return v
}

// Load reads a value of type t through ptr
func (b *Builder) Load(t Type, ptr *Value) *Value {
	if !ptr.typ.IsPtr() {
		mismatch(OpLoad, Ptr, ptr.typ)
	}
	return b.emit(&Value{op: OpLoad, typ: t, args: []*Value{ptr}})
}

// Store writes val through ptr
func (b *Builder) Store(val, ptr *Value) *Value {
	if !ptr.typ.IsPtr() {
		mismatch(OpStore, Ptr, ptr.typ)
	}
	return b.emit(&Value{op: OpStore, typ: Void, args: []*Value{val, ptr}})
}

// Binary emits integer arithmetic; both operands share one integer type
func (b *Builder) Binary(op BinOp, x, y *Value) *Value {
	if !x.typ.IsInt() {
		mismatch(OpBinary, I64, x.typ)
	}
	if x.typ != y.typ {
		mismatch(OpBinary, x.typ, y.typ)
	}
	return b.emit(&Value{op: OpBinary, typ: x.typ, aux: uint64(op), args: []*Value{x, y}})
}

func (b *Builder) Add(x, y *Value) *Value  { return b.Binary(Add, x, y) }
func (b *Builder) Sub(x, y *Value) *Value  { return b.Binary(Sub, x, y) }
func (b *Builder) Mul(x, y *Value) *Value  { return b.Binary(Mul, x, y) }
func (b *Builder) And(x, y *Value) *Value  { return b.Binary(And, x, y) }
func (b *Builder) Or(x, y *Value) *Value   { return b.Binary(Or, x, y) }
func (b *Builder) Xor(x, y *Value) *Value  { return b.Binary(Xor, x, y) }
func (b *Builder) Shl(x, y *Value) *Value  { return b.Binary(Shl, x, y) }
func (b *Builder) LShr(x, y *Value) *Value { return b.Binary(LShr, x, y) }
func (b *Builder) AShr(x, y *Value) *Value { return b.Binary(AShr, x, y) }

// ICmp compares two integers of the same type, producing i1
func (b *Builder) ICmp(p Pred, x, y *Value) *Value {
	if !x.typ.IsInt() && !x.typ.IsPtr() {
		mismatch(OpICmp, I64, x.typ)
	}
	if x.typ != y.typ {
		mismatch(OpICmp, x.typ, y.typ)
	}
	return b.emit(&Value{op: OpICmp, typ: I1, aux: uint64(p), args: []*Value{x, y}})
}

func (b *Builder) convert(op Op, v *Value, t Type) *Value {
	return b.emit(&Value{op: op, typ: t, args: []*Value{v}})
}

// ZExt zero-extends an integer to a wider integer type
func (b *Builder) ZExt(v *Value, t Type) *Value {
	if !v.typ.IsInt() || !t.IsInt() || t.Bits() < v.typ.Bits() {
		mismatch(OpZExt, t, v.typ)
	}
	if t == v.typ {
		return v
	}
	return b.convert(OpZExt, v, t)
}

// SExt sign-extends an integer to a wider integer type
func (b *Builder) SExt(v *Value, t Type) *Value {
	if !v.typ.IsInt() || !t.IsInt() || t.Bits() < v.typ.Bits() {
		mismatch(OpSExt, t, v.typ)
	}
	if t == v.typ {
		return v
	}
	return b.convert(OpSExt, v, t)
}

// Trunc narrows an integer
func (b *Builder) Trunc(v *Value, t Type) *Value {
	if !v.typ.IsInt() || !t.IsInt() || t.Bits() > v.typ.Bits() {
		mismatch(OpTrunc, t, v.typ)
	}
	if t == v.typ {
		return v
	}
	return b.convert(OpTrunc, v, t)
}

// Bitcast reinterprets the bits of v as t; widths must match
func (b *Builder) Bitcast(v *Value, t Type) *Value {
	if v.typ.Bits() != t.Bits() {
		mismatch(OpBitcast, t, v.typ)
	}
	if t == v.typ {
		return v
	}
	return b.convert(OpBitcast, v, t)
}

// IntToPtr turns a 64-bit address into a pointer
func (b *Builder) IntToPtr(v *Value) *Value {
	if v.typ != I64 {
		mismatch(OpIntToPtr, I64, v.typ)
	}
	return b.convert(OpIntToPtr, v, Ptr)
}

// PtrToInt turns a pointer into a 64-bit address
func (b *Builder) PtrToInt(v *Value) *Value {
	if !v.typ.IsPtr() {
		mismatch(OpPtrToInt, Ptr, v.typ)
	}
	return b.convert(OpPtrToInt, v, I64)
}

// ExtractElement reads one lane of a vector
func (b *Builder) ExtractElement(vec *Value, lane int) *Value {
	if !vec.typ.IsVector() || lane < 0 || lane >= vec.typ.Lanes() {
		panic(errors.AssertionFailedf("extractelement lane %d of %v", lane, vec.typ))
	}
	return b.emit(&Value{op: OpExtractElement, typ: vec.typ.Elem(), aux: uint64(lane), args: []*Value{vec}})
}

// InsertElement returns vec with one lane replaced by val
func (b *Builder) InsertElement(vec, val *Value, lane int) *Value {
	if !vec.typ.IsVector() || lane < 0 || lane >= vec.typ.Lanes() {
		panic(errors.AssertionFailedf("insertelement lane %d of %v", lane, vec.typ))
	}
	if vec.typ.Elem() != val.typ {
		mismatch(OpInsertElement, vec.typ.Elem(), val.typ)
	}
	return b.emit(&Value{op: OpInsertElement, typ: vec.typ, aux: uint64(lane), args: []*Value{vec, val}})
}

// Select picks x when cond is true, else y
func (b *Builder) Select(cond, x, y *Value) *Value {
	if cond.typ != I1 {
		mismatch(OpSelect, I1, cond.typ)
	}
	if x.typ != y.typ {
		mismatch(OpSelect, x.typ, y.typ)
	}
	return b.emit(&Value{op: OpSelect, typ: x.typ, args: []*Value{cond, x, y}})
}

// Call emits a call to the function at the absolute address target
func (b *Builder) Call(ret Type, target uint64, args ...*Value) *Value {
	return b.emit(&Value{op: OpCall, typ: ret, aux: target, args: append([]*Value(nil), args...)})
}

// CmpXchg atomically replaces *ptr with new when it equals cmp. Both the
// success and failure orderings are sequentially consistent. The result is
// the i1 success flag.
func (b *Builder) CmpXchg(ptr, cmp, new *Value) *Value {
	if !ptr.typ.IsPtr() {
		mismatch(OpCmpXchg, Ptr, ptr.typ)
	}
	if !cmp.typ.IsInt() || cmp.typ != new.typ {
		mismatch(OpCmpXchg, cmp.typ, new.typ)
	}
	return b.emit(&Value{op: OpCmpXchg, typ: I1, args: []*Value{ptr, cmp, new}})
}

// Phi emits an empty phi; add edges with AddIncoming
func (b *Builder) Phi(t Type) *Value {
	return b.emit(&Value{op: OpPhi, typ: t})
}

// Br ends the block with an unconditional branch
func (b *Builder) Br(dst *Block) *Value {
	return b.emit(&Value{op: OpBr, typ: Void, targets: []*Block{dst}})
}

// CondBr ends the block with a two-way branch on an i1
func (b *Builder) CondBr(cond *Value, then, els *Block) *Value {
	if cond.typ != I1 {
		mismatch(OpCondBr, I1, cond.typ)
	}
	return b.emit(&Value{op: OpCondBr, typ: Void, args: []*Value{cond}, targets: []*Block{then, els}})
}

// Ret ends the block returning val, or nothing when val is nil
func (b *Builder) Ret(val *Value) *Value {
	v := &Value{op: OpRet, typ: Void}
	if val != nil {
		v.args = []*Value{val}
	}
	return b.emit(v)
}

// RemoveTerminator deletes the terminator of blk, reopening it
func (b *Builder) RemoveTerminator(blk *Block) *Value {
	if !blk.Terminated() {
		panic(errors.AssertionFailedf("block %s has no terminator", blk.label()))
	}
	return blk.removeLast()
}
