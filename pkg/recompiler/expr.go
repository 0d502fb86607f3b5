package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/ir"
)

// Expr is a typed IR expression that has not been emitted yet. Emit runs
// the construction at the current insertion point every time it is called;
// use Let to pin a value that must be computed exactly once.
type Expr struct {
	typ  ir.Type
	emit func() *ir.Value
}

func (e Expr) Type() ir.Type { return e.typ }

// Emit materializes the expression
func (e Expr) Emit() *ir.Value {
	if e.emit == nil {
		errors.Invariantf("emit of empty expression")
	}
	v := e.emit()
	if v.Type() != e.typ {
		errors.Invariantf("expression typed %v produced %v", e.typ, v.Type())
	}
	return v
}

// Value wraps an already emitted IR value
func Value(v *ir.Value) Expr {
	return Expr{typ: v.Type(), emit: func() *ir.Value { return v }}
}

// Let emits e now and returns an expression for the result
func (r *Recompiler) Let(e Expr) Expr {
	return Value(e.Emit())
}

// Const is an integer constant of type t
func (r *Recompiler) Const(t ir.Type, v uint64) Expr {
	return Expr{typ: t, emit: func() *ir.Value { return r.b.Const(t, v) }}
}

func (r *Recompiler) I64(v uint64) Expr { return r.Const(ir.I64, v) }
func (r *Recompiler) I32(v uint32) Expr { return r.Const(ir.I32, uint64(v)) }

func (r *Recompiler) binary(op ir.BinOp, x, y Expr) Expr {
	if x.typ != y.typ {
		errors.Invariantf("%v of %v and %v", op, x.typ, y.typ)
	}
	return Expr{typ: x.typ, emit: func() *ir.Value {
		return r.b.Binary(op, x.Emit(), y.Emit())
	}}
}

func (r *Recompiler) Add(x, y Expr) Expr  { return r.binary(ir.Add, x, y) }
func (r *Recompiler) Sub(x, y Expr) Expr  { return r.binary(ir.Sub, x, y) }
func (r *Recompiler) Mul(x, y Expr) Expr  { return r.binary(ir.Mul, x, y) }
func (r *Recompiler) And(x, y Expr) Expr  { return r.binary(ir.And, x, y) }
func (r *Recompiler) Or(x, y Expr) Expr   { return r.binary(ir.Or, x, y) }
func (r *Recompiler) Xor(x, y Expr) Expr  { return r.binary(ir.Xor, x, y) }
func (r *Recompiler) Shl(x, y Expr) Expr  { return r.binary(ir.Shl, x, y) }
func (r *Recompiler) LShr(x, y Expr) Expr { return r.binary(ir.LShr, x, y) }
func (r *Recompiler) AShr(x, y Expr) Expr { return r.binary(ir.AShr, x, y) }

// Compare yields an i1
func (r *Recompiler) Compare(p ir.Pred, x, y Expr) Expr {
	if x.typ != y.typ {
		errors.Invariantf("compare %v with %v", x.typ, y.typ)
	}
	return Expr{typ: ir.I1, emit: func() *ir.Value {
		return r.b.ICmp(p, x.Emit(), y.Emit())
	}}
}

func (r *Recompiler) Eq(x, y Expr) Expr { return r.Compare(ir.EQ, x, y) }
func (r *Recompiler) Ne(x, y Expr) Expr { return r.Compare(ir.NE, x, y) }

func (r *Recompiler) convert(e Expr, t ir.Type, f func(*ir.Value, ir.Type) *ir.Value) Expr {
	return Expr{typ: t, emit: func() *ir.Value { return f(e.Emit(), t) }}
}

func (r *Recompiler) ZExt(e Expr, t ir.Type) Expr    { return r.convert(e, t, r.b.ZExt) }
func (r *Recompiler) SExt(e Expr, t ir.Type) Expr    { return r.convert(e, t, r.b.SExt) }
func (r *Recompiler) Trunc(e Expr, t ir.Type) Expr   { return r.convert(e, t, r.b.Trunc) }
func (r *Recompiler) Bitcast(e Expr, t ir.Type) Expr { return r.convert(e, t, r.b.Bitcast) }

// SignExtend treats the low bits of e as a signed field and extends it to
// the full width of e
func (r *Recompiler) SignExtend(e Expr, bits int) Expr {
	w := e.typ.Bits()
	if bits <= 0 || bits > w {
		errors.Invariantf("sign extend of %d bits in %v", bits, e.typ)
	}
	if bits == w {
		return e
	}
	shift := r.Const(e.typ, uint64(w-bits))
	return r.AShr(r.Shl(e, shift), shift)
}

// Select picks a or b without branching; both sides are evaluated
func (r *Recompiler) Select(cond, a, b Expr) Expr {
	return Expr{typ: a.typ, emit: func() *ir.Value {
		return r.b.Select(cond.Emit(), a.Emit(), b.Emit())
	}}
}

// Ternary evaluates only the chosen side, branching around the other and
// joining the results with a phi
func (r *Recompiler) Ternary(cond, a, b Expr) Expr {
	if a.typ != b.typ {
		errors.Invariantf("ternary of %v and %v", a.typ, b.typ)
	}
	return Expr{typ: a.typ, emit: func() *ir.Value {
		then, els, end := r.DefineLabel(), r.DefineLabel(), r.DefineLabel()
		r.BranchIf(cond, then, els)

		r.Label(then)
		av := a.Emit()
		ab := r.b.InsertBlock()
		r.Branch(end)

		r.Label(els)
		bv := b.Emit()
		bb := r.b.InsertBlock()
		r.Branch(end)

		r.Label(end)
		phi := r.b.Phi(a.typ)
		phi.AddIncoming(av, ab)
		phi.AddIncoming(bv, bb)
		return phi
	}}
}

// Field reads a state field straight from memory, bypassing the shadow cache
func (r *Recompiler) Field(offset int, t ir.Type) Expr {
	return Expr{typ: t, emit: func() *ir.Value {
		return r.b.Load(t, r.fieldPtr(offset))
	}}
}

// SetField writes a state field straight to memory
func (r *Recompiler) SetField(offset int, v Expr) {
	val := v.Emit()
	r.b.Store(val, r.fieldPtr(offset))
}

func (r *Recompiler) fieldPtr(offset int) *ir.Value {
	addr := r.stateAddr
	if offset != 0 {
		addr = r.b.Add(addr, r.b.Const(ir.I64, uint64(offset)))
	}
	return r.b.IntToPtr(addr)
}

// Load reads guest memory at the host address addr
func (r *Recompiler) Load(t ir.Type, addr Expr) Expr {
	return Expr{typ: t, emit: func() *ir.Value {
		return r.b.Load(t, r.b.IntToPtr(addr.Emit()))
	}}
}

// Store writes v to guest memory at the host address addr
func (r *Recompiler) Store(addr, v Expr) {
	ptr := r.b.IntToPtr(addr.Emit())
	r.b.Store(v.Emit(), ptr)
}
