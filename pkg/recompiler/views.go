package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/ir"
	"a64rec/pkg/state"
)

// Ref reads and writes one architectural location
type Ref interface {
	Get() Expr
	Set(v Expr)
}

// Bank is an indexed family of Refs, such as the general-purpose registers
type Bank struct {
	name string
	size int
	at   func(i int) Ref
}

// At returns the Ref for register i
func (b Bank) At(i int) Ref {
	if i < 0 || i >= b.size {
		errors.Invariantf("%s register index %d out of range", b.name, i)
	}
	return b.at(i)
}

func (b Bank) Get(i int) Expr    { return b.At(i).Get() }
func (b Bank) Set(i int, v Expr) { b.At(i).Set(v) }
func (b Bank) Len() int          { return b.size }

type localRef struct {
	r     *Recompiler
	field state.Field
}

func (l localRef) Get() Expr  { return l.r.getLocal(l.field) }
func (l localRef) Set(v Expr) { l.r.setLocal(l.field, v) }

// fieldRef goes to memory on every access
type fieldRef struct {
	r     *Recompiler
	field state.Field
}

func (f fieldRef) Get() Expr { return f.r.Field(f.field.Offset, f.field.Type) }

func (f fieldRef) Set(v Expr) {
	if v.typ != f.field.Type {
		errors.Invariantf("store of %v into %v", v.typ, f.field)
	}
	f.r.SetField(f.field.Offset, v)
}

// zeroRef is XZR: reads are zero, writes are evaluated and dropped
type zeroRef struct {
	r *Recompiler
}

func (z zeroRef) Get() Expr { return z.r.I64(0) }

func (z zeroRef) Set(v Expr) {
	if v.typ != ir.I64 {
		errors.Invariantf("store of %v into XZR", v.typ)
	}
	v.Emit()
}

// subRef views element 0 of a vector register at a narrower width.
// Writes clear the rest of the register.
type subRef struct {
	r   *Recompiler
	reg int
	vec ir.Type
}

func (s subRef) Get() Expr {
	return Expr{typ: s.vec.Elem(), emit: func() *ir.Value {
		v := s.r.V.Get(s.reg).Emit()
		return s.r.b.ExtractElement(s.r.b.Bitcast(v, s.vec), 0)
	}}
}

func (s subRef) Set(v Expr) {
	if v.typ != s.vec.Elem() {
		errors.Invariantf("store of %v into %v lane", v.typ, s.vec)
	}
	val := v.Emit()
	vec := s.r.b.InsertElement(s.r.b.Zero(s.vec), val, 0)
	s.r.V.Set(s.reg, Value(s.r.b.Bitcast(vec, ir.V4xF32)))
}

var flagBits = [4]uint64{31, 30, 29, 28}

// nzcvRef packs the four flag shadows into bits 31..28
type nzcvRef struct {
	r *Recompiler
}

func (n nzcvRef) flags() [4]Ref {
	return [4]Ref{n.r.FlagN, n.r.FlagZ, n.r.FlagC, n.r.FlagV}
}

func (n nzcvRef) Get() Expr {
	return Expr{typ: ir.I64, emit: func() *ir.Value {
		b := n.r.b
		var acc *ir.Value
		for i, f := range n.flags() {
			bit := b.Shl(f.Get().Emit(), b.Const(ir.I64, flagBits[i]))
			if acc == nil {
				acc = bit
			} else {
				acc = b.Or(acc, bit)
			}
		}
		return acc
	}}
}

func (n nzcvRef) Set(v Expr) {
	if v.typ != ir.I64 {
		errors.Invariantf("store of %v into NZCV", v.typ)
	}
	val := v.Emit()
	b := n.r.b
	for i, f := range n.flags() {
		bit := b.And(b.LShr(val, b.Const(ir.I64, flagBits[i])), b.Const(ir.I64, 1))
		f.Set(Value(bit))
	}
}

// buildViews wires every view to r; called once from New
func (r *Recompiler) buildViews() {
	r.X = Bank{name: "general-purpose", size: state.NumGPR, at: func(i int) Ref {
		if i == state.ZeroReg {
			return zeroRef{r}
		}
		return localRef{r, state.X(i)}
	}}
	r.V = Bank{name: "vector", size: state.NumVector, at: func(i int) Ref {
		return localRef{r, state.V(i)}
	}}
	sub := func(vec ir.Type) Bank {
		return Bank{name: "vector", size: state.NumVector, at: func(i int) Ref {
			return subRef{r: r, reg: i, vec: vec}
		}}
	}
	r.VB = sub(ir.V16xI8)
	r.VH = sub(ir.V8xI16)
	r.VS = sub(ir.V4xF32)
	r.VD = sub(ir.V2xF64)

	r.GuestPC = localRef{r, state.PC}
	r.SP = localRef{r, state.SP}
	r.TlsBase = localRef{r, state.TlsBase}
	r.BranchTo = fieldRef{r, state.BranchTo}
	r.Exclusive8 = localRef{r, state.Exclusive8}
	r.Exclusive16 = localRef{r, state.Exclusive16}
	r.Exclusive32 = localRef{r, state.Exclusive32}
	r.Exclusive64 = localRef{r, state.Exclusive64}
	r.FlagN = localRef{r, state.FlagN}
	r.FlagZ = localRef{r, state.FlagZ}
	r.FlagC = localRef{r, state.FlagC}
	r.FlagV = localRef{r, state.FlagV}
	r.NZCV = nzcvRef{r}
}

// Exclusive returns the monitor Ref for an access of size bytes
func (r *Recompiler) Exclusive(size int) Ref {
	switch size {
	case 1:
		return r.Exclusive8
	case 2:
		return r.Exclusive16
	case 4:
		return r.Exclusive32
	case 8:
		return r.Exclusive64
	}
	errors.Invariantf("no exclusive monitor for %d-byte access", size)
	return nil
}
