package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/ir"
)

// CompareAndSwap stores value at the host address addr if it currently
// holds comparand, as one sequentially consistent compare-and-exchange.
// The i8 result is 0 when the store happened and 1 when it did not, the
// status an exclusive store reports.
func (r *Recompiler) CompareAndSwap(addr, value, comparand Expr) Expr {
	if value.typ != comparand.typ || !value.typ.IsInt() {
		errors.Invariantf("compare-and-swap of %v against %v", value.typ, comparand.typ)
	}
	return Expr{typ: ir.I8, emit: func() *ir.Value {
		ptr := r.b.IntToPtr(addr.Emit())
		ok := r.b.CmpXchg(ptr, comparand.Emit(), value.Emit())
		return r.b.Select(ok, r.b.Const(ir.I8, 0), r.b.Const(ir.I8, 1))
	}}
}
