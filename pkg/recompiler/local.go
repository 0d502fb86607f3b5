package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/ir"
	"a64rec/pkg/state"
)

// Local shadows one state field for the duration of a unit. The slot lives
// in the prologue; memory traffic for the field only happens in the
// prologue and in the flush/reload sequences, and only if the field was used.
type Local struct {
	field state.Field
	slot  *ir.Value
	used  bool
}

func (l *Local) Field() state.Field { return l.field }
func (l *Local) Used() bool         { return l.used }

// local returns the shadow of f, allocating its slot on first touch
func (r *Recompiler) local(f state.Field) *Local {
	if l, ok := r.locals[f.Offset]; ok {
		if l.field.Type != f.Type {
			errors.Invariantf("%v shadowed as %v", f, l.field.Type)
		}
		return l
	}
	l := &Local{field: f, slot: r.b.Alloca(f.Type)}
	r.locals[f.Offset] = l
	r.localOrder = append(r.localOrder, l)
	return l
}

func (r *Recompiler) getLocal(f state.Field) Expr {
	return Expr{typ: f.Type, emit: func() *ir.Value {
		l := r.local(f)
		l.used = true
		return r.b.Load(f.Type, l.slot)
	}}
}

func (r *Recompiler) setLocal(f state.Field, v Expr) {
	if v.typ != f.Type {
		errors.Invariantf("store of %v into %v", v.typ, f)
	}
	val := v.Emit()
	l := r.local(f)
	l.used = true
	r.b.Store(val, l.slot)
}

// storeLocals writes every used shadow back to state memory
func (r *Recompiler) storeLocals() {
	for _, l := range r.localOrder {
		if !l.used {
			continue
		}
		v := r.b.Load(l.field.Type, l.slot)
		r.b.Store(v, r.fieldPtr(l.field.Offset))
	}
}

// loadLocals refreshes every used shadow from state memory
func (r *Recompiler) loadLocals() {
	for _, l := range r.localOrder {
		if !l.used {
			continue
		}
		v := r.b.Load(l.field.Type, r.fieldPtr(l.field.Offset))
		r.b.Store(v, l.slot)
	}
}

// Locals lists the shadows allocated so far, in allocation order
func (r *Recompiler) Locals() []*Local {
	return append([]*Local(nil), r.localOrder...)
}
