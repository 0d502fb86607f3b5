package recompiler

import (
	"a64rec/pkg/errors"
	"a64rec/pkg/hostcall"
	"a64rec/pkg/ir"
)

// Call emits a call to the host function at target. Guest state is not
// flushed, so the callee must not touch CpuState. The call is emitted
// immediately; the returned expression is its result.
func (r *Recompiler) Call(target uint64, ret ir.Type, args ...Expr) Expr {
	vals := make([]*ir.Value, len(args))
	for i, a := range args {
		vals[i] = a.Emit()
	}
	return Value(r.b.Call(ret, target, vals...))
}

// CallSvc performs guest system call num. Used shadows are flushed before
// the handler runs. When it answers hostcall.Continue they are reloaded and
// translation continues after the call; otherwise the unit returns to
// dispatch straight away, keeping whatever the handler left in CpuState.
func (r *Recompiler) CallSvc(num uint32) {
	if r.opts.SyscallEntry == 0 {
		errors.Invariantf("system call %d with no syscall entry configured", num)
	}
	preStore, postStore := r.DefineLabel(), r.DefineLabel()
	preLoad, postLoad := r.DefineLabel(), r.DefineLabel()
	r.storePairs = append(r.storePairs, labelPair{pre: preStore, post: postStore})
	r.loadPairs = append(r.loadPairs, labelPair{pre: preLoad, post: postLoad})

	r.Branch(preStore)
	r.Label(postStore)
	cont := r.Call(r.opts.SyscallEntry, ir.I32, r.I32(num), r.StateAddr())
	r.BranchIf(r.Eq(cont, r.I32(uint32(hostcall.Continue))), preLoad, r.storePairs[0].post)
	r.Label(postLoad)
}
