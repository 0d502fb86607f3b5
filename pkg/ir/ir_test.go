package ir

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
)

func expectAssertion(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.HasAssertionFailure(err) {
			t.Errorf("%s: recovered %v, want assertion failure", name, r)
		}
	}()
	f()
}

// TestTypes tests type widths and names
func TestTypes(t *testing.T) {
	cases := []struct {
		typ  Type
		bits int
		name string
	}{
		{I1, 1, "i1"},
		{I8, 8, "i8"},
		{I64, 64, "i64"},
		{F32, 32, "float"},
		{F64, 64, "double"},
		{V16xI8, 128, "<16 x i8>"},
		{V8xI16, 128, "<8 x i16>"},
		{V4xF32, 128, "<4 x float>"},
		{V2xF64, 128, "<2 x double>"},
	}
	for _, c := range cases {
		if c.typ.Bits() != c.bits {
			t.Errorf("%v.Bits() = %d, want %d", c.typ, c.typ.Bits(), c.bits)
		}
		if c.typ.String() != c.name {
			t.Errorf("String() = %q, want %q", c.typ.String(), c.name)
		}
	}
	if V4xF32.Elem() != F32 {
		t.Errorf("V4xF32.Elem() = %v", V4xF32.Elem())
	}
	if I1.Size() != 1 || V2xI64.Size() != 16 {
		t.Errorf("sizes: i1=%d v2i64=%d", I1.Size(), V2xI64.Size())
	}
}

// TestBuilderVerify tests that a well formed diamond verifies
func TestBuilderVerify(t *testing.T) {
	fn := NewFunction("diamond", I64)
	b := NewBuilder(fn)
	entry := fn.NewBlock("entry")
	then := fn.NewBlock("then")
	els := fn.NewBlock("else")
	join := fn.NewBlock("join")

	b.SetInsertPoint(entry)
	slot := b.Alloca(I64)
	cond := b.ICmp(EQ, fn.Param(0), b.Const(I64, 0))
	b.CondBr(cond, then, els)

	b.SetInsertPoint(then)
	one := b.Const(I64, 1)
	b.Br(join)

	b.SetInsertPoint(els)
	two := b.Const(I64, 2)
	b.Br(join)

	b.SetInsertPoint(join)
	phi := b.Phi(I64)
	phi.AddIncoming(one, then)
	phi.AddIncoming(two, els)
	b.Store(phi, slot)
	b.Ret(nil)

	if err := fn.Verify(); err != nil {
		t.Fatalf("Verify: %v\n%s", err, fn)
	}
	if entry.Instrs()[0].Op() != OpAlloca {
		t.Error("alloca not placed at the front of the entry block")
	}
	if !strings.Contains(fn.String(), "phi i64") {
		t.Errorf("String() missing phi:\n%s", fn)
	}
}

// TestEmitAfterTerminator tests that emitting into a terminated block panics
func TestEmitAfterTerminator(t *testing.T) {
	fn := NewFunction("f")
	b := NewBuilder(fn)
	blk := fn.NewBlock("")
	b.SetInsertPoint(blk)
	b.Ret(nil)
	expectAssertion(t, "after ret", func() { b.Const(I64, 1) })
	expectAssertion(t, "type mismatch", func() {
		other := fn.NewBlock("")
		b.SetInsertPoint(other)
		b.Add(b.Const(I64, 1), b.Const(I32, 1))
	})
}

// TestSplitBlockRewritesPhis tests that phis follow a moved terminator
func TestSplitBlockRewritesPhis(t *testing.T) {
	fn := NewFunction("split")
	b := NewBuilder(fn)
	a := fn.NewBlock("a")
	join := fn.NewBlock("join")

	b.SetInsertPoint(a)
	x := b.Const(I64, 7)
	y := b.Const(I64, 8)
	b.Br(join)

	b.SetInsertPoint(join)
	phi := b.Phi(I64)
	phi.AddIncoming(y, a)
	b.Ret(phi)

	nb, err := fn.SplitBlock(a, 1)
	if err != nil {
		t.Fatalf("SplitBlock: %v", err)
	}
	if a.Len() != 2 || a.Instrs()[0] != x {
		t.Errorf("head block has %d values", a.Len())
	}
	if a.Terminator().Targets()[0] != nb {
		t.Error("head block does not branch to the tail")
	}
	if y.Block() != nb {
		t.Error("moved value keeps its old parent")
	}
	if _, from := phi.Incoming(); from[0] != nb {
		t.Errorf("phi edge names %v, want the tail block", from[0].Name())
	}
	if err := fn.Verify(); err != nil {
		t.Fatalf("Verify: %v\n%s", err, fn)
	}
	if _, err := fn.SplitBlock(a, 0); err == nil {
		t.Error("split at 0 should fail")
	}
}

// TestRemoveUnreachable tests pruning of dead blocks and their phi edges
func TestRemoveUnreachable(t *testing.T) {
	fn := NewFunction("prune")
	b := NewBuilder(fn)
	entry := fn.NewBlock("entry")
	dead := fn.NewBlock("dead")
	join := fn.NewBlock("join")

	b.SetInsertPoint(entry)
	v := b.Const(I64, 1)
	b.Br(join)

	b.SetInsertPoint(dead)
	w := b.Const(I64, 2)
	b.Br(join)

	b.SetInsertPoint(join)
	phi := b.Phi(I64)
	phi.AddIncoming(v, entry)
	phi.AddIncoming(w, dead)
	b.Ret(phi)

	if n := fn.RemoveUnreachable(); n != 1 {
		t.Fatalf("RemoveUnreachable = %d, want 1", n)
	}
	if vals, _ := phi.Incoming(); len(vals) != 1 || vals[0] != v {
		t.Errorf("phi edges not pruned: %v", vals)
	}
	if err := fn.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestRemoveBlock tests removal constraints
func TestRemoveBlock(t *testing.T) {
	fn := NewFunction("rm")
	b := NewBuilder(fn)
	entry := fn.NewBlock("entry")
	target := fn.NewBlock("target")

	b.SetInsertPoint(entry)
	b.Br(target)
	if err := fn.RemoveBlock(target); err == nil {
		t.Error("removed a referenced block")
	}
	b.RemoveTerminator(entry)
	if err := fn.RemoveBlock(target); err != nil {
		t.Errorf("RemoveBlock: %v", err)
	}
	if len(fn.Blocks()) != 1 {
		t.Errorf("%d blocks left, want 1", len(fn.Blocks()))
	}
}

// TestVerifyCatchesMissingTerminator tests Verify on an open block
func TestVerifyCatchesMissingTerminator(t *testing.T) {
	fn := NewFunction("open")
	b := NewBuilder(fn)
	b.SetInsertPoint(fn.NewBlock(""))
	b.Const(I64, 3)
	if err := fn.Verify(); err == nil {
		t.Error("Verify accepted a block without terminator")
	}
}
