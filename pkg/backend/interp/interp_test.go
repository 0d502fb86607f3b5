//go:build unix

package interp

import (
	"testing"

	"a64rec/pkg/hostcall"
	"a64rec/pkg/hostmem"
	"a64rec/pkg/ir"
)

func newRegion(t *testing.T) *hostmem.Region {
	t.Helper()
	r, err := hostmem.NewRegion(4096)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	t.Cleanup(func() { r.Free() })
	return r
}

func compile(t *testing.T, host *hostcall.Table, fn *ir.Function) *program {
	t.Helper()
	entry, err := New(host).Compile(fn)
	if err != nil {
		t.Fatalf("Compile: %v\n%s", err, fn)
	}
	return entry.(*program)
}

// TestLoadAddStore tests memory access through an i64 address parameter
func TestLoadAddStore(t *testing.T) {
	region := newRegion(t)
	addr, _ := region.Allocate(16, 8)
	hostmem.Store64(addr, 40)

	fn := ir.NewFunction("add", ir.I64)
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(fn.NewBlock("entry"))
	p := b.IntToPtr(fn.Param(0))
	v := b.Load(ir.I64, p)
	sum := b.Add(v, b.Const(ir.I64, 2))
	b.Store(sum, b.IntToPtr(b.Add(fn.Param(0), b.Const(ir.I64, 8))))
	b.Ret(nil)

	compile(t, hostcall.NewTable(), fn).Call(addr)
	if got := hostmem.Load64(addr + 8); got != 42 {
		t.Errorf("stored %d, want 42", got)
	}
}

// TestAllocaSlots tests that stack slots are private to one invocation
func TestAllocaSlots(t *testing.T) {
	fn := ir.NewFunction("slot", ir.I64)
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(fn.NewBlock("entry"))
	slot := b.Alloca(ir.I64)
	b.Store(fn.Param(0), slot)
	v := b.Load(ir.I64, slot)
	b.Ret(b.Mul(v, v))

	prog := compile(t, hostcall.NewTable(), fn)
	if got := prog.Run(7); got != 49 {
		t.Errorf("Run(7) = %d, want 49", got)
	}
	if got := prog.Run(3); got != 9 {
		t.Errorf("Run(3) = %d, want 9", got)
	}
}

// TestPhiLoop tests a counting loop carried through phis
func TestPhiLoop(t *testing.T) {
	fn := ir.NewFunction("sum", ir.I64)
	b := ir.NewBuilder(fn)
	entry := fn.NewBlock("entry")
	loop := fn.NewBlock("loop")
	done := fn.NewBlock("done")

	b.SetInsertPoint(entry)
	zero := b.Const(ir.I64, 0)
	b.Br(loop)

	b.SetInsertPoint(loop)
	i := b.Phi(ir.I64)
	acc := b.Phi(ir.I64)
	next := b.Add(i, b.Const(ir.I64, 1))
	acc2 := b.Add(acc, next)
	b.CondBr(b.ICmp(ir.ULT, next, fn.Param(0)), loop, done)
	i.AddIncoming(zero, entry)
	i.AddIncoming(next, loop)
	acc.AddIncoming(zero, entry)
	acc.AddIncoming(acc2, loop)

	b.SetInsertPoint(done)
	b.Ret(acc2)

	if got := compile(t, hostcall.NewTable(), fn).Run(10); got != 55 {
		t.Errorf("sum to 10 = %d, want 55", got)
	}
}

// TestArithmetic tests width masking, shifts and signed compares
func TestArithmetic(t *testing.T) {
	cases := []struct {
		op   ir.BinOp
		x, y uint64
		bits int
		want uint64
	}{
		{ir.Add, 0xFF, 1, 8, 0},
		{ir.Sub, 0, 1, 32, 0xFFFFFFFF},
		{ir.Shl, 1, 64, 64, 0},
		{ir.LShr, 0x80, 7, 8, 1},
		{ir.AShr, 0x80, 7, 8, 0xFF},
		{ir.AShr, 0x80, 20, 8, 0xFF},
		{ir.Xor, 0xF0, 0xFF, 8, 0x0F},
	}
	for _, c := range cases {
		if got := binary(c.op, c.x, c.y, c.bits); got != c.want {
			t.Errorf("%v(%#x, %#x) on i%d = %#x, want %#x", c.op, c.x, c.y, c.bits, got, c.want)
		}
	}
	if !compare(ir.SLT, 0xFF, 0, 8) {
		t.Error("-1 <s 0 on i8 should hold")
	}
	if compare(ir.ULT, 0xFF, 0, 8) {
		t.Error("255 <u 0 should not hold")
	}
}

// TestVectorLanes tests insertelement and extractelement across both halves
func TestVectorLanes(t *testing.T) {
	w := setLane(word{}, 32, 3, 0xDEADBEEF)
	if w.hi != 0xDEADBEEF_00000000 || w.lo != 0 {
		t.Errorf("lane 3 of <4 x i32> landed at lo=%#x hi=%#x", w.lo, w.hi)
	}
	if got := lane(w, 32, 3); got != 0xDEADBEEF {
		t.Errorf("lane(3) = %#x", got)
	}
	w = setLane(w, 8, 0, 0x1FF)
	if w.lo != 0xFF {
		t.Errorf("lane 0 of <16 x i8> = %#x, want masked 0xff", w.lo)
	}
}

// TestHostCall tests calls through the host table
func TestHostCall(t *testing.T) {
	host := hostcall.NewTable()
	var seen []uint64
	target := host.Register("record", func(args []uint64) uint64 {
		seen = append(seen, args...)
		return 0x1_0000_0005
	})

	fn := ir.NewFunction("call", ir.I64)
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(fn.NewBlock("entry"))
	r := b.Call(ir.I32, target, fn.Param(0), b.Const(ir.I64, 9))
	b.Ret(b.ZExt(r, ir.I64))

	if got := compile(t, host, fn).Run(4); got != 5 {
		t.Errorf("call result = %#x, want truncated 5", got)
	}
	if len(seen) != 2 || seen[0] != 4 || seen[1] != 9 {
		t.Errorf("host saw %v", seen)
	}
}

// TestCmpXchg tests the success flag and the memory effect
func TestCmpXchg(t *testing.T) {
	region := newRegion(t)
	addr, _ := region.Allocate(8, 8)
	hostmem.Store64(addr, 5)

	fn := ir.NewFunction("cas", ir.I64)
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(fn.NewBlock("entry"))
	ok := b.CmpXchg(b.IntToPtr(fn.Param(0)), b.Const(ir.I64, 5), b.Const(ir.I64, 6))
	b.Ret(b.ZExt(ok, ir.I64))

	prog := compile(t, hostcall.NewTable(), fn)
	if got := prog.Run(addr); got != 1 {
		t.Errorf("first cas = %d, want 1", got)
	}
	if got := prog.Run(addr); got != 0 {
		t.Errorf("second cas = %d, want 0", got)
	}
	if got := hostmem.Load64(addr); got != 6 {
		t.Errorf("memory = %d, want 6", got)
	}
}

// TestCompileRejectsBadSignature tests entry signature checking
func TestCompileRejectsBadSignature(t *testing.T) {
	fn := ir.NewFunction("bad")
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(fn.NewBlock(""))
	b.Ret(nil)
	if _, err := New(hostcall.NewTable()).Compile(fn); err == nil {
		t.Error("Compile accepted a function without a state parameter")
	}
}
