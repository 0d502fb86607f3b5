//go:build unix

package a64

import (
	"testing"

	"a64rec/pkg/backend/interp"
	"a64rec/pkg/hostcall"
	"a64rec/pkg/hostmem"
	"a64rec/pkg/recompiler"
	"a64rec/pkg/state"

	"github.com/google/go-cmp/cmp"
)

type machine struct {
	t      *testing.T
	region *hostmem.Region
	host   *hostcall.Table
	cpu    *state.CpuState
	addr   uint64
	opts   recompiler.Options
}

func newMachine(t *testing.T) *machine {
	t.Helper()
	region, err := hostmem.NewRegion(1 << 16)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	t.Cleanup(func() { region.Free() })
	cpu, addr, err := state.Alloc(region)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return &machine{t: t, region: region, host: hostcall.NewTable(), cpu: cpu, addr: addr}
}

// load places code in the region and returns its address. A zero word
// follows so execution off the end is undecodable.
func (m *machine) load(words ...uint32) uint64 {
	m.t.Helper()
	base, err := m.region.Allocate(4*(len(words)+1), 4)
	if err != nil {
		m.t.Fatalf("Allocate: %v", err)
	}
	for i, w := range words {
		hostmem.Store32(base+uint64(4*i), w)
	}
	return base
}

func (m *machine) alloc(size int) uint64 {
	m.t.Helper()
	a, err := m.region.Allocate(size, 16)
	if err != nil {
		m.t.Fatalf("Allocate: %v", err)
	}
	return a
}

func (m *machine) compile(entry uint64) *recompiler.Unit {
	m.t.Helper()
	unit, err := recompiler.New(NewTable(), m.region, m.opts).Recompile(entry)
	if err != nil {
		m.t.Fatalf("Recompile: %v", err)
	}
	return unit
}

func (m *machine) run(unit *recompiler.Unit) {
	m.t.Helper()
	entry, err := interp.New(m.host).Compile(unit.Function)
	if err != nil {
		m.t.Fatalf("Compile: %v\n%s", err, unit.Function)
	}
	entry.Call(m.addr)
}

// TestCountdownLoop tests flags, a backward conditional branch and ret
func TestCountdownLoop(t *testing.T) {
	m := newMachine(t)
	base := m.load(
		encMOVZ(0, 5, 0),
		encMOVZ(1, 0, 0),
		encADDi(1, 1, 3),
		encSUBSi(0, 0, 1),
		encBCond(NE, -8),
		encRET,
	)
	m.cpu.X[30] = 0xdead0
	m.run(m.compile(base))

	if m.cpu.X[1] != 15 || m.cpu.X[0] != 0 {
		t.Errorf("X1 = %d X0 = %d, want 15 and 0", m.cpu.X[1], m.cpu.X[0])
	}
	if m.cpu.Flags() != 0x60000000 {
		t.Errorf("NZCV = %#x, want Z and C set", m.cpu.Flags())
	}
	if m.cpu.BranchTo != 0xdead0 {
		t.Errorf("BranchTo = %#x, want 0xdead0", m.cpu.BranchTo)
	}
}

// TestConditionCodes tests every condition against every flag combination
func TestConditionCodes(t *testing.T) {
	m := newMachine(t)
	for c := EQ; c <= NV; c++ {
		base := m.load(
			encMSRNZCV(9),
			encBCond(c, 12),
			encMOVZ(0, 1, 0),
			encRET,
			encMOVZ(0, 2, 0),
			encRET,
		)
		unit := m.compile(base)
		for flags := uint64(0); flags < 16; flags++ {
			m.cpu.X[9] = flags << 28
			m.cpu.X[0] = 0
			m.run(unit)
			taken := m.cpu.X[0] == 2
			if taken != c.Holds(flags<<28) {
				t.Errorf("b.%v with nzcv=%04b: taken=%v", c, flags, taken)
			}
		}
	}
}

// TestCondHolds spot-checks the host-side evaluator
func TestCondHolds(t *testing.T) {
	const n, z, c, v = 1 << 31, 1 << 30, 1 << 29, 1 << 28
	cases := []struct {
		cond  Cond
		flags uint64
		want  bool
	}{
		{EQ, z, true},
		{NE, z, false},
		{HI, c, true},
		{HI, c | z, false},
		{GE, n | v, true},
		{LT, n, true},
		{GT, 0, true},
		{LE, z, true},
		{AL, 0, true},
	}
	for _, tc := range cases {
		if got := tc.cond.Holds(tc.flags); got != tc.want {
			t.Errorf("%v.Holds(%#x) = %v, want %v", tc.cond, tc.flags, got, tc.want)
		}
	}
}

// TestReconvergingCBZ tests that both arms share one translation of the tail
func TestReconvergingCBZ(t *testing.T) {
	m := newMachine(t)
	base := m.load(
		encCBZ(0, 12),
		encMOVZ(1, 1, 0),
		encB(8),
		encMOVZ(1, 2, 0),
		encADDi(2, 1, 10),
		encRET,
	)
	unit := m.compile(base)

	var want []uint64
	for i := uint64(0); i < 6; i++ {
		want = append(want, base+4*i)
	}
	if diff := cmp.Diff(want, unit.Addresses); diff != "" {
		t.Errorf("addresses (-want +got):\n%s", diff)
	}
	for _, tc := range []struct{ x0, x2 uint64 }{{0, 12}, {3, 11}} {
		m.cpu.X[0] = tc.x0
		m.run(unit)
		if m.cpu.X[2] != tc.x2 {
			t.Errorf("x0=%d: x2 = %d, want %d", tc.x0, m.cpu.X[2], tc.x2)
		}
	}
}

func callProgram(m *machine) uint64 {
	return m.load(
		encBL(16),
		encADDi(2, 0, 1),
		encBR(9),
		encNOP,
		encMOVZ(0, 41, 0),
		encRET,
	)
}

// TestCallReturnPredicted tests a call whose return stays in the unit
func TestCallReturnPredicted(t *testing.T) {
	m := newMachine(t)
	m.opts.PredictReturns = true
	base := callProgram(m)
	m.cpu.X[9] = 0xbeef0
	m.run(m.compile(base))

	if m.cpu.X[2] != 42 || m.cpu.X[30] != base+4 {
		t.Errorf("X2 = %d X30 = %#x", m.cpu.X[2], m.cpu.X[30])
	}
	if m.cpu.BranchTo != 0xbeef0 {
		t.Errorf("BranchTo = %#x, want 0xbeef0", m.cpu.BranchTo)
	}
}

// TestCallReturnExits tests the default policy of leaving on ret
func TestCallReturnExits(t *testing.T) {
	m := newMachine(t)
	base := callProgram(m)
	m.run(m.compile(base))
	if m.cpu.BranchTo != base+4 || m.cpu.X[0] != 41 {
		t.Errorf("BranchTo = %#x X0 = %d, want %#x and 41", m.cpu.BranchTo, m.cpu.X[0], base+4)
	}
}

// TestBLR tests an indirect call: the target is read before X30 changes
func TestBLR(t *testing.T) {
	m := newMachine(t)
	base := m.load(encBLR(30))
	m.cpu.X[30] = 0x4444
	m.run(m.compile(base))
	if m.cpu.BranchTo != 0x4444 || m.cpu.X[30] != base+4 {
		t.Errorf("BranchTo = %#x X30 = %#x", m.cpu.BranchTo, m.cpu.X[30])
	}
}

// TestExclusivePair tests an uncontended increment
func TestExclusivePair(t *testing.T) {
	m := newMachine(t)
	cell := m.alloc(8)
	hostmem.Store64(cell, 7)
	base := m.load(
		encLDXR(1, 0),
		encADDi(1, 1, 1),
		encSTXR(2, 1, 0),
		encRET,
	)
	m.cpu.X[0] = cell
	m.cpu.X[2] = 9
	m.run(m.compile(base))

	if got := hostmem.Load64(cell); got != 8 {
		t.Errorf("memory = %d, want 8", got)
	}
	if m.cpu.X[2] != 0 || m.cpu.Exclusive64 != 7 {
		t.Errorf("status = %d monitor = %d, want 0 and 7", m.cpu.X[2], m.cpu.Exclusive64)
	}
}

// TestExclusiveConflict tests that an intervening store fails the pair
func TestExclusiveConflict(t *testing.T) {
	m := newMachine(t)
	cell := m.alloc(8)
	hostmem.Store64(cell, 7)
	base := m.load(
		encLDXR(1, 0),
		encSTR(3, 0, 0),
		encADDi(1, 1, 1),
		encSTXR(2, 1, 0),
		encRET,
	)
	m.cpu.X[0] = cell
	m.cpu.X[3] = 100
	m.run(m.compile(base))

	if got := hostmem.Load64(cell); got != 100 {
		t.Errorf("memory = %d, want the plain store's 100", got)
	}
	if m.cpu.X[2] != 1 {
		t.Errorf("status = %d, want 1", m.cpu.X[2])
	}
}

// TestStackAccess tests SP as base and arithmetic operand
func TestStackAccess(t *testing.T) {
	m := newMachine(t)
	stack := m.alloc(64)
	top := stack + 64
	base := m.load(
		encSUBi(31, 31, 16),
		encSTR(0, 31, 8),
		encLDR(1, 31, 8),
		encADDi(31, 31, 16),
		encADDr(3, 1, 1),
		encSUBSr(31, 3, 1),
		encRET,
	)
	m.cpu.SP = top
	m.cpu.X[0] = 21
	m.run(m.compile(base))

	if m.cpu.X[1] != 21 || m.cpu.X[3] != 42 {
		t.Errorf("X1 = %d X3 = %d, want 21 and 42", m.cpu.X[1], m.cpu.X[3])
	}
	if m.cpu.SP != top {
		t.Errorf("SP = %#x, want %#x", m.cpu.SP, top)
	}
	if got := hostmem.Load64(top - 8); got != 21 {
		t.Errorf("stack slot = %d, want 21", got)
	}
	if m.cpu.Flags() != 0x20000000 {
		t.Errorf("cmp 42, 21: NZCV = %#x, want C only", m.cpu.Flags())
	}
}

// TestSystemRegisters tests NZCV, TPIDR_EL0, FMOV and MOVK
func TestSystemRegisters(t *testing.T) {
	m := newMachine(t)
	base := m.load(
		encMRSTPIDR(0),
		encMOVZ(1, 0xA000, 1),
		encMSRNZCV(1),
		encMRSNZCV(2),
		encFMOVtoD(3, 4),
		encFMOVtoX(5, 3),
		encMOVK(6, 0xBEEF, 1),
		encRET,
	)
	m.cpu.TlsBase = 0x7000
	m.cpu.X[4] = 0x400921FB54442D18
	m.cpu.V[3] = state.Vec128{1, 2}
	m.cpu.X[6] = 0x1111222233334444
	m.run(m.compile(base))

	want := map[string]uint64{
		"x0": 0x7000, "x2": 0xA0000000, "x5": 0x400921FB54442D18, "x6": 0x11112222BEEF4444,
	}
	got := map[string]uint64{
		"x0": m.cpu.X[0], "x2": m.cpu.X[2], "x5": m.cpu.X[5], "x6": m.cpu.X[6],
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("registers (-want +got):\n%s", diff)
	}
	if m.cpu.V[3] != (state.Vec128{0x400921FB54442D18, 0}) {
		t.Errorf("V3 = %x, want upper half cleared", m.cpu.V[3])
	}
	if m.cpu.FlagN != 1 || m.cpu.FlagC != 1 || m.cpu.FlagZ != 0 || m.cpu.FlagV != 0 {
		t.Errorf("flags = %#x", m.cpu.Flags())
	}
}

// TestSupervisorCall tests both continuation codes
func TestSupervisorCall(t *testing.T) {
	for _, tc := range []struct {
		name   string
		result int32
	}{{"continue", hostcall.Continue}, {"stop", 0}} {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine(t)
			var nums []uint32
			var pc uint64
			m.opts.SyscallEntry = m.host.RegisterSyscall(func(num uint32, addr uint64) int32 {
				cpu := state.At(addr)
				nums = append(nums, num, uint32(cpu.X[8]))
				pc = cpu.PC
				return tc.result
			})
			base := m.load(
				encMOVZ(8, 64, 0),
				encSVC(3),
				encMOVZ(0, 1, 0),
				encRET,
			)
			m.cpu.X[30] = 0xf00
			m.run(m.compile(base))

			if diff := cmp.Diff([]uint32{3, 64}, nums); diff != "" {
				t.Errorf("handler saw (-want +got):\n%s", diff)
			}
			if pc != base+4 {
				t.Errorf("PC at call = %#x, want %#x", pc, base+4)
			}
			wantX0, wantTo := uint64(1), uint64(0xf00)
			if tc.result != hostcall.Continue {
				wantX0, wantTo = 0, base+8
			}
			if m.cpu.X[0] != wantX0 || m.cpu.BranchTo != wantTo {
				t.Errorf("X0 = %d BranchTo = %#x, want %d and %#x", m.cpu.X[0], m.cpu.BranchTo, wantX0, wantTo)
			}
		})
	}
}

// TestLookup tests decoding of known and unknown words
func TestLookup(t *testing.T) {
	table := NewTable()
	cases := map[uint32]string{
		encRET:             "ret",
		encNOP:             "nop",
		encSUBSi(31, 0, 1): "subs",
		encLDXR(0, 1):      "ldxr",
		encSTXR(2, 1, 0):   "stxr",
		encBCond(EQ, 8):    "b.cond",
		0:                  ".word 0x00000000",
	}
	for word, name := range cases {
		if got := table.Mnemonic(word); got != name {
			t.Errorf("Mnemonic(%#08x) = %q, want %q", word, got, name)
		}
	}
	if table.Lookup(0) != nil {
		t.Error("zero word decoded")
	}
	if table.Lookup(encRET) == nil {
		t.Error("ret not decoded")
	}
}
