// Package state defines the guest CPU state record shared between translated
// code and host handlers. Translated code embeds the offsets exported here, so
// the layout must not change while any translation is alive.
package state

import (
	"fmt"
	"unsafe"

	"a64rec/pkg/errors"
	"a64rec/pkg/hostmem"
	"a64rec/pkg/ir"
)

const (
	NumGPR    = 32
	NumVector = 32
	// ZeroReg is the general-purpose index wired to zero
	ZeroReg = 31
	// LinkReg receives the return address of linked branches
	LinkReg = 30
)

// Vec128 is one 128-bit vector register, low half first
type Vec128 [2]uint64

// CpuState is the state of one guest thread
type CpuState struct {
	PC uint64
	SP uint64

	X [NumGPR]uint64
	V [NumVector]Vec128

	TlsBase  uint64
	BranchTo uint64

	// exclusive monitor, one value per access size
	Exclusive8  uint8
	Exclusive16 uint16
	Exclusive32 uint32
	Exclusive64 uint64

	// condition flags, one bit each stored in a full word
	FlagN uint64
	FlagZ uint64
	FlagC uint64
	FlagV uint64
}

// Size is the byte size of CpuState
const Size = int(unsafe.Sizeof(CpuState{}))

// Field describes one location in CpuState
type Field struct {
	Name   string
	Offset int
	Type   ir.Type
}

func (f Field) String() string {
	return fmt.Sprintf("%s@%d:%v", f.Name, f.Offset, f.Type)
}

var layout CpuState

var (
	PC          = Field{"PC", int(unsafe.Offsetof(layout.PC)), ir.I64}
	SP          = Field{"SP", int(unsafe.Offsetof(layout.SP)), ir.I64}
	TlsBase     = Field{"TlsBase", int(unsafe.Offsetof(layout.TlsBase)), ir.I64}
	BranchTo    = Field{"BranchTo", int(unsafe.Offsetof(layout.BranchTo)), ir.I64}
	Exclusive8  = Field{"Exclusive8", int(unsafe.Offsetof(layout.Exclusive8)), ir.I8}
	Exclusive16 = Field{"Exclusive16", int(unsafe.Offsetof(layout.Exclusive16)), ir.I16}
	Exclusive32 = Field{"Exclusive32", int(unsafe.Offsetof(layout.Exclusive32)), ir.I32}
	Exclusive64 = Field{"Exclusive64", int(unsafe.Offsetof(layout.Exclusive64)), ir.I64}
	FlagN       = Field{"FlagN", int(unsafe.Offsetof(layout.FlagN)), ir.I64}
	FlagZ       = Field{"FlagZ", int(unsafe.Offsetof(layout.FlagZ)), ir.I64}
	FlagC       = Field{"FlagC", int(unsafe.Offsetof(layout.FlagC)), ir.I64}
	FlagV       = Field{"FlagV", int(unsafe.Offsetof(layout.FlagV)), ir.I64}

	xBase = int(unsafe.Offsetof(layout.X))
	vBase = int(unsafe.Offsetof(layout.V))
)

// X describes general-purpose register i. Index 31 is a valid field (the
// storage exists) even though reads of the architectural register yield zero.
func X(i int) Field {
	if i < 0 || i >= NumGPR {
		errors.Invariantf("general-purpose register index %d out of range", i)
	}
	return Field{fmt.Sprintf("X%d", i), xBase + i*8, ir.I64}
}

// V describes vector register i, typed as four floats
func V(i int) Field {
	if i < 0 || i >= NumVector {
		errors.Invariantf("vector register index %d out of range", i)
	}
	return Field{fmt.Sprintf("V%d", i), vBase + i*16, ir.V4xF32}
}

// Exclusive returns the monitor field for an access of size bytes
func Exclusive(size int) Field {
	switch size {
	case 1:
		return Exclusive8
	case 2:
		return Exclusive16
	case 4:
		return Exclusive32
	case 8:
		return Exclusive64
	}
	errors.Invariantf("no exclusive monitor for %d-byte access", size)
	return Field{}
}

// Fields lists every field in layout order, for tools inspecting guest state
func Fields() []Field {
	fields := []Field{PC, SP}
	for i := 0; i < NumGPR; i++ {
		fields = append(fields, X(i))
	}
	for i := 0; i < NumVector; i++ {
		fields = append(fields, V(i))
	}
	return append(fields, TlsBase, BranchTo,
		Exclusive8, Exclusive16, Exclusive32, Exclusive64,
		FlagN, FlagZ, FlagC, FlagV)
}

// Reg reads general-purpose register i with zero-register semantics
func (s *CpuState) Reg(i int) uint64 {
	if i == ZeroReg {
		return 0
	}
	return s.X[i]
}

// SetReg writes general-purpose register i; writes to the zero register are
// dropped
func (s *CpuState) SetReg(i int, v uint64) {
	if i != ZeroReg {
		s.X[i] = v
	}
}

// Flags packs the condition flags into NZCV layout (bits 31..28)
func (s *CpuState) Flags() uint64 {
	return s.FlagN<<31 | s.FlagZ<<30 | s.FlagC<<29 | s.FlagV<<28
}

// SetFlags unpacks an NZCV value into the flag fields
func (s *CpuState) SetFlags(nzcv uint64) {
	s.FlagN = (nzcv >> 31) & 1
	s.FlagZ = (nzcv >> 30) & 1
	s.FlagC = (nzcv >> 29) & 1
	s.FlagV = (nzcv >> 28) & 1
}

// Alloc places a zeroed CpuState in region, returning it and its address.
// The state never moves and stays valid until the region is freed.
func Alloc(region *hostmem.Region) (*CpuState, uint64, error) {
	addr, err := region.Allocate(Size, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to allocate cpu state: %w", err)
	}
	return At(addr), addr, nil
}

// At views the CpuState stored at addr
func At(addr uint64) *CpuState {
	return (*CpuState)(unsafe.Pointer(uintptr(addr)))
}
