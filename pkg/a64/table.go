// Package a64 is a small ARM64 instruction table: enough of the integer,
// branch, exclusive-access and system instructions to run real control flow
// through the recompiler. It is not a full decoder.
package a64

import (
	"fmt"

	"a64rec/pkg/recompiler"
)

type pattern struct {
	mask, value uint32
	name        string
	handler     recompiler.Handler
}

// Table implements recompiler.Decoder by first-match over mask/value
// patterns
type Table struct {
	patterns []pattern
}

// NewTable returns the table of supported instructions
func NewTable() *Table {
	return &Table{patterns: []pattern{
		{0xFC000000, 0x14000000, "b", branch},
		{0xFC000000, 0x94000000, "bl", branchLinked},
		{0xFF000010, 0x54000000, "b.cond", branchCond},
		{0xFF000000, 0xB4000000, "cbz", compareBranch(false)},
		{0xFF000000, 0xB5000000, "cbnz", compareBranch(true)},
		{0xFFFFFC1F, 0xD61F0000, "br", branchRegister},
		{0xFFFFFC1F, 0xD63F0000, "blr", branchLinkedRegister},
		{0xFFFFFC1F, 0xD65F0000, "ret", branchRegister},

		{0xFF800000, 0xD2800000, "movz", moveWide(false)},
		{0xFF800000, 0xF2800000, "movk", moveWide(true)},
		{0xFF800000, 0x91000000, "add", addSubImm(false, false)},
		{0xFF800000, 0xD1000000, "sub", addSubImm(true, false)},
		{0xFF800000, 0xF1000000, "subs", addSubImm(true, true)},
		{0xFFE00000, 0x8B000000, "add", addSubReg(false, false)},
		{0xFFE00000, 0xCB000000, "sub", addSubReg(true, false)},
		{0xFFE00000, 0xEB000000, "subs", addSubReg(true, true)},

		{0xFFC00000, 0xF9400000, "ldr", loadStore(false)},
		{0xFFC00000, 0xF9000000, "str", loadStore(true)},
		{0xFFFFFC00, 0xC85F7C00, "ldxr", loadExclusive},
		{0xFFE0FC00, 0xC8007C00, "stxr", storeExclusive},

		{0xFFE0001F, 0xD4000001, "svc", supervisorCall},
		{0xFFFFFFFF, 0xD503201F, "nop", func(*recompiler.Recompiler, uint32, uint64) {}},
		{0xFFFFFFE0, 0xD53B4200, "mrs nzcv", readNZCV},
		{0xFFFFFFE0, 0xD51B4200, "msr nzcv", writeNZCV},
		{0xFFFFFFE0, 0xD53BD040, "mrs tpidr_el0", readTLS},
		{0xFFFFFFE0, 0xD51BD040, "msr tpidr_el0", writeTLS},
		{0xFFFFFC00, 0x9E670000, "fmov d, x", fmovToVector},
		{0xFFFFFC00, 0x9E660000, "fmov x, d", fmovFromVector},
	}}
}

func (t *Table) find(inst uint32) *pattern {
	for i := range t.patterns {
		if inst&t.patterns[i].mask == t.patterns[i].value {
			return &t.patterns[i]
		}
	}
	return nil
}

// Lookup returns the handler for inst, or nil
func (t *Table) Lookup(inst uint32) recompiler.Handler {
	if p := t.find(inst); p != nil {
		return p.handler
	}
	return nil
}

// Mnemonic names inst for listings
func (t *Table) Mnemonic(inst uint32) string {
	if p := t.find(inst); p != nil {
		return p.name
	}
	return fmt.Sprintf(".word 0x%08x", inst)
}

// Len is the number of patterns
func (t *Table) Len() int { return len(t.patterns) }
