package a64

import "a64rec/pkg/recompiler"

func rd(inst uint32) int { return int(inst & 0x1F) }
func rn(inst uint32) int { return int(inst>>5) & 0x1F }
func rm(inst uint32) int { return int(inst>>16) & 0x1F }

// signed extracts a two's complement field of width bits starting at lo
func signed(inst uint32, lo, width uint) int64 {
	v := int64(inst>>lo) & (1<<width - 1)
	if v&(1<<(width-1)) != 0 {
		v -= 1 << width
	}
	return v
}

func imm26(inst uint32) int64 { return signed(inst, 0, 26) << 2 }
func imm19(inst uint32) int64 { return signed(inst, 5, 19) << 2 }

// regOrSP resolves index 31 to the stack pointer, as base and arithmetic
// operands of the immediate forms do
func regOrSP(r *recompiler.Recompiler, i int) recompiler.Ref {
	if i == 31 {
		return r.SP
	}
	return r.X.At(i)
}
