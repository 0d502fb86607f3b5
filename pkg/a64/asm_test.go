//go:build unix

package a64

// encoders for the instructions the table understands

func u(i int) uint32 { return uint32(i) }

func encB(off int64) uint32  { return 0x14000000 | uint32(off>>2)&0x3FFFFFF }
func encBL(off int64) uint32 { return 0x94000000 | uint32(off>>2)&0x3FFFFFF }

func encBCond(c Cond, off int64) uint32 {
	return 0x54000000 | (uint32(off>>2)&0x7FFFF)<<5 | uint32(c)
}

func encCBZ(rt int, off int64) uint32 {
	return 0xB4000000 | (uint32(off>>2)&0x7FFFF)<<5 | u(rt)
}

func encBR(rn int) uint32  { return 0xD61F0000 | u(rn)<<5 }
func encBLR(rn int) uint32 { return 0xD63F0000 | u(rn)<<5 }

const encRET = 0xD65F03C0
const encNOP = 0xD503201F

func encMOVZ(rd int, imm uint16, hw int) uint32 {
	return 0xD2800000 | u(hw)<<21 | uint32(imm)<<5 | u(rd)
}

func encMOVK(rd int, imm uint16, hw int) uint32 {
	return 0xF2800000 | u(hw)<<21 | uint32(imm)<<5 | u(rd)
}

func encADDi(rd, rn int, imm uint32) uint32  { return 0x91000000 | imm<<10 | u(rn)<<5 | u(rd) }
func encSUBi(rd, rn int, imm uint32) uint32  { return 0xD1000000 | imm<<10 | u(rn)<<5 | u(rd) }
func encSUBSi(rd, rn int, imm uint32) uint32 { return 0xF1000000 | imm<<10 | u(rn)<<5 | u(rd) }

func encADDr(rd, rn, rm int) uint32  { return 0x8B000000 | u(rm)<<16 | u(rn)<<5 | u(rd) }
func encSUBSr(rd, rn, rm int) uint32 { return 0xEB000000 | u(rm)<<16 | u(rn)<<5 | u(rd) }

func encLDR(rt, rn int, off uint32) uint32 { return 0xF9400000 | (off/8)<<10 | u(rn)<<5 | u(rt) }
func encSTR(rt, rn int, off uint32) uint32 { return 0xF9000000 | (off/8)<<10 | u(rn)<<5 | u(rt) }

func encLDXR(rt, rn int) uint32     { return 0xC85F7C00 | u(rn)<<5 | u(rt) }
func encSTXR(rs, rt, rn int) uint32 { return 0xC8007C00 | u(rs)<<16 | u(rn)<<5 | u(rt) }

func encSVC(imm uint16) uint32 { return 0xD4000001 | uint32(imm)<<5 }

func encMRSNZCV(rt int) uint32  { return 0xD53B4200 | u(rt) }
func encMSRNZCV(rt int) uint32  { return 0xD51B4200 | u(rt) }
func encMRSTPIDR(rt int) uint32 { return 0xD53BD040 | u(rt) }

func encFMOVtoD(d, n int) uint32 { return 0x9E670000 | u(n)<<5 | u(d) }
func encFMOVtoX(d, n int) uint32 { return 0x9E660000 | u(n)<<5 | u(d) }
