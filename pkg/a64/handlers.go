package a64

import (
	"a64rec/pkg/ir"
	"a64rec/pkg/recompiler"
)

type rec = recompiler.Recompiler

func branch(r *rec, inst uint32, pc uint64) {
	r.BranchAddress(pc + uint64(imm26(inst)))
}

func branchLinked(r *rec, inst uint32, pc uint64) {
	r.BranchLinked(pc + uint64(imm26(inst)))
}

func branchCond(r *rec, inst uint32, pc uint64) {
	target := pc + uint64(imm19(inst))
	c := Cond(inst & 0xF)
	if c.Always() {
		r.BranchAddress(target)
		return
	}
	r.BranchConditional(c.Eval(r), target)
}

func compareBranch(nonZero bool) recompiler.Handler {
	return func(r *rec, inst uint32, pc uint64) {
		v := r.X.Get(rd(inst))
		cond := r.Eq(v, r.I64(0))
		if nonZero {
			cond = r.Ne(v, r.I64(0))
		}
		r.BranchConditional(cond, pc+uint64(imm19(inst)))
	}
}

func branchRegister(r *rec, inst uint32, _ uint64) {
	r.BranchRegister(rn(inst))
}

func branchLinkedRegister(r *rec, inst uint32, _ uint64) {
	r.BranchLinkedRegister(rn(inst))
}

func moveWide(keep bool) recompiler.Handler {
	return func(r *rec, inst uint32, _ uint64) {
		shift := uint64(inst>>21&3) * 16
		imm := uint64(inst>>5&0xFFFF) << shift
		d := rd(inst)
		if !keep {
			r.X.Set(d, r.I64(imm))
			return
		}
		kept := r.And(r.X.Get(d), r.I64(^(uint64(0xFFFF) << shift)))
		r.X.Set(d, r.Or(kept, r.I64(imm)))
	}
}

// setSubFlags sets NZCV for x - y = res
func setSubFlags(r *rec, x, y, res recompiler.Expr) {
	r.FlagN.Set(r.LShr(res, r.I64(63)))
	r.FlagZ.Set(r.ZExt(r.Eq(res, r.I64(0)), ir.I64))
	r.FlagC.Set(r.ZExt(r.Compare(ir.UGE, x, y), ir.I64))
	r.FlagV.Set(r.LShr(r.And(r.Xor(x, y), r.Xor(x, res)), r.I64(63)))
}

func addSub(r *rec, x, y recompiler.Expr, sub, flags bool, dst recompiler.Ref) {
	if !sub {
		dst.Set(r.Add(x, y))
		return
	}
	if !flags {
		dst.Set(r.Sub(x, y))
		return
	}
	x, y = r.Let(x), r.Let(y)
	res := r.Let(r.Sub(x, y))
	setSubFlags(r, x, y, res)
	dst.Set(res)
}

func addSubImm(sub, flags bool) recompiler.Handler {
	return func(r *rec, inst uint32, _ uint64) {
		imm := uint64(inst>>10) & 0xFFF
		if inst&(1<<22) != 0 {
			imm <<= 12
		}
		dst := regOrSP(r, rd(inst))
		if flags {
			dst = r.X.At(rd(inst))
		}
		addSub(r, regOrSP(r, rn(inst)).Get(), r.I64(imm), sub, flags, dst)
	}
}

func addSubReg(sub, flags bool) recompiler.Handler {
	return func(r *rec, inst uint32, _ uint64) {
		amount := uint64(inst>>10) & 0x3F
		y := r.X.Get(rm(inst))
		if amount != 0 {
			y = r.Shl(y, r.I64(amount))
		}
		addSub(r, r.X.Get(rn(inst)), y, sub, flags, r.X.At(rd(inst)))
	}
}

func address(r *rec, inst uint32) recompiler.Expr {
	off := (uint64(inst>>10) & 0xFFF) * 8
	base := regOrSP(r, rn(inst)).Get()
	if off == 0 {
		return base
	}
	return r.Add(base, r.I64(off))
}

func loadStore(store bool) recompiler.Handler {
	return func(r *rec, inst uint32, _ uint64) {
		addr := address(r, inst)
		if store {
			r.Store(addr, r.X.Get(rd(inst)))
			return
		}
		r.X.Set(rd(inst), r.Load(ir.I64, addr))
	}
}

// loadExclusive arms the 8-byte monitor with the loaded value
func loadExclusive(r *rec, inst uint32, _ uint64) {
	v := r.Let(r.Load(ir.I64, regOrSP(r, rn(inst)).Get()))
	r.Exclusive(8).Set(v)
	r.X.Set(rd(inst), v)
}

// storeExclusive succeeds only if memory still holds the monitored value
func storeExclusive(r *rec, inst uint32, _ uint64) {
	status := r.CompareAndSwap(regOrSP(r, rn(inst)).Get(), r.X.Get(rd(inst)), r.Exclusive(8).Get())
	r.X.Set(rm(inst), r.ZExt(status, ir.I64))
}

// supervisorCall stages the resume address so a handler that stops the
// unit returns to dispatch after the instruction unless it says otherwise
func supervisorCall(r *rec, inst uint32, pc uint64) {
	r.GuestPC.Set(r.I64(pc))
	r.BranchTo.Set(r.I64(pc + recompiler.InstructionSize))
	r.CallSvc(inst >> 5 & 0xFFFF)
}

func readNZCV(r *rec, inst uint32, _ uint64)  { r.X.Set(rd(inst), r.NZCV.Get()) }
func writeNZCV(r *rec, inst uint32, _ uint64) { r.NZCV.Set(r.X.Get(rd(inst))) }
func readTLS(r *rec, inst uint32, _ uint64)   { r.X.Set(rd(inst), r.TlsBase.Get()) }
func writeTLS(r *rec, inst uint32, _ uint64)  { r.TlsBase.Set(r.X.Get(rd(inst))) }

func fmovToVector(r *rec, inst uint32, _ uint64) {
	r.VD.Set(rd(inst), r.Bitcast(r.X.Get(rn(inst)), ir.F64))
}

func fmovFromVector(r *rec, inst uint32, _ uint64) {
	r.X.Set(rd(inst), r.Bitcast(r.VD.Get(rn(inst)), ir.I64))
}
