package a64

import "a64rec/pkg/recompiler"

// Cond is an ARM64 condition code
type Cond uint8

const (
	EQ Cond = iota
	NE
	CS
	CC
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
	NV
)

var condNames = [...]string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al", "nv"}

func (c Cond) String() string { return condNames[c&0xF] }

// Always reports whether c holds regardless of the flags
func (c Cond) Always() bool { return c&0xE == 0xE }

// Eval builds the i1 that holds when c is satisfied by the flags
func (c Cond) Eval(r *recompiler.Recompiler) recompiler.Expr {
	one := r.I64(1)
	not := func(e recompiler.Expr) recompiler.Expr { return r.Xor(e, one) }
	n, z, cf, v := r.FlagN.Get(), r.FlagZ.Get(), r.FlagC.Get(), r.FlagV.Get()

	var base recompiler.Expr
	switch c >> 1 {
	case 0:
		base = z
	case 1:
		base = cf
	case 2:
		base = n
	case 3:
		base = v
	case 4:
		base = r.And(cf, not(z))
	case 5:
		base = not(r.Xor(n, v))
	case 6:
		base = r.And(not(z), not(r.Xor(n, v)))
	default:
		base = one
	}
	if c&1 != 0 && !c.Always() {
		base = not(base)
	}
	return r.Ne(base, r.I64(0))
}

// Holds evaluates c on packed NZCV bits, for host-side checks
func (c Cond) Holds(nzcv uint64) bool {
	n, z := nzcv>>31&1 == 1, nzcv>>30&1 == 1
	cf, v := nzcv>>29&1 == 1, nzcv>>28&1 == 1
	var res bool
	switch c >> 1 {
	case 0:
		res = z
	case 1:
		res = cf
	case 2:
		res = n
	case 3:
		res = v
	case 4:
		res = cf && !z
	case 5:
		res = n == v
	case 6:
		res = !z && n == v
	default:
		return true
	}
	if c&1 != 0 {
		res = !res
	}
	return res
}
