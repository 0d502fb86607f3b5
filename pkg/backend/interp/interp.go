// Package interp is a reference backend that evaluates IR directly. It gives
// translated units exact, inspectable semantics without native code
// generation, which is what tests and the CLI's run mode use.
package interp

import (
	"fmt"

	"a64rec/pkg/backend"
	"a64rec/pkg/hostcall"
	"a64rec/pkg/hostmem"
	"a64rec/pkg/ir"

	"github.com/cockroachdb/errors"
)

// Interpreter implements backend.Compiler
type Interpreter struct {
	host *hostcall.Table
}

// New returns an interpreter resolving call targets through host
func New(host *hostcall.Table) *Interpreter {
	return &Interpreter{host: host}
}

// Compile verifies fn and wraps it as an Entry
func (in *Interpreter) Compile(fn *ir.Function) (backend.Entry, error) {
	if err := fn.Verify(); err != nil {
		return nil, errors.Wrapf(err, "verify %s", fn.Name)
	}
	if n := len(fn.Params()); n != 1 || fn.Param(0).Type() != ir.I64 {
		return nil, errors.Newf("%s: entry must take one i64 state address, has %d params", fn.Name, n)
	}
	return &program{fn: fn, host: in.host}, nil
}

type program struct {
	fn   *ir.Function
	host *hostcall.Table
}

// word is one IR value; scalars live in lo
type word struct {
	lo, hi uint64
}

func (p *program) Call(state uint64) {
	p.Run(state)
}

// Run evaluates the function and returns the value of its ret, if any
func (p *program) Run(args ...uint64) uint64 {
	fn := p.fn
	regs := make([]word, fn.NumValues())
	slots := make(map[*ir.Value]*word)
	for i, a := range args {
		regs[fn.Param(i).ID()] = word{lo: a}
	}

	var prev *ir.Block
	blk := fn.Entry()
	for {
		instrs := blk.Instrs()

		// phis read their inputs simultaneously on block entry
		n := 0
		for n < len(instrs) && instrs[n].Op() == ir.OpPhi {
			n++
		}
		if n > 0 {
			vals := make([]word, n)
			for i, v := range instrs[:n] {
				args, from := v.Incoming()
				found := false
				for j, b := range from {
					if b == prev {
						vals[i] = regs[args[j].ID()]
						found = true
						break
					}
				}
				if !found {
					panic(fmt.Sprintf("interp: phi %%%d has no edge from b%d", v.ID(), prev.ID()))
				}
			}
			for i, v := range instrs[:n] {
				regs[v.ID()] = vals[i]
			}
		}

		for _, v := range instrs[n:] {
			switch v.Op() {
			case ir.OpBr:
				prev, blk = blk, v.Targets()[0]
			case ir.OpCondBr:
				t := v.Targets()
				if regs[v.Arg(0).ID()].lo&1 != 0 {
					prev, blk = blk, t[0]
				} else {
					prev, blk = blk, t[1]
				}
			case ir.OpRet:
				if len(v.Args()) == 0 {
					return 0
				}
				return regs[v.Arg(0).ID()].lo
			default:
				regs[v.ID()] = p.eval(v, regs, slots)
				continue
			}
			break
		}
	}
}

func mask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}

func signExtend(v uint64, bits int) int64 {
	shift := uint(64 - bits)
	return int64(v<<shift) >> shift
}

func (p *program) eval(v *ir.Value, regs []word, slots map[*ir.Value]*word) word {
	arg := func(i int) word { return regs[v.Arg(i).ID()] }
	typ := v.Type()

	switch v.Op() {
	case ir.OpConst:
		lo, hi := v.Const()
		return word{lo, hi}

	case ir.OpAlloca:
		slots[v] = &word{}
		return word{}

	case ir.OpLoad:
		if ptr := v.Arg(0); ptr.Op() == ir.OpAlloca {
			return *slots[ptr]
		}
		lo, hi := hostmem.Load(arg(0).lo, typ.Size())
		return word{lo, hi}

	case ir.OpStore:
		val := arg(0)
		if ptr := v.Arg(1); ptr.Op() == ir.OpAlloca {
			*slots[ptr] = val
			return word{}
		}
		hostmem.Store(arg(1).lo, v.Arg(0).Type().Size(), val.lo, val.hi)
		return word{}

	case ir.OpBinary:
		return word{lo: binary(v.BinOp(), arg(0).lo, arg(1).lo, typ.Bits())}

	case ir.OpICmp:
		if compare(v.Pred(), arg(0).lo, arg(1).lo, v.Arg(0).Type().Bits()) {
			return word{lo: 1}
		}
		return word{}

	case ir.OpZExt, ir.OpTrunc:
		return word{lo: arg(0).lo & mask(typ.Bits())}

	case ir.OpSExt:
		return word{lo: uint64(signExtend(arg(0).lo, v.Arg(0).Type().Bits())) & mask(typ.Bits())}

	case ir.OpBitcast, ir.OpIntToPtr, ir.OpPtrToInt:
		return arg(0)

	case ir.OpExtractElement:
		return word{lo: lane(arg(0), v.Arg(0).Type().ScalarBits(), v.Lane())}

	case ir.OpInsertElement:
		return setLane(arg(0), typ.ScalarBits(), v.Lane(), arg(1).lo)

	case ir.OpSelect:
		if arg(0).lo&1 != 0 {
			return arg(1)
		}
		return arg(2)

	case ir.OpCall:
		fn, ok := p.host.Lookup(v.CallTarget())
		if !ok {
			panic(fmt.Sprintf("interp: call to unregistered host address 0x%x", v.CallTarget()))
		}
		args := make([]uint64, len(v.Args()))
		for i := range args {
			args[i] = arg(i).lo
		}
		r := fn(args)
		if typ.IsVoid() {
			return word{}
		}
		return word{lo: r & mask(typ.Bits())}

	case ir.OpCmpXchg:
		size := v.Arg(1).Type().Size()
		if hostmem.CompareAndSwap(arg(0).lo, size, arg(1).lo, arg(2).lo) {
			return word{lo: 1}
		}
		return word{}
	}
	panic(fmt.Sprintf("interp: cannot evaluate %v", v))
}

func binary(op ir.BinOp, x, y uint64, bits int) uint64 {
	m := mask(bits)
	var r uint64
	switch op {
	case ir.Add:
		r = x + y
	case ir.Sub:
		r = x - y
	case ir.Mul:
		r = x * y
	case ir.And:
		r = x & y
	case ir.Or:
		r = x | y
	case ir.Xor:
		r = x ^ y
	case ir.Shl:
		if y >= uint64(bits) {
			return 0
		}
		r = x << y
	case ir.LShr:
		if y >= uint64(bits) {
			return 0
		}
		r = x >> y
	case ir.AShr:
		if y >= uint64(bits) {
			y = uint64(bits - 1)
		}
		r = uint64(signExtend(x, bits) >> y)
	}
	return r & m
}

func compare(p ir.Pred, x, y uint64, bits int) bool {
	sx, sy := signExtend(x, bits), signExtend(y, bits)
	switch p {
	case ir.EQ:
		return x == y
	case ir.NE:
		return x != y
	case ir.ULT:
		return x < y
	case ir.ULE:
		return x <= y
	case ir.UGT:
		return x > y
	case ir.UGE:
		return x >= y
	case ir.SLT:
		return sx < sy
	case ir.SLE:
		return sx <= sy
	case ir.SGT:
		return sx > sy
	case ir.SGE:
		return sx >= sy
	}
	return false
}

func lane(w word, bits, i int) uint64 {
	off := bits * i
	half := w.lo
	if off >= 64 {
		half, off = w.hi, off-64
	}
	return (half >> uint(off)) & mask(bits)
}

func setLane(w word, bits, i int, val uint64) word {
	off := bits * i
	half := &w.lo
	if off >= 64 {
		half, off = &w.hi, off-64
	}
	m := mask(bits) << uint(off)
	*half = *half&^m | (val<<uint(off))&m
	return w
}
