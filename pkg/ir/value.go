package ir

// Op identifies the operation producing a Value
type Op uint8

const (
	OpInvalid Op = iota
	OpParam
	OpConst
	OpAlloca
	OpLoad
	OpStore
	OpBinary
	OpICmp
	OpZExt
	OpSExt
	OpTrunc
	OpBitcast
	OpIntToPtr
	OpPtrToInt
	OpExtractElement
	OpInsertElement
	OpSelect
	OpCall
	OpCmpXchg
	OpPhi

	// terminators
	OpBr
	OpCondBr
	OpRet
)

var opNames = [...]string{
	OpInvalid:        "invalid",
	OpParam:          "param",
	OpConst:          "const",
	OpAlloca:         "alloca",
	OpLoad:           "load",
	OpStore:          "store",
	OpBinary:         "binary",
	OpICmp:           "icmp",
	OpZExt:           "zext",
	OpSExt:           "sext",
	OpTrunc:          "trunc",
	OpBitcast:        "bitcast",
	OpIntToPtr:       "inttoptr",
	OpPtrToInt:       "ptrtoint",
	OpExtractElement: "extractelement",
	OpInsertElement:  "insertelement",
	OpSelect:         "select",
	OpCall:           "call",
	OpCmpXchg:        "cmpxchg",
	OpPhi:            "phi",
	OpBr:             "br",
	OpCondBr:         "br",
	OpRet:            "ret",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "op?"
}

// IsTerminator reports whether the op ends a basic block
func (o Op) IsTerminator() bool {
	return o == OpBr || o == OpCondBr || o == OpRet
}

// BinOp selects the arithmetic of an OpBinary value
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	And
	Or
	Xor
	Shl
	LShr
	AShr
)

var binOpNames = [...]string{"add", "sub", "mul", "and", "or", "xor", "shl", "lshr", "ashr"}

func (b BinOp) String() string { return binOpNames[b] }

// Pred is an integer comparison predicate
type Pred uint8

const (
	EQ Pred = iota
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
)

var predNames = [...]string{"eq", "ne", "ult", "ule", "ugt", "uge", "slt", "sle", "sgt", "sge"}

func (p Pred) String() string { return predNames[p] }

// Value is one SSA instruction. Terminators and stores are values of type
// void.
type Value struct {
	id    int
	op    Op
	typ   Type
	block *Block

	args []*Value
	// aux carries the constant low bits, the BinOp/Pred, the lane index, the
	// parameter index, or the call target depending on op.
	aux uint64
	// auxHi carries the high 64 bits of a 128-bit constant.
	auxHi uint64
	// targets are the successors of a terminator, or the incoming blocks of a
	// phi aligned with args.
	targets []*Block
	// elem is the slot type of an alloca.
	elem Type
}

func (v *Value) ID() int           { return v.id }
func (v *Value) Op() Op            { return v.op }
func (v *Value) Type() Type        { return v.typ }
func (v *Value) Block() *Block     { return v.block }
func (v *Value) Args() []*Value    { return v.args }
func (v *Value) Arg(i int) *Value  { return v.args[i] }
func (v *Value) Targets() []*Block { return v.targets }

// Const returns the low and high bits of an OpConst
func (v *Value) Const() (lo, hi uint64) { return v.aux, v.auxHi }

// BinOp returns the arithmetic of an OpBinary
func (v *Value) BinOp() BinOp { return BinOp(v.aux) }

// Pred returns the predicate of an OpICmp
func (v *Value) Pred() Pred { return Pred(v.aux) }

// Lane returns the lane index of OpExtractElement/OpInsertElement
func (v *Value) Lane() int { return int(v.aux) }

// ParamIndex returns the index of an OpParam
func (v *Value) ParamIndex() int { return int(v.aux) }

// CallTarget returns the absolute address called by an OpCall
func (v *Value) CallTarget() uint64 { return v.aux }

// AllocType returns the slot type of an OpAlloca
func (v *Value) AllocType() Type { return v.elem }

// Incoming returns the (value, predecessor) pairs of a phi
func (v *Value) Incoming() ([]*Value, []*Block) { return v.args, v.targets }

// AddIncoming appends a phi edge
func (v *Value) AddIncoming(val *Value, from *Block) {
	if v.op != OpPhi {
		panic("ir: AddIncoming on non-phi")
	}
	v.args = append(v.args, val)
	v.targets = append(v.targets, from)
}

// Ordering of atomic operations. Only sequential consistency is emitted.
type Ordering uint8

const (
	SeqCst Ordering = iota
)
