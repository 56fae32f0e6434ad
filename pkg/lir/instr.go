package lir

import "fmt"

// Op is the closed set of low-level instruction kinds. The code
// generator dispatches over it exhaustively; a kind it does not handle
// aborts that compilation rather than miscompiling.
type Op uint8

const (
	OpNop Op = iota

	// Structure
	OpLabel // block boundary marker
	OpGap   // parallel moves inserted by the register allocator
	OpGoto
	OpReturn

	// Constants
	OpConstantI
	OpConstantD
	OpConstantT

	// Integer arithmetic on untagged 32-bit values
	OpAddI
	OpSubI
	OpMulI
	OpAndI
	OpOrI
	OpXorI
	OpShlI
	OpShrI
	OpSarI

	// Tag conversions
	OpSmiTag
	OpSmiUntag
	OpTaggedToI
	OpNumberTagI
	OpNumberTagD
	OpNumberUntagD

	// Control
	OpBranch
	OpCmpAndBranch
	OpIsSmiAndBranch
	OpIsNullAndBranch
	OpHasInstanceTypeAndBranch
	OpCmpT

	// Fields with statically known layout
	OpLoadNamedField
	OpStoreNamedField

	// Dynamic property and call operations (go through the stub cache)
	OpLoadNamedGeneric
	OpStoreNamedGeneric
	OpLoadKeyedGeneric
	OpCallNamed
	OpCallKnownGlobal
	OpCallNew

	// Runtime transfers
	OpCallRuntime
	OpCallStub
	OpThrow
	OpDeoptimize

	opCount // must be last
)

var opNames = [opCount]string{
	OpNop: "nop", OpLabel: "label", OpGap: "gap", OpGoto: "goto",
	OpReturn: "return", OpConstantI: "constant-i", OpConstantD: "constant-d",
	OpConstantT: "constant-t", OpAddI: "add-i", OpSubI: "sub-i",
	OpMulI: "mul-i", OpAndI: "and-i", OpOrI: "or-i", OpXorI: "xor-i",
	OpShlI: "shl-i", OpShrI: "shr-i", OpSarI: "sar-i", OpSmiTag: "smi-tag",
	OpSmiUntag: "smi-untag", OpTaggedToI: "tagged-to-i",
	OpNumberTagI: "number-tag-i", OpNumberTagD: "number-tag-d",
	OpNumberUntagD: "number-untag-d",
	OpBranch: "branch", OpCmpAndBranch: "cmp-and-branch",
	OpIsSmiAndBranch: "is-smi-and-branch", OpIsNullAndBranch: "is-null-and-branch",
	OpHasInstanceTypeAndBranch: "has-instance-type-and-branch", OpCmpT: "cmp-t",
	OpLoadNamedField: "load-named-field", OpStoreNamedField: "store-named-field",
	OpLoadNamedGeneric: "load-named-generic", OpStoreNamedGeneric: "store-named-generic",
	OpLoadKeyedGeneric: "load-keyed-generic", OpCallNamed: "call-named",
	OpCallKnownGlobal: "call-known-global", OpCallNew: "call-new",
	OpCallRuntime: "call-runtime", OpCallStub: "call-stub",
	OpThrow: "throw", OpDeoptimize: "deoptimize",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// InstrFlags carry per-instruction hints from the optimizer.
type InstrFlags uint8

const (
	// FlagCanOverflow requests an overflow check that deoptimizes
	// instead of wrapping.
	FlagCanOverflow InstrFlags = 1 << 0

	// FlagBailoutOnMinusZero requests a deoptimizing check when the
	// result would be IEEE -0 in a context that must distinguish it.
	FlagBailoutOnMinusZero InstrFlags = 1 << 1

	// FlagCall marks instructions that call out and therefore need a
	// safepoint.
	FlagCall InstrFlags = 1 << 2
)

// Condition is the comparison requested by OpCmpAndBranch, in source
// terms; the code generator maps it to a machine condition code.
type Condition uint8

const (
	CondEqual Condition = iota
	CondNotEqual
	CondLess
	CondLessEqual
	CondGreater
	CondGreaterEqual
)

// MovePair is one simultaneous assignment inside a gap.
type MovePair struct {
	From Operand
	To   Operand
}

// Instr is one low-level instruction. Which fields are meaningful
// depends on Op; the zero value of the rest is ignored.
type Instr struct {
	Op     Op
	Output Operand
	Inputs []Operand
	Temps  []Operand

	// Metadata attached by the optimizer.
	PointerMap *PointerMap
	EnvIndex   int32 // environment arena index, or NoEnvironment

	Flags InstrFlags
	Cond  Condition

	// Parameters. Name is the property name for named operations;
	// Imm carries shift counts, argument counts and runtime function
	// ids; FieldOffset/InObject describe known field layout; MapID is
	// the expected shape for specialized operations.
	Name        string
	Imm         int64
	FieldOffset int32
	InObject    bool
	MapID       uint32

	// Branch successors (block ids). TrueBlock doubles as the sole
	// target of OpGoto.
	TrueBlock  int32
	FalseBlock int32

	// Label-only: block descriptor fields.
	BlockID     int32
	ReplacedBy  int32 // merged-away target block id, or NoReplacement
	LoopHeader  bool
	ConstantIdx int32 // OpConstant*: pool index

	// Gap-only.
	Moves []MovePair
}

// NoEnvironment marks an instruction without deoptimization support.
const NoEnvironment int32 = -1

// NoReplacement marks a label whose block was not merged away.
const NoReplacement int32 = -1

// HasEnvironment reports whether a deopt environment is attached.
func (in *Instr) HasEnvironment() bool {
	return in.EnvIndex != NoEnvironment
}

// IsControl reports whether the instruction ends a block.
func (in *Instr) IsControl() bool {
	switch in.Op {
	case OpGoto, OpReturn, OpBranch, OpCmpAndBranch, OpIsSmiAndBranch,
		OpIsNullAndBranch, OpHasInstanceTypeAndBranch, OpThrow, OpDeoptimize:
		return true
	}
	return false
}

// NewInstr returns an instruction with no environment attached.
func NewInstr(op Op) *Instr {
	return &Instr{Op: op, EnvIndex: NoEnvironment, ReplacedBy: NoReplacement}
}
