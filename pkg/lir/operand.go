// Package lir defines the low-level instruction stream the optimizing
// back-end consumes: operands, instruction kinds, pointer maps and
// deoptimization environments, grouped into a per-compilation Chunk.
package lir

import "fmt"

// OperandKind discriminates the Operand variant.
type OperandKind uint8

const (
	OperandInvalid OperandKind = iota

	// OperandRegister is an allocatable general register, identified by
	// its allocation-order index.
	OperandRegister

	// OperandDoubleRegister is an allocatable double register index.
	OperandDoubleRegister

	// OperandStackSlot is a spill/local slot. Non-negative indices live
	// below the frame pointer past the fixed header; negative indices
	// address incoming arguments above it.
	OperandStackSlot

	// OperandDoubleStackSlot is a stack slot holding an untagged double.
	OperandDoubleStackSlot

	// OperandArgument is an incoming argument by position.
	OperandArgument

	// OperandConstant is an index into the chunk's constant pool.
	OperandConstant
)

func (k OperandKind) String() string {
	switch k {
	case OperandRegister:
		return "reg"
	case OperandDoubleRegister:
		return "dreg"
	case OperandStackSlot:
		return "slot"
	case OperandDoubleStackSlot:
		return "dslot"
	case OperandArgument:
		return "arg"
	case OperandConstant:
		return "const"
	default:
		return "invalid"
	}
}

// Operand is a virtual location produced by the upstream register
// allocator. The code generator maps it to a concrete machine location.
type Operand struct {
	Kind  OperandKind
	Index int32
}

func Register(i int32) Operand        { return Operand{OperandRegister, i} }
func DoubleRegister(i int32) Operand  { return Operand{OperandDoubleRegister, i} }
func StackSlot(i int32) Operand       { return Operand{OperandStackSlot, i} }
func DoubleStackSlot(i int32) Operand { return Operand{OperandDoubleStackSlot, i} }
func Argument(i int32) Operand        { return Operand{OperandArgument, i} }
func ConstantOperand(i int32) Operand { return Operand{OperandConstant, i} }

// IsRegister reports whether the operand is a general or double register.
func (o Operand) IsRegister() bool {
	return o.Kind == OperandRegister || o.Kind == OperandDoubleRegister
}

// IsStackSlot reports whether the operand is a general or double slot.
func (o Operand) IsStackSlot() bool {
	return o.Kind == OperandStackSlot || o.Kind == OperandDoubleStackSlot
}

// IsDouble reports whether the operand holds an untagged double.
func (o Operand) IsDouble() bool {
	return o.Kind == OperandDoubleRegister || o.Kind == OperandDoubleStackSlot
}

func (o Operand) String() string {
	return fmt.Sprintf("%s:%d", o.Kind, o.Index)
}
