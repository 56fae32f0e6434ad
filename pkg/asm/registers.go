package asm

import "fmt"

// Reg is a general-purpose 64-bit register.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// XMM is a 128-bit SSE register, used here for double-precision values.
type XMM uint8

const (
	XMM0 XMM = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

// Register roles fixed by the code generator's calling convention.
// These are structural: generated code, stub code and the runtime all
// agree on them.
const (
	// FramePointer anchors the fixed frame header; stack slots are
	// addressed relative to it.
	FramePointer = RBP

	// StackPointer is never allocatable.
	StackPointer = RSP

	// ContextReg holds the current context object. Always live, always
	// a heap reference.
	ContextReg = R14

	// ScratchReg is reserved for the gap resolver and for materializing
	// 64-bit immediates. Never handed out by the allocator.
	ScratchReg = R10

	// ScratchDouble is the reserved floating-point scratch register.
	ScratchDouble = XMM15

	// ReturnReg receives tagged results from calls and stubs.
	ReturnReg = RAX
)

// IC calling convention: the registers generic property/call sites load
// before jumping to a stub cache probe or a generic handler.
const (
	ICReceiverReg = RDX
	ICNameReg     = RCX
	ICValueReg    = RAX
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("r?%d", uint8(r))
}

func (x XMM) String() string {
	return fmt.Sprintf("xmm%d", uint8(x))
}

// AllocationOrder maps the register allocator's small integer indices to
// concrete machine registers. The mapping is a fixed bijection; the
// upstream allocator only ever sees the indices.
var AllocationOrder = [...]Reg{
	RAX, RCX, RDX, RBX, RSI, RDI, R8, R9, R11, R12, R15,
}

// DoubleAllocationOrder is the same fixed table for double registers.
// XMM15 is excluded (scratch).
var DoubleAllocationOrder = [...]XMM{
	XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
	XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14,
}

// NumAllocatableRegs is the number of general registers the upstream
// allocator may use.
const NumAllocatableRegs = len(AllocationOrder)

// NumAllocatableDoubles is the number of double registers the upstream
// allocator may use.
const NumAllocatableDoubles = len(DoubleAllocationOrder)

// FromAllocationIndex returns the register for an allocator index.
// Panics on an out-of-range index: that is a bug in the caller, never a
// data condition.
func FromAllocationIndex(i int) Reg {
	return AllocationOrder[i]
}

// DoubleFromAllocationIndex returns the double register for an allocator
// index.
func DoubleFromAllocationIndex(i int) XMM {
	return DoubleAllocationOrder[i]
}
