// Package ic implements the inline-cache machinery: a compiler for
// small stub code objects specializing property and call operations to
// one observed receiver shape, and the global two-level cache those
// stubs are published through.
//
// Every stub exists in two coupled forms. The machine-code form is
// what optimized code jumps through; the Go-level guard and action
// mirror its exact semantics and are what the runtime dispatcher
// executes. A stub whose guard fails behaves as a miss: the generic
// handler runs and state is never touched beforehand.
package ic

import (
	"github.com/embervm/ember/vm"
)

// Kind is the operation a stub specializes.
type Kind uint8

const (
	KindLoad Kind = iota + 1
	KindStore
	KindKeyedLoad
	KindCall
	KindConstruct
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindStore:
		return "store"
	case KindKeyedLoad:
		return "keyed-load"
	case KindCall:
		return "call"
	case KindConstruct:
		return "construct"
	default:
		return "unknown"
	}
}

// The flags word combines the operation kind with stub-specific state
// bits. Cache probes compare it under FlagsMask: only the kind decides
// whether a hit is valid, the rest is diagnostic.
const (
	flagsKindShift = 24
	FlagsMask      = uint32(0xff) << flagsKindShift
)

// FlagsFor builds a flags word from a kind and extra state bits.
func FlagsFor(k Kind, extra uint32) uint32 {
	return uint32(k)<<flagsKindShift | extra&^FlagsMask
}

// KindOf extracts the operation kind from a flags word.
func KindOf(flags uint32) Kind {
	return Kind(flags >> flagsKindShift)
}

// Stub is one compiled inline cache: the generated code object plus
// the semantic form the dispatcher runs. Exactly one of Load, Store,
// Call or Construct is set, matching Kind.
type Stub struct {
	Kind  Kind
	Name  *vm.Name
	MapID uint32
	Flags uint32
	Code  *vm.CodeObject

	// Guard revalidates the shape assumptions the stub was compiled
	// under. A false result is a miss; nothing has been mutated.
	Guard func(rt *vm.Runtime, receiver vm.Value) bool

	// Actions report handled=false when the fast path does not apply
	// (for example a full array backing store); the caller then takes
	// the generic path.
	Load      func(rt *vm.Runtime, receiver vm.Value) (vm.Value, bool, error)
	Store     func(rt *vm.Runtime, receiver vm.Value, v vm.Value) (bool, error)
	Call      func(rt *vm.Runtime, receiver vm.Value, args []vm.Value) (vm.Value, bool, error)
	Construct func(rt *vm.Runtime, args []vm.Value) (vm.Value, bool)
}
