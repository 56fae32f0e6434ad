package lir

// TagKind describes how one logical frame slot is represented in the
// optimized frame, so the deoptimizer knows how to rebox it.
type TagKind uint8

const (
	// TagTagged is an already-tagged value usable as-is.
	TagTagged TagKind = iota

	// TagInt32 is an untagged 32-bit integer needing re-tagging.
	TagInt32

	// TagDouble is an untagged double needing boxing.
	TagDouble

	// TagArgumentsObject is a placeholder: the deoptimizer materializes
	// a fresh arguments object instead of reading a location.
	TagArgumentsObject
)

// EnvSlot is one logical interpreter-frame slot: where its value lives
// in the optimized frame and how it is tagged.
type EnvSlot struct {
	Operand Operand
	Tag     TagKind
}

// NotRegistered is the deopt index of an environment that has not been
// serialized yet.
const NotRegistered int32 = -1

// Environment describes the interpreter-level state to restore if a
// guard under it fails: the logical frame slots in [parameters]
// [locals][expression stack] order, the unoptimized program point, and
// a link to the caller's environment when this frame was inlined.
//
// Environments live in the chunk's arena and link outward by index, so
// chain walks are plain index arithmetic.
type Environment struct {
	// Outer is the arena index of the caller environment for inlined
	// frames, or NoOuter.
	Outer int32

	// AstID identifies the unoptimized program point to resume at.
	AstID int32

	ParameterCount int32
	LocalCount     int32

	// Slots in logical order; len(Slots) - parameters - locals is the
	// expression stack height.
	Slots []EnvSlot

	// Set once the environment has been serialized into the
	// translation stream. Never mutated afterwards.
	DeoptIndex       int32
	TranslationIndex int32
	registered       bool
}

// NoOuter marks an outermost environment.
const NoOuter int32 = -1

// NewEnvironment returns an unregistered environment.
func NewEnvironment(outer, astID, params, locals int32) *Environment {
	return &Environment{
		Outer:            outer,
		AstID:            astID,
		ParameterCount:   params,
		LocalCount:       locals,
		DeoptIndex:       NotRegistered,
		TranslationIndex: NotRegistered,
	}
}

// Push appends a slot in logical order.
func (e *Environment) Push(op Operand, tag TagKind) {
	e.Slots = append(e.Slots, EnvSlot{Operand: op, Tag: tag})
}

// ExpressionHeight returns the expression stack depth.
func (e *Environment) ExpressionHeight() int32 {
	return int32(len(e.Slots)) - e.ParameterCount - e.LocalCount
}

// Registered reports whether the environment has been assigned a deopt
// index and serialized.
func (e *Environment) Registered() bool { return e.registered }

// MarkRegistered records the assigned indices. Registering twice is a
// programming defect.
func (e *Environment) MarkRegistered(deoptIndex, translationIndex int32) {
	if e.registered {
		panic("lir: environment registered twice")
	}
	e.registered = true
	e.DeoptIndex = deoptIndex
	e.TranslationIndex = translationIndex
}

// FrameCount walks the outer chain in the arena and returns the number
// of logical frames, this one included.
func FrameCount(arena []*Environment, index int32) int {
	n := 0
	for index != NoOuter {
		n++
		index = arena[index].Outer
	}
	return n
}
