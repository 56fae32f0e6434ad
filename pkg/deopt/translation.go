// Package deopt encodes and decodes the metadata the deoptimizer uses
// to rebuild interpreter frames from an optimized frame: the
// translation byte stream, its literal table, and the per-environment
// entry records.
package deopt

import (
	"encoding/binary"
	"fmt"
)

// TranslationOpcode is one directive in the translation stream.
type TranslationOpcode byte

const (
	// TransBeginFrame starts a frame record. Args: ast id, slot count.
	TransBeginFrame TranslationOpcode = iota

	// Per-slot directives. Arg is the slot index, allocation-order
	// register index, or literal index.
	TransTaggedStackSlot
	TransInt32StackSlot
	TransDoubleStackSlot
	TransTaggedRegister
	TransInt32Register
	TransDoubleRegister
	TransLiteral

	// TransArgumentsObject has no argument: the deoptimizer materializes
	// a fresh arguments object for this slot.
	TransArgumentsObject
)

func (op TranslationOpcode) String() string {
	names := [...]string{
		"begin-frame", "tagged-stack-slot", "int32-stack-slot",
		"double-stack-slot", "tagged-register", "int32-register",
		"double-register", "literal", "arguments-object",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return fmt.Sprintf("TranslationOpcode(%d)", byte(op))
}

// TranslationBuffer is the append-only stream shared by all
// translations of one compilation.
type TranslationBuffer struct {
	bytes []byte
}

// Bytes returns the accumulated stream.
func (b *TranslationBuffer) Bytes() []byte { return b.bytes }

func (b *TranslationBuffer) appendVarint(v int64) {
	b.bytes = binary.AppendVarint(b.bytes, v)
}

// Translation writes one environment's record into the shared buffer.
// Directive order must exactly match the order the reconstruction walk
// consumes: frames outermost-first, and within a frame the slots in
// the writer's serialization order.
type Translation struct {
	buf   *TranslationBuffer
	start int
}

// NewTranslation begins a record for a chain of frameCount frames and
// returns both the writer and the record's offset in the stream.
func (b *TranslationBuffer) NewTranslation(frameCount int) (*Translation, int32) {
	start := len(b.bytes)
	b.appendVarint(int64(frameCount))
	return &Translation{buf: b, start: start}, int32(start)
}

func (t *Translation) op(op TranslationOpcode, args ...int64) {
	t.buf.bytes = append(t.buf.bytes, byte(op))
	for _, a := range args {
		t.buf.appendVarint(a)
	}
}

// BeginFrame starts one frame's directives.
func (t *Translation) BeginFrame(astID int32, slotCount int32) {
	t.op(TransBeginFrame, int64(astID), int64(slotCount))
}

func (t *Translation) StoreTaggedStackSlot(index int32) {
	t.op(TransTaggedStackSlot, int64(index))
}

func (t *Translation) StoreInt32StackSlot(index int32) {
	t.op(TransInt32StackSlot, int64(index))
}

func (t *Translation) StoreDoubleStackSlot(index int32) {
	t.op(TransDoubleStackSlot, int64(index))
}

func (t *Translation) StoreTaggedRegister(index int32) {
	t.op(TransTaggedRegister, int64(index))
}

func (t *Translation) StoreInt32Register(index int32) {
	t.op(TransInt32Register, int64(index))
}

func (t *Translation) StoreDoubleRegister(index int32) {
	t.op(TransDoubleRegister, int64(index))
}

func (t *Translation) StoreLiteral(literalIndex int32) {
	t.op(TransLiteral, int64(literalIndex))
}

func (t *Translation) StoreArgumentsObject() {
	t.op(TransArgumentsObject)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Directive is one decoded slot directive.
type Directive struct {
	Op  TranslationOpcode
	Arg int32
}

// Frame is one decoded frame record.
type Frame struct {
	AstID      int32
	Directives []Directive
}

// Iterator walks a translation stream from a record offset.
type Iterator struct {
	data []byte
	pos  int
}

// NewIterator positions an iterator at a record offset within the
// stream.
func NewIterator(stream []byte, offset int32) *Iterator {
	return &Iterator{data: stream, pos: int(offset)}
}

func (it *Iterator) varint() (int64, error) {
	v, n := binary.Varint(it.data[it.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("deopt: truncated translation stream at %d", it.pos)
	}
	it.pos += n
	return v, nil
}

// Record decodes one full translation record: the frame chain encoded
// by a single environment registration.
func (it *Iterator) Record() ([]Frame, error) {
	frameCount, err := it.varint()
	if err != nil {
		return nil, err
	}
	if frameCount <= 0 {
		return nil, fmt.Errorf("deopt: invalid frame count %d", frameCount)
	}
	frames := make([]Frame, 0, frameCount)
	for f := int64(0); f < frameCount; f++ {
		if it.pos >= len(it.data) || TranslationOpcode(it.data[it.pos]) != TransBeginFrame {
			return nil, fmt.Errorf("deopt: expected begin-frame at %d", it.pos)
		}
		it.pos++
		astID, err := it.varint()
		if err != nil {
			return nil, err
		}
		slotCount, err := it.varint()
		if err != nil {
			return nil, err
		}
		fr := Frame{AstID: int32(astID), Directives: make([]Directive, 0, slotCount)}
		for s := int64(0); s < slotCount; s++ {
			if it.pos >= len(it.data) {
				return nil, fmt.Errorf("deopt: truncated frame at %d", it.pos)
			}
			op := TranslationOpcode(it.data[it.pos])
			it.pos++
			d := Directive{Op: op}
			if op != TransArgumentsObject {
				arg, err := it.varint()
				if err != nil {
					return nil, err
				}
				d.Arg = int32(arg)
			}
			fr.Directives = append(fr.Directives, d)
		}
		frames = append(frames, fr)
	}
	return frames, nil
}
