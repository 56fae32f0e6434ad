package deopt

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/embervm/ember/pkg/lir"
)

// Entry is the per-environment record the deoptimizer indexes by
// deoptimization index: where the translation starts, which
// unoptimized program point to resume at, and the argument stack
// height it expects.
type Entry struct {
	AstID             int32 `cbor:"1,keyasint"`
	TranslationOffset int32 `cbor:"2,keyasint"`
	ArgumentsHeight   int32 `cbor:"3,keyasint"`
}

// literalWire mirrors lir.Constant for serialization.
type literalWire struct {
	Rep    uint8   `cbor:"1,keyasint"`
	Int32  int32   `cbor:"2,keyasint,omitempty"`
	Double float64 `cbor:"3,keyasint,omitempty"`
	Tagged uint64  `cbor:"4,keyasint,omitempty"`
}

// Data is the complete deoptimization metadata of one code object.
// Entry order follows registration order, so deoptimization indices
// resolve by position.
type Data struct {
	Stream     []byte
	Literals   []lir.Constant
	Entries    []Entry
	StackSlots int32
}

type dataWire struct {
	Stream     []byte        `cbor:"1,keyasint"`
	Literals   []literalWire `cbor:"2,keyasint"`
	Entries    []Entry       `cbor:"3,keyasint"`
	StackSlots int32         `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// Serialize encodes the container for attachment to a code object.
func (d *Data) Serialize() ([]byte, error) {
	w := dataWire{
		Stream:     d.Stream,
		Literals:   make([]literalWire, len(d.Literals)),
		Entries:    d.Entries,
		StackSlots: d.StackSlots,
	}
	for i, l := range d.Literals {
		w.Literals[i] = literalWire{
			Rep: uint8(l.Rep), Int32: l.Int32, Double: l.Double, Tagged: l.Tagged,
		}
	}
	return encMode.Marshal(&w)
}

// Decode reads a serialized container.
func Decode(data []byte) (*Data, error) {
	var w dataWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("deopt: decoding data: %w", err)
	}
	d := &Data{
		Stream:     w.Stream,
		Literals:   make([]lir.Constant, len(w.Literals)),
		Entries:    w.Entries,
		StackSlots: w.StackSlots,
	}
	for i, l := range w.Literals {
		d.Literals[i] = lir.Constant{
			Rep: lir.Representation(l.Rep), Int32: l.Int32, Double: l.Double, Tagged: l.Tagged,
		}
	}
	return d, nil
}

// RecordAt decodes the translation record for deoptimization index i.
func (d *Data) RecordAt(i int) ([]Frame, error) {
	if i < 0 || i >= len(d.Entries) {
		return nil, fmt.Errorf("deopt: deoptimization index %d out of range", i)
	}
	return NewIterator(d.Stream, d.Entries[i].TranslationOffset).Record()
}
