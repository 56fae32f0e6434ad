package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// CodeKind distinguishes full optimized functions from IC stubs.
type CodeKind uint8

const (
	CodeOptimized CodeKind = iota
	CodeStub
)

func (k CodeKind) String() string {
	switch k {
	case CodeOptimized:
		return "optimized"
	case CodeStub:
		return "stub"
	default:
		return fmt.Sprintf("CodeKind(%d)", k)
	}
}

// CodeObject is a finished unit of generated machine code plus the
// read-only metadata consumers need: the safepoint table for the
// collector and the deoptimization data for the deoptimizer. Published
// only after the whole generation pipeline succeeded; an aborted
// compilation never produces one.
type CodeObject struct {
	ID   uuid.UUID
	Name string
	Kind CodeKind

	// Flags is the stub cache flags word: operation kind plus state
	// bits, compared (under a mask) on cache probes.
	Flags uint32

	Code       []byte
	StackSlots int32

	// SafepointTable is the serialized table (see codegen); empty for
	// stubs that contain no safepoints.
	SafepointTable []byte

	// DeoptMeta is the serialized deoptimization data container; empty
	// when the function registered no environments.
	DeoptMeta []byte

	exec []byte // executable mapping, when materialized
}

// NewCodeObject returns an empty code object with a fresh identity.
func NewCodeObject(kind CodeKind, name string) *CodeObject {
	return &CodeObject{ID: uuid.New(), Name: name, Kind: kind}
}

// codeObjectWire is the CBOR container for persisted code objects.
type codeObjectWire struct {
	ID             []byte `cbor:"1,keyasint"`
	Name           string `cbor:"2,keyasint"`
	Kind           uint8  `cbor:"3,keyasint"`
	Flags          uint32 `cbor:"4,keyasint"`
	Code           []byte `cbor:"5,keyasint"`
	StackSlots     int32  `cbor:"6,keyasint"`
	SafepointTable []byte `cbor:"7,keyasint"`
	DeoptMeta      []byte `cbor:"8,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// Serialize encodes the code object for storage.
func (co *CodeObject) Serialize() ([]byte, error) {
	id, err := co.ID.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&codeObjectWire{
		ID:             id,
		Name:           co.Name,
		Kind:           uint8(co.Kind),
		Flags:          co.Flags,
		Code:           co.Code,
		StackSlots:     co.StackSlots,
		SafepointTable: co.SafepointTable,
		DeoptMeta:      co.DeoptMeta,
	})
}

// DeserializeCodeObject decodes a stored code object.
func DeserializeCodeObject(data []byte) (*CodeObject, error) {
	var w codeObjectWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vm: decoding code object: %w", err)
	}
	co := &CodeObject{
		Name:           w.Name,
		Kind:           CodeKind(w.Kind),
		Flags:          w.Flags,
		Code:           w.Code,
		StackSlots:     w.StackSlots,
		SafepointTable: w.SafepointTable,
		DeoptMeta:      w.DeoptMeta,
	}
	if err := co.ID.UnmarshalBinary(w.ID); err != nil {
		return nil, fmt.Errorf("vm: decoding code object id: %w", err)
	}
	return co, nil
}
