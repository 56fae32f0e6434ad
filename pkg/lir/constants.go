package lir

import "fmt"

// Representation describes how a constant pool entry is materialized.
type Representation uint8

const (
	// RepInt32 is an untagged 32-bit integer.
	RepInt32 Representation = iota

	// RepDouble is an untagged IEEE-754 double.
	RepDouble

	// RepTagged is a tagged heap reference or smi.
	RepTagged
)

func (r Representation) String() string {
	switch r {
	case RepInt32:
		return "int32"
	case RepDouble:
		return "double"
	case RepTagged:
		return "tagged"
	default:
		return fmt.Sprintf("Representation(%d)", r)
	}
}

// Constant is one literal pool entry: a (value, representation) pair.
// Exactly one of the value fields is meaningful, selected by Rep.
type Constant struct {
	Rep    Representation
	Int32  int32
	Double float64
	Tagged uint64 // tagged value bits (vm.Value)
}

// ConstantPool holds the per-compilation literals referenced by
// OperandConstant operands and by deoptimization translations.
type ConstantPool struct {
	entries []Constant
}

// Add appends a constant and returns its index. Identical int32 entries
// are deduplicated; doubles and tagged values are appended as-is since
// translation records may rely on distinct indices.
func (p *ConstantPool) Add(c Constant) int32 {
	if c.Rep == RepInt32 {
		for i, e := range p.entries {
			if e.Rep == RepInt32 && e.Int32 == c.Int32 {
				return int32(i)
			}
		}
	}
	p.entries = append(p.entries, c)
	return int32(len(p.entries) - 1)
}

// AddInt32 interns an int32 literal.
func (p *ConstantPool) AddInt32(v int32) int32 {
	return p.Add(Constant{Rep: RepInt32, Int32: v})
}

// AddDouble appends a double literal.
func (p *ConstantPool) AddDouble(v float64) int32 {
	return p.Add(Constant{Rep: RepDouble, Double: v})
}

// AddTagged appends a tagged literal.
func (p *ConstantPool) AddTagged(bits uint64) int32 {
	return p.Add(Constant{Rep: RepTagged, Tagged: bits})
}

// At returns the entry at index i. Out-of-range indices are a caller
// bug and panic.
func (p *ConstantPool) At(i int32) Constant {
	return p.entries[i]
}

// Len returns the number of pool entries.
func (p *ConstantPool) Len() int {
	return len(p.entries)
}
