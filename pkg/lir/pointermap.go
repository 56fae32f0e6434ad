package lir

// PointerMap records which locations hold heap pointers at one program
// point. The collector consults the matching safepoint record during a
// call-triggered collection.
type PointerMap struct {
	// Pointers are stack-slot operands holding tagged values.
	Pointers []Operand

	// RegisterPointers are register operands holding tagged values,
	// meaningful only for safepoints taken with registers spilled.
	RegisterPointers []Operand
}

// RecordPointer adds a pointer-bearing location. Register operands go
// to the register set, everything else to the slot set.
func (m *PointerMap) RecordPointer(op Operand) {
	if op.Kind == OperandRegister {
		m.RegisterPointers = append(m.RegisterPointers, op)
		return
	}
	m.Pointers = append(m.Pointers, op)
}

// Clone returns a deep copy. Gap resolution may refine a map without
// disturbing the optimizer's original.
func (m *PointerMap) Clone() *PointerMap {
	c := &PointerMap{
		Pointers:         make([]Operand, len(m.Pointers)),
		RegisterPointers: make([]Operand, len(m.RegisterPointers)),
	}
	copy(c.Pointers, m.Pointers)
	copy(c.RegisterPointers, m.RegisterPointers)
	return c
}
