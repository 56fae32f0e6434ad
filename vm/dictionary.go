package vm

// StringDictionary stores slow-mode properties in an open-addressed
// hash table. Stub code probes only the first few slots of a lookup
// sequence (negative-lookup probe); anything past NegativeLookupProbes
// is ambiguous from generated code and falls back to the runtime.
type StringDictionary struct {
	entries []dictEntry
	count   int
}

type dictEntry struct {
	name  *Name
	value Value
}

// NegativeLookupProbes is the number of probe steps a compiled
// negative-lookup check unrolls before giving up as ambiguous.
const NegativeLookupProbes = 4

// NewStringDictionary returns a dictionary sized for at least capacity
// entries.
func NewStringDictionary(capacity int) *StringDictionary {
	n := 8
	for n < capacity*2 {
		n <<= 1
	}
	return &StringDictionary{entries: make([]dictEntry, n)}
}

func (d *StringDictionary) mask() uint32 {
	return uint32(len(d.entries) - 1)
}

// Capacity is the current size of the probe table. Compiled negative
// lookups snapshot it, since probe offsets depend on it.
func (d *StringDictionary) Capacity() int { return len(d.entries) }

// probe returns the slot for name at probe step i.
func (d *StringDictionary) probe(name *Name, i uint32) uint32 {
	// Quadratic probing: hash + i*(i+1)/2, power-of-two table.
	return (name.Hash + i*(i+1)/2) & d.mask()
}

// Get returns the value for name.
func (d *StringDictionary) Get(name *Name) (Value, bool) {
	for i := uint32(0); i < uint32(len(d.entries)); i++ {
		e := &d.entries[d.probe(name, i)]
		if e.name == nil {
			return 0, false
		}
		if e.name == name {
			return e.value, true
		}
	}
	return 0, false
}

// ProbeAbsent checks whether name is provably absent within maxProbes
// steps. conclusive is false when the unrolled probe window ended on
// occupied slots, in which case the caller must do a full lookup.
// This mirrors exactly what compiled negative-lookup code can decide.
func (d *StringDictionary) ProbeAbsent(name *Name, maxProbes uint32) (absent, conclusive bool) {
	for i := uint32(0); i < maxProbes; i++ {
		e := &d.entries[d.probe(name, i)]
		if e.name == nil {
			return true, true
		}
		if e.name == name {
			return false, true
		}
	}
	return false, false
}

// Set inserts or updates name.
func (d *StringDictionary) Set(name *Name, v Value) {
	if (d.count+1)*4 > len(d.entries)*3 {
		d.grow()
	}
	for i := uint32(0); ; i++ {
		e := &d.entries[d.probe(name, i)]
		if e.name == nil {
			e.name = name
			e.value = v
			d.count++
			return
		}
		if e.name == name {
			e.value = v
			return
		}
	}
}

// Delete removes name if present.
func (d *StringDictionary) Delete(name *Name) {
	// Deletion rehashes the table; dictionaries here are small and
	// deletion is rare (property removal forces dictionary mode first).
	for i := uint32(0); i < uint32(len(d.entries)); i++ {
		e := &d.entries[d.probe(name, i)]
		if e.name == nil {
			return
		}
		if e.name == name {
			old := d.entries
			d.entries = make([]dictEntry, len(old))
			d.count = 0
			for _, oe := range old {
				if oe.name != nil && oe.name != name {
					d.Set(oe.name, oe.value)
				}
			}
			return
		}
	}
}

// Len returns the number of live entries.
func (d *StringDictionary) Len() int { return d.count }

func (d *StringDictionary) grow() {
	old := d.entries
	d.entries = make([]dictEntry, len(old)*2)
	d.count = 0
	for _, e := range old {
		if e.name != nil {
			d.Set(e.name, e.value)
		}
	}
}
