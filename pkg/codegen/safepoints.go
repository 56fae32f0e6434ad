package codegen

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
)

// NoDeoptIndex marks a safepoint whose call can never deoptimize
// (e.g. a throw: execution does not resume after it).
const NoDeoptIndex int32 = -1

// Safepoint is one call site's record: the code offset of the call's
// return address, which stack slots hold pointers there, which
// registers do (for the with-registers variant), and the deopt index
// to use if a lazy deoptimization is requested at that PC.
type Safepoint struct {
	Offset     uint32
	DeoptIndex int32
	Slots      []int32
	Registers  uint32 // bitmask over machine register numbers
}

// SafepointTable accumulates safepoints during generation and emits
// the finished table. Entries must arrive in increasing code-offset
// order; the serialized format assumes it.
type SafepointTable struct {
	entries []Safepoint
}

// DefineSafepoint records a plain safepoint from a pointer map.
func (t *SafepointTable) DefineSafepoint(offset int, pm *lir.PointerMap, deoptIndex int32) {
	sp := Safepoint{Offset: uint32(offset), DeoptIndex: deoptIndex}
	if pm != nil {
		for _, op := range pm.Pointers {
			sp.Slots = append(sp.Slots, op.Index)
		}
	}
	sort.Slice(sp.Slots, func(i, j int) bool { return sp.Slots[i] < sp.Slots[j] })
	t.push(sp)
}

// DefineSafepointWithRegisters records a safepoint taken under the
// all-registers-pushed convention. The context register is always a
// live heap reference, so it is unconditionally included.
func (t *SafepointTable) DefineSafepointWithRegisters(offset int, pm *lir.PointerMap, deoptIndex int32) {
	sp := Safepoint{Offset: uint32(offset), DeoptIndex: deoptIndex}
	sp.Registers = 1 << uint(asm.ContextReg)
	if pm != nil {
		for _, op := range pm.Pointers {
			sp.Slots = append(sp.Slots, op.Index)
		}
		for _, op := range pm.RegisterPointers {
			r := asm.FromAllocationIndex(int(op.Index))
			sp.Registers |= 1 << uint(r)
		}
	}
	sort.Slice(sp.Slots, func(i, j int) bool { return sp.Slots[i] < sp.Slots[j] })
	t.push(sp)
}

func (t *SafepointTable) push(sp Safepoint) {
	if n := len(t.entries); n > 0 && t.entries[n-1].Offset >= sp.Offset {
		panic(fmt.Sprintf("codegen: safepoint at %d not after previous at %d",
			sp.Offset, t.entries[n-1].Offset))
	}
	t.entries = append(t.entries, sp)
}

// Entries returns the recorded safepoints in offset order.
func (t *SafepointTable) Entries() []Safepoint { return t.entries }

// Lookup finds the safepoint whose offset equals the return address
// offset, the query a collection pause performs.
func (t *SafepointTable) Lookup(offset uint32) (Safepoint, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Offset >= offset
	})
	if i < len(t.entries) && t.entries[i].Offset == offset {
		return t.entries[i], true
	}
	return Safepoint{}, false
}

// Serialized table format:
//
//	[stack_slots:4] [entry_count:4]
//	per entry: [offset:4] [deopt_index:4] [registers:4]
//	           [slot_count:2] [slots:4 each]
func (t *SafepointTable) Emit(stackSlots int32) []byte {
	buf := make([]byte, 0, 8+len(t.entries)*18)
	buf = binary.BigEndian.AppendUint32(buf, uint32(stackSlots))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(t.entries)))
	for _, sp := range t.entries {
		buf = binary.BigEndian.AppendUint32(buf, sp.Offset)
		buf = binary.BigEndian.AppendUint32(buf, uint32(sp.DeoptIndex))
		buf = binary.BigEndian.AppendUint32(buf, sp.Registers)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(sp.Slots)))
		for _, s := range sp.Slots {
			buf = binary.BigEndian.AppendUint32(buf, uint32(s))
		}
	}
	return buf
}

// DecodeSafepointTable reads a serialized table back. Returns the
// table and the stack slot count it was finalized with.
func DecodeSafepointTable(data []byte) (*SafepointTable, int32, error) {
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("codegen: safepoint table too short: %d bytes", len(data))
	}
	stackSlots := int32(binary.BigEndian.Uint32(data))
	count := binary.BigEndian.Uint32(data[4:])
	pos := 8
	t := &SafepointTable{}
	for i := uint32(0); i < count; i++ {
		if pos+14 > len(data) {
			return nil, 0, fmt.Errorf("codegen: safepoint table truncated at entry %d", i)
		}
		sp := Safepoint{
			Offset:     binary.BigEndian.Uint32(data[pos:]),
			DeoptIndex: int32(binary.BigEndian.Uint32(data[pos+4:])),
			Registers:  binary.BigEndian.Uint32(data[pos+8:]),
		}
		slotCount := binary.BigEndian.Uint16(data[pos+12:])
		pos += 14
		if pos+int(slotCount)*4 > len(data) {
			return nil, 0, fmt.Errorf("codegen: safepoint slots truncated at entry %d", i)
		}
		for s := uint16(0); s < slotCount; s++ {
			sp.Slots = append(sp.Slots, int32(binary.BigEndian.Uint32(data[pos:])))
			pos += 4
		}
		t.entries = append(t.entries, sp)
	}
	return t, stackSlots, nil
}
