package ic

import (
	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
)

// chainLink is one object on the path from receiver to holder, with
// the conditions that must still hold for the stub to stay valid.
type chainLink struct {
	mapID uint32

	// accessCheck marks global-scope proxies needing a same-origin
	// check on every pass.
	accessCheck bool

	// probeDict means the link keeps dictionary properties and the
	// stub skipped it after proving the name absent; the proof must be
	// re-established on each validation.
	probeDict bool

	// dictCapacity is the probed dictionary's table size at compile
	// time. Probe offsets are baked against it, so generated code
	// guards on it: growth rebanks every slot.
	dictCapacity uint32

	// holeCell, when set, is a global's property cell for the name:
	// the stub is valid only while it still holds the hole, since a
	// matching global property introduced later must win.
	holeCell *vm.HeapObject
}

// ChainCheck is the shared validation primitive of every stub: the
// snapshot of a receiver-to-holder prototype walk taken at compile
// time.
type ChainCheck struct {
	Name   *vm.Name
	Holder *vm.HeapObject
	links  []chainLink
}

// BuildChainCheck snapshots the chain from receiver to holder. It
// fails when the walk does not reach the holder or when a dictionary
// link cannot conclusively prove the name absent; such receivers stay
// on the generic path.
func BuildChainCheck(rt *vm.Runtime, receiver vm.Value, holder *vm.HeapObject, name *vm.Name) (*ChainCheck, bool) {
	c := &ChainCheck{Name: name, Holder: holder}
	cur := receiver
	for cur.IsHeapObject() {
		o := cur.HeapObject()
		link := chainLink{mapID: o.Map.ID, accessCheck: o.Map.AccessCheck}
		if o == holder {
			c.links = append(c.links, link)
			return c, true
		}
		if o.Map.DictionaryMode || o.Dict != nil {
			if o.Kind == vm.KindGlobal {
				cell := rt.GlobalCell(o, name)
				if cell.CellValue != vm.TheHole {
					return nil, false
				}
				link.holeCell = cell
			} else {
				if o.Dict != nil {
					absent, conclusive := o.Dict.ProbeAbsent(name, vm.NegativeLookupProbes)
					if !absent || !conclusive {
						return nil, false
					}
					link.dictCapacity = uint32(o.Dict.Capacity())
				}
				link.probeDict = true
			}
		}
		c.links = append(c.links, link)
		cur = o.Map.Prototype
	}
	return nil, false
}

// Validate re-walks the chain against the snapshot, comparing maps,
// not objects: any receiver whose shape chain matches is served, which
// is what lets stubs be shared across same-shaped objects. Divergence
// is a miss: a changed map, a revoked access grant, a dictionary that
// can no longer prove absence, or a filled global cell.
func (c *ChainCheck) Validate(rt *vm.Runtime, receiver vm.Value) bool {
	cur := receiver
	for i, link := range c.links {
		if !cur.IsHeapObject() {
			return false
		}
		o := cur.HeapObject()
		if o.Map.ID != link.mapID {
			return false
		}
		if link.accessCheck && rt.AccessAllowed != nil && !rt.AccessAllowed(o) {
			return false
		}
		if i == len(c.links)-1 {
			return true
		}
		if link.probeDict && o.Dict != nil {
			absent, conclusive := o.Dict.ProbeAbsent(c.Name, vm.NegativeLookupProbes)
			if !absent || !conclusive {
				return false
			}
		}
		if link.holeCell != nil && link.holeCell.CellValue != vm.TheHole {
			return false
		}
		cur = o.Map.Prototype
	}
	return false
}

// HolderFor resolves the holder against a validated receiver. When the
// chain is a single link the receiver holds the property itself;
// otherwise the holder is the prototype object shared through the map
// chain.
func (c *ChainCheck) HolderFor(receiver vm.Value) *vm.HeapObject {
	if len(c.links) == 1 {
		return receiver.HeapObject()
	}
	return c.Holder
}

// ---------------------------------------------------------------------------
// Machine-code form
// ---------------------------------------------------------------------------

// Stub-internal register convention: walk holds the object being
// validated, mapTmp / cmpTmp are free temporaries. The IC argument
// registers stay live throughout.
const (
	walkReg = asm.R8
	mapTmp  = asm.R9
	cmpTmp  = asm.R11
)

// emit compiles the chain walk: per link a map identity compare,
// then whichever negative-lookup or hole checks the link carries,
// then a step to the prototype. Control reaches the return point only
// with the whole chain intact; any mismatch jumps to miss before
// anything is mutated.
func (c *ChainCheck) emit(m *asm.Assembler, miss *asm.Label, refs codegen.ExternalRefs) {
	m.MovRegReg(walkReg, asm.ICReceiverReg)
	for i, link := range c.links {
		m.MovRegMem(mapTmp, asm.MemBase(walkReg, codegen.MapOffset-1))
		m.MovRegImm64(cmpTmp, int64(link.mapID))
		m.CmpRegReg(mapTmp, cmpTmp)
		m.Jcc(asm.NotEqual, miss)

		if link.accessCheck {
			// Same-origin check via the runtime: the object under
			// check goes on the stack, the answer comes back in rax,
			// and the live IC registers are preserved around the call.
			m.PushReg(asm.ICReceiverReg)
			m.PushReg(asm.ICNameReg)
			m.PushReg(asm.ICValueReg)
			m.PushReg(walkReg)
			m.PushReg(walkReg) // argument
			m.CallAddr(refs.AccessCheck)
			m.AddRegImm(asm.StackPointer, codegen.WordSize)
			m.MovRegReg(cmpTmp, asm.ReturnReg)
			m.PopReg(walkReg)
			m.PopReg(asm.ICValueReg)
			m.PopReg(asm.ICNameReg)
			m.PopReg(asm.ICReceiverReg)
			m.TestRegReg(cmpTmp, cmpTmp)
			m.Jcc(asm.Equal, miss)
			// The call clobbered the map temporary; the prototype step
			// below still reads it.
			m.MovRegMem(mapTmp, asm.MemBase(walkReg, codegen.MapOffset-1))
		}
		if i == len(c.links)-1 {
			return
		}
		if link.probeDict {
			c.emitNegativeLookup(m, miss, link.dictCapacity)
		}
		if link.holeCell != nil {
			m.MovRegImm64(cmpTmp, int64(vm.FromHeapObject(link.holeCell).Bits()))
			m.CmpMemImm32(asm.MemBase(cmpTmp, codegen.PropertyCellValueOffset-1),
				int32(vm.TheHole.Bits()))
			m.Jcc(asm.NotEqual, miss)
		}
		m.MovRegMem(walkReg, asm.MemBase(mapTmp, codegen.MapPrototypeOffset))
	}
}

// emitNegativeLookup unrolls a bounded dictionary probe proving the
// name absent on a skipped slow-properties link: each slot is either
// empty (absent, proof complete) or must not equal the name. Running
// out of probes is ambiguous and misses.
func (c *ChainCheck) emitNegativeLookup(m *asm.Assembler, miss *asm.Label, capacity uint32) {
	if capacity == 0 {
		// No backing store existed at compile time; one appearing
		// later could carry the name.
		m.CmpMemImm32(asm.MemBase(walkReg, codegen.PropertiesOffset-1), 0)
		m.Jcc(asm.NotEqual, miss)
		return
	}
	done := &asm.Label{}
	m.MovRegMem(cmpTmp, asm.MemBase(walkReg, codegen.PropertiesOffset-1))
	// Growth rebanks every slot, so probe offsets baked against the
	// old table size would inspect the wrong entries.
	m.CmpMemImm32(asm.MemBase(cmpTmp, codegen.FixedArrayLengthOffset-1), int32(capacity))
	m.Jcc(asm.NotEqual, miss)
	m.MovRegImm64(asm.ScratchReg, c.Name.Identity())
	for i := uint32(0); i < vm.NegativeLookupProbes; i++ {
		// Quadratic probe offsets, computed at compile time from the
		// name's hash against the snapshotted table size.
		idx := (c.Name.Hash + i*(i+1)/2) & (capacity - 1)
		slot := asm.MemBase(cmpTmp, int32(codegen.FixedArrayDataOffset+idx*2*codegen.WordSize-1))
		m.CmpMemImm32(slot, 0)
		m.Jcc(asm.Equal, done) // empty slot: conclusively absent
		m.CmpMemReg(slot, asm.ScratchReg)
		m.Jcc(asm.Equal, miss) // present after all
	}
	m.Jmp(miss) // ambiguous
	m.Bind(done)
}
