package ic

import (
	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
)

// In-memory layout of a flattened cache entry as probe code sees it:
// four words per slot, giving a power-of-two stride.
const (
	entryNameOffset  = 0
	entryMapOffset   = 8
	entryFlagsOffset = 16
	entryCodeOffset  = 24
	entryShift       = 5 // 32-byte entries
)

// CompileEntry emits the megamorphic probe sequence for one operation
// kind: hash the receiver map with the name, probe the primary table,
// on mismatch re-mix into the secondary table, and only then miss to
// the generic handler. The index arithmetic mirrors primaryIndex and
// secondaryIndex exactly.
func (c *Compiler) CompileEntry(kind Kind, primaryBase, secondaryBase int64) *vm.CodeObject {
	flags := FlagsFor(kind, 0)
	m := asm.New()
	miss := &asm.Label{}
	secondary := &asm.Label{}

	// walkReg: receiver map word. mapTmp: table index. cmpTmp: entry
	// address under test.
	m.MovRegMem(walkReg, asm.MemBase(asm.ICReceiverReg, codegen.MapOffset-1))

	// Primary: (hash + map + flags) & (PrimarySize-1).
	m.MovRegReg(mapTmp, asm.ICNameReg)
	m.AddRegReg(mapTmp, walkReg)
	m.AddRegImm(mapTmp, int32(flags))
	m.AndRegImm(mapTmp, PrimarySize-1)
	m.ShlRegImm(mapTmp, entryShift)
	m.MovRegImm64(cmpTmp, primaryBase)
	m.AddRegReg(cmpTmp, mapTmp)
	c.emitEntryCompare(m, flags, secondary)
	m.JmpMem(asm.MemBase(cmpTmp, entryCodeOffset))

	// Secondary: (primary - hash + flags) & (SecondarySize-1). The
	// primary index is recomputed rather than kept live so the compare
	// above is free to clobber mapTmp.
	m.Bind(secondary)
	m.MovRegReg(mapTmp, asm.ICNameReg)
	m.AddRegReg(mapTmp, walkReg)
	m.AddRegImm(mapTmp, int32(flags))
	m.AndRegImm(mapTmp, PrimarySize-1)
	m.SubRegReg(mapTmp, asm.ICNameReg)
	m.AddRegImm(mapTmp, int32(flags))
	m.AndRegImm(mapTmp, SecondarySize-1)
	m.ShlRegImm(mapTmp, entryShift)
	m.MovRegImm64(cmpTmp, secondaryBase)
	m.AddRegReg(cmpTmp, mapTmp)
	c.emitEntryCompare(m, flags, miss)
	m.JmpMem(asm.MemBase(cmpTmp, entryCodeOffset))

	m.Bind(miss)
	m.MovRegImm64(asm.ScratchReg, c.genericHandler(kind))
	m.JmpReg(asm.ScratchReg)

	co := vm.NewCodeObject(vm.CodeStub, "probe:"+kind.String())
	co.Code = m.Bytes()
	co.Flags = flags
	return co
}

// emitEntryCompare checks the candidate entry at cmpTmp against the
// probe key, jumping to next on any mismatch.
func (c *Compiler) emitEntryCompare(m *asm.Assembler, flags uint32, next *asm.Label) {
	m.CmpMemReg(asm.MemBase(cmpTmp, entryNameOffset), asm.ICNameReg)
	m.Jcc(asm.NotEqual, next)
	m.CmpMemReg(asm.MemBase(cmpTmp, entryMapOffset), walkReg)
	m.Jcc(asm.NotEqual, next)
	m.MovlRegMem(mapTmp, asm.MemBase(cmpTmp, entryFlagsOffset))
	mask := FlagsMask
	m.AndlRegImm(mapTmp, int32(mask))
	m.CmplRegImm(mapTmp, int32(flags&FlagsMask))
	m.Jcc(asm.NotEqual, next)
}

// genericHandler maps a kind to its runtime fallback entry.
func (c *Compiler) genericHandler(kind Kind) int64 {
	switch kind {
	case KindLoad:
		return c.Refs.LoadIC
	case KindStore:
		return c.Refs.StoreIC
	case KindKeyedLoad:
		return c.Refs.KeyedLoadIC
	case KindCall:
		return c.Refs.CallIC
	case KindConstruct:
		return c.Refs.ConstructEntry
	default:
		return c.Refs.Runtime
	}
}
