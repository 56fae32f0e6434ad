package codegen

import (
	"testing"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/lir"
)

func TestSafepointRoundTrip(t *testing.T) {
	var tbl SafepointTable
	pm := &lir.PointerMap{}
	pm.RecordPointer(lir.StackSlot(3))
	pm.RecordPointer(lir.StackSlot(1))
	tbl.DefineSafepoint(16, pm, 0)
	tbl.DefineSafepoint(40, nil, NoDeoptIndex)

	data := tbl.Emit(5)
	decoded, slots, err := DecodeSafepointTable(data)
	if err != nil {
		t.Fatal(err)
	}
	if slots != 5 {
		t.Errorf("stack slots = %d, want 5", slots)
	}
	entries := decoded.Entries()
	if len(entries) != 2 {
		t.Fatalf("decoded %d entries, want 2", len(entries))
	}
	if entries[0].Offset != 16 || entries[0].DeoptIndex != 0 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if len(entries[0].Slots) != 2 || entries[0].Slots[0] != 1 || entries[0].Slots[1] != 3 {
		t.Errorf("entry 0 slots = %v, want sorted [1 3]", entries[0].Slots)
	}
	if entries[1].DeoptIndex != NoDeoptIndex {
		t.Errorf("entry 1 deopt index = %d, want none", entries[1].DeoptIndex)
	}
}

func TestSafepointWithRegistersIncludesContext(t *testing.T) {
	var tbl SafepointTable
	tbl.DefineSafepointWithRegisters(8, &lir.PointerMap{}, NoDeoptIndex)
	sp := tbl.Entries()[0]
	if sp.Registers&(1<<uint(asm.ContextReg)) == 0 {
		t.Error("context register missing from register safepoint")
	}
}

func TestSafepointWithRegistersMapsAllocationIndices(t *testing.T) {
	pm := &lir.PointerMap{}
	pm.RecordPointer(lir.Register(0)) // allocation index 0 = rax
	var tbl SafepointTable
	tbl.DefineSafepointWithRegisters(8, pm, NoDeoptIndex)
	sp := tbl.Entries()[0]
	if sp.Registers&(1<<uint(asm.RAX)) == 0 {
		t.Errorf("register bitmap %#x missing rax", sp.Registers)
	}
}

func TestSafepointOrderEnforced(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("out-of-order safepoint did not panic")
		}
	}()
	var tbl SafepointTable
	tbl.DefineSafepoint(20, nil, NoDeoptIndex)
	tbl.DefineSafepoint(10, nil, NoDeoptIndex)
}

func TestSafepointLookup(t *testing.T) {
	var tbl SafepointTable
	tbl.DefineSafepoint(8, nil, 1)
	tbl.DefineSafepoint(24, nil, 2)
	if sp, ok := tbl.Lookup(24); !ok || sp.DeoptIndex != 2 {
		t.Errorf("Lookup(24) = %+v, %v", sp, ok)
	}
	if _, ok := tbl.Lookup(16); ok {
		t.Error("Lookup(16) found a phantom safepoint")
	}
}

func TestDecodeSafepointTableTruncated(t *testing.T) {
	var tbl SafepointTable
	pm := &lir.PointerMap{}
	pm.RecordPointer(lir.StackSlot(0))
	tbl.DefineSafepoint(4, pm, 0)
	data := tbl.Emit(1)
	if _, _, err := DecodeSafepointTable(data[:len(data)-2]); err == nil {
		t.Error("truncated table decoded without error")
	}
}
