package ic

import (
	"testing"

	"github.com/embervm/ember/vm"
)

func loadStub(name *vm.Name, mapID uint32) *Stub {
	return &Stub{Kind: KindLoad, Name: name, MapID: mapID, Flags: FlagsFor(KindLoad, 0)}
}

func TestProbeMissThenHit(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("x")

	if got := c.Probe(n, 7, FlagsFor(KindLoad, 0)); got != nil {
		t.Fatalf("probe of empty cache = %v, want nil", got)
	}
	s := loadStub(n, 7)
	c.Insert(s)
	if got := c.Probe(n, 7, FlagsFor(KindLoad, 0)); got != s {
		t.Fatalf("probe after insert = %v, want the inserted stub", got)
	}
}

func TestProbeDistinguishesKind(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("y")
	c.Insert(loadStub(n, 3))

	if got := c.Probe(n, 3, FlagsFor(KindStore, 0)); got != nil {
		t.Fatalf("store probe hit a load stub")
	}
}

func TestProbeDistinguishesMap(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("z")
	c.Insert(loadStub(n, 3))

	if got := c.Probe(n, 4, FlagsFor(KindLoad, 0)); got != nil {
		t.Fatalf("probe with different map hit")
	}
}

func TestInsertOverwrites(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("w")
	first := loadStub(n, 9)
	second := loadStub(n, 9)
	c.Insert(first)
	c.Insert(second)

	if got := c.Probe(n, 9, FlagsFor(KindLoad, 0)); got != second {
		t.Fatalf("probe = %v, want the last inserted stub", got)
	}
}

func TestDisplacedEntryFoundInSecondary(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("collide")
	// Map IDs differing by the primary table size share a primary slot.
	a := loadStub(n, 5)
	b := loadStub(n, 5+PrimarySize)
	c.Insert(a)
	c.Insert(b)

	if got := c.Probe(n, 5+PrimarySize, FlagsFor(KindLoad, 0)); got != b {
		t.Fatalf("primary probe = %v, want b", got)
	}
	if got := c.Probe(n, 5, FlagsFor(KindLoad, 0)); got != a {
		t.Fatalf("displaced entry not found in secondary, got %v", got)
	}
}

func TestClearDropsEverything(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("gone")
	c.Insert(loadStub(n, 1))
	c.Clear()

	if got := c.Probe(n, 1, FlagsFor(KindLoad, 0)); got != nil {
		t.Fatalf("probe after clear = %v, want nil", got)
	}
}

func TestStatsCount(t *testing.T) {
	c := &StubCache{}
	n := vm.Intern("stats")
	c.Probe(n, 1, FlagsFor(KindLoad, 0)) // miss
	c.Insert(loadStub(n, 1))
	c.Probe(n, 1, FlagsFor(KindLoad, 0)) // hit

	st := c.Stats()
	if st.Misses != 1 || st.Hits != 1 || st.Inserts != 1 {
		t.Fatalf("stats = %+v, want 1 miss, 1 hit, 1 insert", st)
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindLoad, KindStore, KindKeyedLoad, KindCall, KindConstruct} {
		if got := KindOf(FlagsFor(k, 0x1234)); got != k {
			t.Fatalf("KindOf(FlagsFor(%v)) = %v", k, got)
		}
	}
}
