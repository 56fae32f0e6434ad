package ic

import (
	"sync/atomic"

	"github.com/embervm/ember/vm"
)

// Table sizes. Both are powers of two so the hash mixes reduce to a
// mask. The secondary table catches entries the primary slot evicted.
const (
	PrimarySize   = 1024
	SecondarySize = 256
)

// cacheEntry is one immutable published entry. Slots hold a pointer to
// it so replacement is a single atomic store: a concurrent reader sees
// either the old entry or the new one, both internally consistent.
type cacheEntry struct {
	name  *vm.Name
	mapID uint32
	flags uint32
	stub  *Stub
}

// CacheStats are cumulative probe counters.
type CacheStats struct {
	Hits    uint64
	Misses  uint64
	Inserts uint64
}

// StubCache is the global two-level hash table mapping
// (receiver map, property name, operation kind) to a compiled stub.
// It is a pure cache: entries are silently overwritten on collision
// and clearing it at any time only costs recompilation.
type StubCache struct {
	primary   [PrimarySize]atomic.Pointer[cacheEntry]
	secondary [SecondarySize]atomic.Pointer[cacheEntry]

	hits    atomic.Uint64
	misses  atomic.Uint64
	inserts atomic.Uint64
}

func primaryIndex(name *vm.Name, mapID, flags uint32) uint32 {
	return (name.Hash + mapID + flags) & (PrimarySize - 1)
}

// secondaryIndex mixes the same inputs differently so primary
// collisions rarely collide again.
func secondaryIndex(name *vm.Name, mapID, flags uint32) uint32 {
	seed := primaryIndex(name, mapID, flags)
	return (seed - name.Hash + flags) & (SecondarySize - 1)
}

func match(e *cacheEntry, name *vm.Name, mapID, flags uint32) bool {
	return e != nil && e.name == name && e.mapID == mapID &&
		e.flags&FlagsMask == flags&FlagsMask
}

// Probe looks up a stub for (name, mapID, kind-of-flags). A nil result
// is a miss: the caller does the slow-path work and inserts a fresh
// stub.
func (c *StubCache) Probe(name *vm.Name, mapID, flags uint32) *Stub {
	if e := c.primary[primaryIndex(name, mapID, flags)].Load(); match(e, name, mapID, flags) {
		c.hits.Add(1)
		return e.stub
	}
	if e := c.secondary[secondaryIndex(name, mapID, flags)].Load(); match(e, name, mapID, flags) {
		c.hits.Add(1)
		return e.stub
	}
	c.misses.Add(1)
	return nil
}

// Insert publishes a stub, unconditionally overwriting whatever its
// primary slot held; the displaced entry, if any, moves to its
// secondary slot. Last writer wins.
func (c *StubCache) Insert(s *Stub) {
	e := &cacheEntry{name: s.Name, mapID: s.MapID, flags: s.Flags, stub: s}
	slot := &c.primary[primaryIndex(s.Name, s.MapID, s.Flags)]
	if old := slot.Load(); old != nil {
		c.secondary[secondaryIndex(old.name, old.mapID, old.flags)].Store(old)
	}
	slot.Store(e)
	c.inserts.Add(1)
}

// Clear drops every entry. Behavior of the program is unchanged; only
// stub compilation repeats.
func (c *StubCache) Clear() {
	for i := range c.primary {
		c.primary[i].Store(nil)
	}
	for i := range c.secondary {
		c.secondary[i].Store(nil)
	}
}

// Stats returns a snapshot of the probe counters.
func (c *StubCache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Inserts: c.inserts.Load(),
	}
}
