package vm

import "sync"

// Name is an interned property name. Interning makes name identity a
// pointer comparison, and the precomputed hash feeds the stub cache's
// probe sequence directly from generated code.
type Name struct {
	Str  string
	Hash uint32

	// identity is the nonzero machine word generated code compares
	// for name equality. Interning keeps it one-to-one with the
	// pointer, so the comparison carries the same meaning as ==.
	identity int64
}

// Identity returns the name's machine-word identity token.
func (n *Name) Identity() int64 { return n.identity }

var (
	internMu    sync.Mutex
	internTable = make(map[string]*Name)
	internSeq   int64
)

// Intern returns the canonical Name for s.
func Intern(s string) *Name {
	internMu.Lock()
	defer internMu.Unlock()
	if n, ok := internTable[s]; ok {
		return n
	}
	internSeq++
	n := &Name{Str: s, Hash: hashString(s), identity: internSeq}
	internTable[s] = n
	return n
}

// hashString is the Jenkins one-at-a-time hash. The exact function is
// not load-bearing, but it must be stable for the lifetime of the
// process since compiled probe sequences embed it.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h += uint32(s[i])
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	if h == 0 {
		h = 27
	}
	return h
}
