package codegen

import "github.com/embervm/ember/pkg/asm"

// deferredBlock is an out-of-line slow path registered by a body
// handler. Its code is emitted after the main body so the common case
// stays dense; the block jumps back to exit when done.
type deferredBlock struct {
	entry *asm.Label
	exit  *asm.Label
	gen   func(*Generator)
}

// addDeferred registers a slow path and returns its entry label (to
// branch to) and exit label (bound by the caller at the continuation
// point in the main stream).
func (g *Generator) addDeferred(gen func(*Generator)) (entry, exit *asm.Label) {
	d := &deferredBlock{entry: &asm.Label{}, exit: &asm.Label{}, gen: gen}
	g.deferred = append(g.deferred, d)
	return d.entry, d.exit
}

// emitDeferred is phase 3: emit every registered slow path.
func (g *Generator) emitDeferred() {
	for i := 0; i < len(g.deferred); i++ {
		if g.aborted {
			return
		}
		d := g.deferred[i]
		g.masm.Bind(d.entry)
		d.gen(g)
		g.masm.Jmp(d.exit)
	}
}
