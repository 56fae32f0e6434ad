package codegen

import (
	"github.com/embervm/ember/pkg/lir"
)

// Scratch pseudo-operands. Negative register indices fall outside the
// allocatable range, so EmitMove maps them to the reserved scratch
// registers instead of going through the allocation order.
var (
	scratchGP  = lir.Operand{Kind: lir.OperandRegister, Index: -1}
	scratchXMM = lir.Operand{Kind: lir.OperandDoubleRegister, Index: -1}
)

func isScratch(op lir.Operand) bool { return op.Index < 0 }

// ResolveMoves orders a gap's parallel moves into a sequence that can
// be performed one at a time without clobbering a not-yet-read source.
// Cycles are broken through the scratch register of the appropriate
// representation, so at most one extra location per cycle is needed.
func ResolveMoves(moves []lir.MovePair) []lir.MovePair {
	pending := make([]lir.MovePair, 0, len(moves))
	for _, m := range moves {
		if m.From != m.To {
			pending = append(pending, m)
		}
	}

	var out []lir.MovePair
	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); {
			m := pending[i]
			if blocksSource(pending, m.To, i) {
				i++
				continue
			}
			out = append(out, m)
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
		}
		if progress {
			continue
		}

		// Every remaining destination is somebody's source: a cycle.
		// Spill one source to scratch and redirect its readers.
		m := pending[0]
		scratch := scratchGP
		if m.From.IsDouble() {
			scratch = scratchXMM
		}
		out = append(out, lir.MovePair{From: m.From, To: scratch})
		from := m.From
		for j := range pending {
			if pending[j].From == from {
				pending[j].From = scratch
			}
		}
	}
	return out
}

// blocksSource reports whether loc is still read by a pending move
// other than the one at index skip.
func blocksSource(pending []lir.MovePair, loc lir.Operand, skip int) bool {
	for j, p := range pending {
		if j != skip && p.From == loc {
			return true
		}
	}
	return false
}
