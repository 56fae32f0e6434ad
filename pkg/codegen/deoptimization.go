package codegen

import (
	"fmt"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/deopt"
	"github.com/embervm/ember/pkg/lir"
)

// RegisterEnvironment serializes an environment into the translation
// stream and assigns its deoptimization index. Idempotent: a second
// call on the same environment is a no-op.
func (g *Generator) RegisterEnvironment(envIndex int32) {
	env := g.chunk.Environments[envIndex]
	if env.Registered() {
		return
	}
	frameCount := lir.FrameCount(g.chunk.Environments, envIndex)
	t, offset := g.translations.NewTranslation(frameCount)
	g.writeTranslation(t, envIndex)

	deoptIndex := int32(len(g.deoptEnvs))
	env.MarkRegistered(deoptIndex, offset)
	g.deoptEnvs = append(g.deoptEnvs, env)
	g.deoptLabels = append(g.deoptLabels, &asm.Label{})
}

// writeTranslation serializes one frame chain, outermost caller first.
// Within a frame, slots go out in reverse logical order (expression
// stack, then locals, then parameters); the reconstruction walk
// consumes them in exactly that order.
func (g *Generator) writeTranslation(t *deopt.Translation, envIndex int32) {
	env := g.chunk.Environments[envIndex]
	if env.Outer != lir.NoOuter {
		g.writeTranslation(t, env.Outer)
	}
	t.BeginFrame(env.AstID, int32(len(env.Slots)))
	for i := len(env.Slots) - 1; i >= 0; i-- {
		g.writeSlot(t, env.Slots[i])
	}
}

func (g *Generator) writeSlot(t *deopt.Translation, slot lir.EnvSlot) {
	if slot.Tag == lir.TagArgumentsObject {
		t.StoreArgumentsObject()
		return
	}
	op := slot.Operand
	switch op.Kind {
	case lir.OperandRegister:
		switch slot.Tag {
		case lir.TagInt32:
			t.StoreInt32Register(op.Index)
		default:
			t.StoreTaggedRegister(op.Index)
		}
	case lir.OperandDoubleRegister:
		t.StoreDoubleRegister(op.Index)
	case lir.OperandStackSlot:
		switch slot.Tag {
		case lir.TagInt32:
			t.StoreInt32StackSlot(op.Index)
		default:
			t.StoreTaggedStackSlot(op.Index)
		}
	case lir.OperandDoubleStackSlot:
		t.StoreDoubleStackSlot(op.Index)
	case lir.OperandArgument:
		// Arguments are addressed as negative stack slots.
		t.StoreTaggedStackSlot(-(op.Index + 1))
	case lir.OperandConstant:
		t.StoreLiteral(g.deoptLiteral(op.Index))
	default:
		g.Abort(fmt.Sprintf("cannot translate operand %v", op))
	}
}

// deoptLiteral maps a constant pool index to an index in the deopt
// literal table, adding the literal on first use.
func (g *Generator) deoptLiteral(poolIndex int32) int32 {
	if i, ok := g.literalIndex[poolIndex]; ok {
		return i
	}
	i := int32(len(g.literals))
	g.literals = append(g.literals, g.chunk.Constants.At(poolIndex))
	g.literalIndex[poolIndex] = i
	return i
}

// DeoptimizeIf emits a transfer to the deoptimization entry for the
// environment when cc holds; asm.Always emits an unconditional jump.
// The stress configuration can force the unconditional form on every
// Nth site.
func (g *Generator) DeoptimizeIf(cc asm.CC, envIndex int32) {
	if envIndex == lir.NoEnvironment {
		g.Abort("deoptimization requested without environment")
		return
	}
	g.RegisterEnvironment(envIndex)
	env := g.chunk.Environments[envIndex]
	label := g.deoptLabels[env.DeoptIndex]

	g.deoptSeen++
	if g.cfg.DeoptEvery > 0 && g.deoptSeen%g.cfg.DeoptEvery == 0 {
		cc = asm.Always
	}
	if cc == asm.Always {
		g.masm.Jmp(label)
	} else {
		g.masm.Jcc(cc, label)
	}
}

// emitDeoptJumpTable binds the per-index entries all deopt branches
// target: push the deoptimization index and tail-jump to the shared
// runtime entry. Registers are untouched so the translation can still
// read them.
func (g *Generator) emitDeoptJumpTable() {
	for i, label := range g.deoptLabels {
		g.masm.Bind(label)
		if g.cfg.TrapOnDeopt {
			g.masm.Int3()
		}
		g.masm.PushImm32(int32(i))
		g.masm.MovRegImm64(asm.ScratchReg, g.refs.DeoptEntry)
		g.masm.JmpReg(asm.ScratchReg)
	}
}

// PopulateDeoptimizationData serializes the translation stream, the
// literal table and the per-environment entries. Returns nil metadata
// when no environment was ever registered.
func (g *Generator) PopulateDeoptimizationData() ([]byte, error) {
	if len(g.deoptEnvs) == 0 {
		return nil, nil
	}
	d := deopt.Data{
		Stream:     g.translations.Bytes(),
		Literals:   g.literals,
		Entries:    make([]deopt.Entry, len(g.deoptEnvs)),
		StackSlots: g.chunk.SpillSlotCount,
	}
	for i, env := range g.deoptEnvs {
		d.Entries[i] = deopt.Entry{
			AstID:             env.AstID,
			TranslationOffset: env.TranslationIndex,
			ArgumentsHeight:   env.ParameterCount,
		}
	}
	return d.Serialize()
}
