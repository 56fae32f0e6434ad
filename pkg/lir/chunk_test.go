package lir

import "testing"

func label(block int32) *Instr {
	in := NewInstr(OpLabel)
	in.BlockID = block
	return in
}

func TestConstantPoolInternsInt32(t *testing.T) {
	var p ConstantPool
	a := p.AddInt32(42)
	b := p.AddInt32(42)
	c := p.AddInt32(7)
	if a != b {
		t.Errorf("expected interned int32 indices to match, got %d and %d", a, b)
	}
	if c == a {
		t.Errorf("distinct constants share index %d", a)
	}
	if got := p.At(a); got.Rep != RepInt32 || got.Int32 != 42 {
		t.Errorf("At(%d) = %+v, want int32 42", a, got)
	}
}

func TestConstantPoolDoublesNotInterned(t *testing.T) {
	var p ConstantPool
	a := p.AddDouble(1.5)
	b := p.AddDouble(1.5)
	if a == b {
		t.Errorf("double literals must keep distinct indices, both are %d", a)
	}
}

func TestEmitPlanSkipsReplacedBlock(t *testing.T) {
	c := NewChunk("f")
	c.Add(label(0))
	c.Add(NewInstr(OpNop)) // emitted

	merged := label(1)
	merged.ReplacedBy = 2
	c.Add(merged)
	c.Add(NewInstr(OpNop)) // suppressed: belongs to the merged block

	c.Add(label(2))
	c.Add(NewInstr(OpReturn)) // emitted

	plan := c.BuildEmitPlan()
	want := []bool{true, true, false, false, true, true}
	for i, w := range want {
		if plan.Emit[i] != w {
			t.Errorf("Emit[%d] = %v, want %v", i, plan.Emit[i], w)
		}
	}
	if got := plan.Target(1); got != 2 {
		t.Errorf("Target(1) = %d, want 2", got)
	}
	if got := plan.Target(0); got != 0 {
		t.Errorf("Target(0) = %d, want 0", got)
	}
}

func TestEmitPlanChasesReplacementChains(t *testing.T) {
	c := NewChunk("f")
	l1 := label(1)
	l1.ReplacedBy = 2
	l2 := label(2)
	l2.ReplacedBy = 3
	c.Add(l1)
	c.Add(l2)
	c.Add(label(3))

	plan := c.BuildEmitPlan()
	if got := plan.Target(1); got != 3 {
		t.Errorf("Target(1) = %d, want 3 after chasing the chain", got)
	}
}

func TestValidateRejectsConflictingGapMoves(t *testing.T) {
	c := NewChunk("f")
	gap := NewInstr(OpGap)
	gap.Moves = []MovePair{
		{From: Register(0), To: StackSlot(1)},
		{From: Register(1), To: StackSlot(1)},
	}
	c.Add(gap)
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation failure for conflicting destinations")
	}
}

func TestValidateRejectsDanglingBranch(t *testing.T) {
	c := NewChunk("f")
	c.Add(label(0))
	g := NewInstr(OpGoto)
	g.TrueBlock = 9
	c.Add(g)
	if err := c.Validate(); err == nil {
		t.Fatal("expected validation failure for missing branch target")
	}
}

func TestEnvironmentChainFrameCount(t *testing.T) {
	c := NewChunk("f")
	outer := NewEnvironment(NoOuter, 10, 2, 1)
	oi := c.AddEnvironment(outer)
	mid := NewEnvironment(oi, 20, 1, 0)
	mi := c.AddEnvironment(mid)
	inner := NewEnvironment(mi, 30, 0, 0)
	ii := c.AddEnvironment(inner)

	if n := FrameCount(c.Environments, ii); n != 3 {
		t.Errorf("FrameCount(inner) = %d, want 3", n)
	}
	if n := FrameCount(c.Environments, oi); n != 1 {
		t.Errorf("FrameCount(outer) = %d, want 1", n)
	}
}

func TestEnvironmentDoubleRegistrationPanics(t *testing.T) {
	env := NewEnvironment(NoOuter, 1, 0, 0)
	env.MarkRegistered(0, 0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on second registration")
		}
	}()
	env.MarkRegistered(1, 1)
}

func TestExpressionHeight(t *testing.T) {
	env := NewEnvironment(NoOuter, 1, 2, 1)
	for i := 0; i < 5; i++ {
		env.Push(StackSlot(int32(i)), TagTagged)
	}
	if h := env.ExpressionHeight(); h != 2 {
		t.Errorf("ExpressionHeight = %d, want 2", h)
	}
}
