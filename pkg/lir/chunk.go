package lir

import "fmt"

// Chunk is the unit of compilation handed to the code generator: the
// ordered instruction list plus everything it references. It is owned
// exclusively by one in-progress compilation.
type Chunk struct {
	FunctionName string

	Instructions []*Instr
	Constants    ConstantPool

	// Environments is the arena indexed by Instr.EnvIndex and
	// Environment.Outer.
	Environments []*Environment

	// SpillSlotCount is the number of stack slots the prologue must
	// reserve. Finalized by the upstream allocator.
	SpillSlotCount int32

	// ParameterCount is the number of incoming arguments.
	ParameterCount int32
}

// NewChunk returns an empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{FunctionName: name}
}

// Add appends an instruction and returns its index.
func (c *Chunk) Add(in *Instr) int {
	c.Instructions = append(c.Instructions, in)
	return len(c.Instructions) - 1
}

// AddEnvironment places env in the arena and returns its index.
func (c *Chunk) AddEnvironment(env *Environment) int32 {
	c.Environments = append(c.Environments, env)
	return int32(len(c.Environments) - 1)
}

// Env returns the arena entry for an instruction, or nil.
func (c *Chunk) Env(in *Instr) *Environment {
	if !in.HasEnvironment() {
		return nil
	}
	return c.Environments[in.EnvIndex]
}

// Validate checks structural invariants the code generator relies on:
// gap moves never share a destination, environment indices are in
// range, and branch targets name labels that exist. Violations are
// optimizer bugs; they surface here instead of as miscompiles.
func (c *Chunk) Validate() error {
	labels := map[int32]bool{}
	for _, in := range c.Instructions {
		if in.Op == OpLabel {
			if labels[in.BlockID] {
				return fmt.Errorf("lir: duplicate label for block %d", in.BlockID)
			}
			labels[in.BlockID] = true
		}
	}
	for i, in := range c.Instructions {
		if in.HasEnvironment() && int(in.EnvIndex) >= len(c.Environments) {
			return fmt.Errorf("lir: instruction %d references environment %d of %d",
				i, in.EnvIndex, len(c.Environments))
		}
		if in.Op == OpGap {
			seen := map[Operand]bool{}
			for _, mv := range in.Moves {
				if seen[mv.To] {
					return fmt.Errorf("lir: instruction %d has conflicting gap moves into %v", i, mv.To)
				}
				seen[mv.To] = true
			}
		}
		switch in.Op {
		case OpGoto:
			if !labels[in.TrueBlock] {
				return fmt.Errorf("lir: instruction %d jumps to missing block %d", i, in.TrueBlock)
			}
		case OpBranch, OpCmpAndBranch, OpIsSmiAndBranch, OpIsNullAndBranch,
			OpHasInstanceTypeAndBranch:
			if !labels[in.TrueBlock] || !labels[in.FalseBlock] {
				return fmt.Errorf("lir: instruction %d branches to missing block (%d, %d)",
					i, in.TrueBlock, in.FalseBlock)
			}
		}
	}
	return nil
}

// EmitPlan is the result of resolving merged-away blocks before code
// generation: for every instruction index, whether it is emitted, and
// the replacement-resolved target for every block id.
type EmitPlan struct {
	Emit    []bool
	Forward map[int32]int32 // block id -> effective block id
}

// BuildEmitPlan resolves label replacement up front so the emission
// loop needs no suppression logic. Instructions between a replaced
// label and the next label are skipped but still hold their indices.
func (c *Chunk) BuildEmitPlan() *EmitPlan {
	plan := &EmitPlan{
		Emit:    make([]bool, len(c.Instructions)),
		Forward: map[int32]int32{},
	}

	// Chase replacement chains to a fixed point per block.
	replaced := map[int32]int32{}
	for _, in := range c.Instructions {
		if in.Op == OpLabel && in.ReplacedBy != NoReplacement {
			replaced[in.BlockID] = in.ReplacedBy
		}
	}
	for _, in := range c.Instructions {
		if in.Op != OpLabel {
			continue
		}
		id := in.BlockID
		target := id
		for {
			next, ok := replaced[target]
			if !ok {
				break
			}
			target = next
		}
		plan.Forward[id] = target
	}

	emitting := true
	for i, in := range c.Instructions {
		if in.Op == OpLabel {
			emitting = in.ReplacedBy == NoReplacement
		}
		plan.Emit[i] = emitting
	}
	return plan
}

// Target resolves a branch target through block merging.
func (p *EmitPlan) Target(block int32) int32 {
	if t, ok := p.Forward[block]; ok {
		return t
	}
	return block
}
