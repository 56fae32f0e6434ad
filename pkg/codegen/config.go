// Package codegen lowers a lir.Chunk to x86-64 machine code, recording
// safepoints and deoptimization metadata as it goes. The whole pass is
// single-threaded and either completes or aborts; an aborted
// compilation publishes nothing.
package codegen

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config carries the compilation switches. The zero value is the
// production configuration.
type Config struct {
	// Trace emits a call to the tracing hook at function entry.
	Trace bool `toml:"trace"`

	// DebugFillSlots zero-fills reserved stack slots with a sentinel so
	// uninitialized reads are recognizable in a debugger.
	DebugFillSlots bool `toml:"debug_fill_slots"`

	// TrapOnDeopt plants a breakpoint instruction in front of every
	// deoptimization jump.
	TrapOnDeopt bool `toml:"trap_on_deopt"`

	// DeoptEvery forces an unconditional deoptimization on every Nth
	// registered deopt site (stress testing). Zero disables.
	DeoptEvery int `toml:"deopt_every"`

	// DisableStubCache makes every generic property site call the
	// runtime directly. Behavior must be identical, only slower.
	DisableStubCache bool `toml:"disable_stub_cache"`

	// DisableInlineAllocation routes every allocation through the
	// runtime call, for embeddings without exclusive frontier access.
	DisableInlineAllocation bool `toml:"disable_inline_allocation"`
}

// SlotSentinel is the recognizable pattern DebugFillSlots writes.
const SlotSentinel = 0x2BADBEEF

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("codegen: reading config: %w", err)
	}
	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("codegen: parsing config: %w", err)
	}
	return &c, nil
}
