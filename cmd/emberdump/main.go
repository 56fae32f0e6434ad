// emberdump - inspect serialized Ember code objects
//
// Prints the metadata attached to a compiled code object: the
// safepoint table and the decoded deoptimization translations.
//
// Usage:
//   emberdump code.bin                           # one serialized code object
//   emberdump -cache cache.db -id FUNCTION-ID    # from a code cache
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/embervm/ember/pkg/asm"
	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/pkg/deopt"
	"github.com/embervm/ember/pkg/lir"
	"github.com/embervm/ember/vm"

	_ "github.com/tliron/commonlog/simple"
)

var (
	cachePath  = flag.String("cache", "", "read from a code cache database instead of a file")
	functionID = flag.String("id", "", "function id to look up in the code cache")
	showCode   = flag.Bool("code", false, "hex-dump the machine code as well")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "emberdump - inspect serialized Ember code objects\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  emberdump [options] code.bin\n")
		fmt.Fprintf(os.Stderr, "  emberdump -cache cache.db -id FUNCTION-ID\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	co, err := loadCodeObject()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("code object %s\n", co.ID)
	fmt.Printf("  name:        %s\n", co.Name)
	fmt.Printf("  kind:        %s\n", co.Kind)
	if co.Kind == vm.CodeStub {
		fmt.Printf("  flags:       %#08x\n", co.Flags)
	}
	fmt.Printf("  code:        %d bytes\n", len(co.Code))
	fmt.Printf("  stack slots: %d\n", co.StackSlots)

	if *showCode {
		fmt.Printf("\nmachine code:\n%s", hex.Dump(co.Code))
	}

	if err := dumpSafepoints(co); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := dumpDeoptData(co); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadCodeObject() (*vm.CodeObject, error) {
	if *cachePath != "" {
		if *functionID == "" {
			return nil, fmt.Errorf("-cache requires -id")
		}
		cache, err := vm.OpenCodeCache(*cachePath)
		if err != nil {
			return nil, err
		}
		defer cache.Close()
		co, ok, err := cache.Get(*functionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("function %q not in cache", *functionID)
		}
		return co, nil
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		return nil, err
	}
	return vm.DeserializeCodeObject(data)
}

func dumpSafepoints(co *vm.CodeObject) error {
	if len(co.SafepointTable) == 0 {
		fmt.Printf("\nno safepoints\n")
		return nil
	}
	table, stackSlots, err := codegen.DecodeSafepointTable(co.SafepointTable)
	if err != nil {
		return err
	}
	entries := table.Entries()
	fmt.Printf("\nsafepoints (%d entries, %d stack slots):\n", len(entries), stackSlots)
	for _, sp := range entries {
		deoptStr := "-"
		if sp.DeoptIndex != codegen.NoDeoptIndex {
			deoptStr = fmt.Sprintf("%d", sp.DeoptIndex)
		}
		fmt.Printf("  +%06x  lazy-deopt %-4s slots %v", sp.Offset, deoptStr, sp.Slots)
		if sp.Registers != 0 {
			fmt.Printf("  regs %s", registerNames(sp.Registers))
		}
		fmt.Println()
	}
	return nil
}

func dumpDeoptData(co *vm.CodeObject) error {
	if len(co.DeoptMeta) == 0 {
		fmt.Printf("\nno deoptimization data\n")
		return nil
	}
	data, err := deopt.Decode(co.DeoptMeta)
	if err != nil {
		return err
	}
	fmt.Printf("\ndeoptimization data (%d entries, stream %d bytes):\n",
		len(data.Entries), len(data.Stream))
	for i, e := range data.Entries {
		fmt.Printf("  [%d] ast %d, args height %d, translation @%d\n",
			i, e.AstID, e.ArgumentsHeight, e.TranslationOffset)
		frames, err := data.RecordAt(i)
		if err != nil {
			return err
		}
		for depth, f := range frames {
			fmt.Printf("      frame %d (ast %d):\n", depth, f.AstID)
			for _, d := range f.Directives {
				fmt.Printf("        %-22s %d\n", d.Op, d.Arg)
			}
		}
	}
	if len(data.Literals) > 0 {
		fmt.Printf("\nliterals:\n")
		for i, l := range data.Literals {
			fmt.Printf("  [%d] %s\n", i, formatLiteral(l))
		}
	}
	return nil
}

func formatLiteral(c lir.Constant) string {
	switch c.Rep {
	case lir.RepInt32:
		return fmt.Sprintf("int32 %d", c.Int32)
	case lir.RepDouble:
		return fmt.Sprintf("double %g", c.Double)
	case lir.RepTagged:
		return fmt.Sprintf("tagged %#x", c.Tagged)
	default:
		return fmt.Sprintf("rep(%d)", c.Rep)
	}
}

// registerNames renders a safepoint register bitmask.
func registerNames(mask uint32) string {
	s := ""
	for r := 0; r < 16; r++ {
		if mask&(1<<uint(r)) == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += asm.Reg(r).String()
	}
	return s
}
