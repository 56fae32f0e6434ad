package ic

import (
	"errors"

	"github.com/embervm/ember/pkg/codegen"
	"github.com/embervm/ember/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("ember.ic")

// ErrNotConstructable is returned for construct sites whose target is
// not a constructor function.
var ErrNotConstructable = errors.New("ic: target is not constructable")

// ICs is the dispatcher optimized code and the interpreter share: each
// operation probes the global cache, runs the stub's semantic form
// when its guard holds, and otherwise takes the generic runtime path
// and compiles a fresh stub for next time.
//
// With Disabled set every operation goes straight to the generic path.
// Program behavior must be identical either way; only the work done
// per access differs.
type ICs struct {
	Runtime  *vm.Runtime
	Cache    *StubCache
	Compiler *Compiler
	Disabled bool
}

// New wires a dispatcher over rt with a fresh cache.
func New(rt *vm.Runtime, refs codegen.ExternalRefs) *ICs {
	cache := &StubCache{}
	return &ICs{
		Runtime:  rt,
		Cache:    cache,
		Compiler: NewCompiler(refs, cache),
	}
}

func (s *ICs) probe(receiver vm.Value, name *vm.Name, kind Kind) *Stub {
	if s.Disabled || !receiver.IsHeapObject() {
		return nil
	}
	mapID := receiver.HeapObject().Map.ID
	stub := s.Cache.Probe(name, mapID, FlagsFor(kind, 0))
	if stub == nil {
		return nil
	}
	if !stub.Guard(s.Runtime, receiver) {
		return nil
	}
	return stub
}

func (s *ICs) fill(receiver vm.Value, name *vm.Name, compile func() (*Stub, bool)) {
	if s.Disabled || !receiver.IsHeapObject() {
		return
	}
	if stub, ok := compile(); ok {
		s.Cache.Insert(stub)
		log.Debugf("compiled %s stub for %q (map %d)",
			stub.Kind, name.Str, stub.MapID)
	}
}

// LoadNamed performs a cached named load.
func (s *ICs) LoadNamed(receiver vm.Value, name *vm.Name) (vm.Value, error) {
	if stub := s.probe(receiver, name, KindLoad); stub != nil {
		if v, handled, err := stub.Load(s.Runtime, receiver); handled {
			return v, err
		}
	}
	v, err := s.Runtime.LoadNamed(receiver, name)
	if err == nil {
		s.fill(receiver, name, func() (*Stub, bool) {
			return s.Compiler.CompileLoad(s.Runtime, receiver, name)
		})
	}
	return v, err
}

// StoreNamed performs a cached named store.
func (s *ICs) StoreNamed(receiver vm.Value, name *vm.Name, v vm.Value) error {
	if stub := s.probe(receiver, name, KindStore); stub != nil {
		if handled, err := stub.Store(s.Runtime, receiver, v); handled {
			return err
		}
	}
	// Compile before the generic store runs: a transition stub must
	// key on the receiver's pre-store map.
	var stub *Stub
	var compiled bool
	if !s.Disabled && receiver.IsHeapObject() {
		stub, compiled = s.Compiler.CompileStore(s.Runtime, receiver, name)
	}
	err := s.Runtime.StoreNamed(receiver, name, v)
	if err == nil && compiled {
		s.Cache.Insert(stub)
		log.Debugf("compiled %s stub for %q (map %d)",
			stub.Kind, name.Str, stub.MapID)
	}
	return err
}

// CallNamed performs a cached method call.
func (s *ICs) CallNamed(receiver vm.Value, name *vm.Name, args ...vm.Value) (vm.Value, error) {
	if stub := s.probe(receiver, name, KindCall); stub != nil {
		if v, handled, err := stub.Call(s.Runtime, receiver, args); handled {
			return v, err
		}
	}
	v, err := s.Runtime.CallNamed(receiver, name, args...)
	if err == nil {
		s.fill(receiver, name, func() (*Stub, bool) {
			return s.Compiler.CompileCall(s.Runtime, receiver, name)
		})
	}
	return v, err
}

// Construct performs a cached `new fn(...)`. The cache key is the
// constructor's own map; name labels the site for diagnostics.
func (s *ICs) Construct(fn *vm.HeapObject, name *vm.Name, args ...vm.Value) (vm.Value, error) {
	fv := vm.FromHeapObject(fn)
	if stub := s.probe(fv, name, KindConstruct); stub != nil {
		if v, handled := stub.Construct(s.Runtime, args); handled {
			return v, nil
		}
	}
	v, err := s.genericConstruct(fn, args)
	if err == nil && !s.Disabled {
		s.fill(fv, name, func() (*Stub, bool) {
			return s.Compiler.CompileConstruct(s.Runtime, fn, name)
		})
	}
	return v, err
}

// genericConstruct is the slow-path constructor: allocate from the
// descriptor without any shape assumptions.
func (s *ICs) genericConstruct(fn *vm.HeapObject, args []vm.Value) (vm.Value, error) {
	if fn.Kind != vm.KindFunction || fn.Construct == nil {
		return vm.Nil, ErrNotConstructable
	}
	desc := fn.Construct
	if desc.InitialMap == nil {
		return vm.Nil, ErrNotConstructable
	}
	o := vm.NewObject(s.Runtime.Heap, desc.InitialMap)
	for i := int32(0); i < desc.InitialMap.InObjectCount; i++ {
		if int(i) >= len(desc.Initializers) {
			break
		}
		if init := desc.Initializers[i]; init != vm.Value(0) {
			o.SetFastField(i, init)
			continue
		}
		if int(i) < len(desc.ArgIndex) && desc.ArgIndex[i] < len(args) {
			o.SetFastField(i, args[desc.ArgIndex[i]])
		} else {
			o.SetFastField(i, vm.Nil)
		}
	}
	return vm.FromHeapObject(o), nil
}

// LoadKeyed performs an indexed element load. Array element access is
// handled inline; everything else would need a keyed stub family and
// goes through the generic named path via index stringification, which
// this runtime does not model, so absence yields the nil value.
func (s *ICs) LoadKeyed(receiver vm.Value, index int32) (vm.Value, error) {
	if receiver.IsHeapObject() {
		o := receiver.HeapObject()
		if o.Kind == vm.KindArray {
			if index < 0 || index >= o.Length {
				return vm.Nil, nil
			}
			return o.Elements[index], nil
		}
	}
	return vm.Nil, nil
}
