package vm

import "testing"

func TestMapIdentityDistinct(t *testing.T) {
	a := NewMap(KindObject, Value(0))
	b := NewMap(KindObject, Value(0))
	if a.ID == b.ID {
		t.Fatal("two maps share an identity")
	}
}

func TestTransitionSharing(t *testing.T) {
	base := NewMap(KindObject, Value(0))
	x := Intern("x")
	y := Intern("y")

	m1 := base.Transition(x).Transition(y)
	m2 := base.Transition(x).Transition(y)
	if m1 != m2 {
		t.Error("same addition order must reach the same map")
	}

	m3 := base.Transition(y).Transition(x)
	if m3 == m1 {
		t.Error("different addition order must reach a different map")
	}
}

func TestFieldIndexFollowsAdditionOrder(t *testing.T) {
	base := NewMap(KindObject, Value(0))
	m := base.Transition(Intern("a")).Transition(Intern("b"))
	if got := m.FieldIndex(Intern("a")); got != 0 {
		t.Errorf("FieldIndex(a) = %d, want 0", got)
	}
	if got := m.FieldIndex(Intern("b")); got != 1 {
		t.Errorf("FieldIndex(b) = %d, want 1", got)
	}
	if got := m.FieldIndex(Intern("c")); got != -1 {
		t.Errorf("FieldIndex(c) = %d, want -1", got)
	}
}

func TestFastFieldInObjectAndExtra(t *testing.T) {
	m := NewMap(KindObject, Value(0))
	m.InObjectCount = 1
	m = m.Transition(Intern("p")).Transition(Intern("q"))
	m.InObjectCount = 1

	o := NewObject(nil, m)
	o.SetFastField(0, FromSmi(10)) // in-object
	o.SetFastField(1, FromSmi(20)) // out-of-line
	if got := o.FastField(0); got.Smi() != 10 {
		t.Errorf("in-object field = %v, want 10", got)
	}
	if got := o.FastField(1); got.Smi() != 20 {
		t.Errorf("out-of-line field = %v, want 20", got)
	}
	if len(o.InObject) != 1 {
		t.Errorf("in-object store has %d slots, want 1", len(o.InObject))
	}
}

func TestNormalizePropertiesKeepsValues(t *testing.T) {
	base := NewMap(KindObject, Value(0))
	o := NewObject(nil, base)
	r := NewRuntime()
	recv := FromHeapObject(o)
	if err := r.StoreNamed(recv, Intern("k"), FromSmi(5)); err != nil {
		t.Fatal(err)
	}
	fastMap := o.Map

	o.NormalizeProperties()
	if !o.Map.DictionaryMode {
		t.Fatal("object not in dictionary mode after normalization")
	}
	if o.Map == fastMap {
		t.Fatal("normalization must install a fresh map")
	}
	v, err := r.LoadNamed(recv, Intern("k"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Smi() != 5 {
		t.Errorf("property lost across normalization: %v", v)
	}
}
