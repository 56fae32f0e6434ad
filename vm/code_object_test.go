package vm

import (
	"bytes"
	"path/filepath"
	"testing"
)

func sampleCodeObject() *CodeObject {
	co := NewCodeObject(CodeOptimized, "fib")
	co.Flags = 0x2040
	co.Code = []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}
	co.StackSlots = 4
	co.SafepointTable = []byte{1, 2, 3}
	co.DeoptMeta = []byte{9, 8}
	return co
}

func TestCodeObjectSerializeRoundTrip(t *testing.T) {
	co := sampleCodeObject()
	blob, err := co.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DeserializeCodeObject(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != co.ID || got.Name != co.Name || got.Kind != co.Kind ||
		got.Flags != co.Flags || got.StackSlots != co.StackSlots {
		t.Errorf("header mismatch: %+v vs %+v", got, co)
	}
	if !bytes.Equal(got.Code, co.Code) {
		t.Error("code bytes mismatch")
	}
	if !bytes.Equal(got.SafepointTable, co.SafepointTable) ||
		!bytes.Equal(got.DeoptMeta, co.DeoptMeta) {
		t.Error("metadata mismatch")
	}
}

func TestCodeCachePutGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.db")
	cache, err := OpenCodeCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	co := sampleCodeObject()
	if err := cache.Put("Point.distance", co); err != nil {
		t.Fatal(err)
	}
	got, hit, err := cache.Get("Point.distance")
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if got.ID != co.ID || !bytes.Equal(got.Code, co.Code) {
		t.Error("cached code object mismatch")
	}

	if _, hit, _ := cache.Get("absent"); hit {
		t.Error("unexpected hit for absent key")
	}
}

func TestCodeCacheOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.db")
	cache, err := OpenCodeCache(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	a := sampleCodeObject()
	b := sampleCodeObject()
	b.Code = []byte{0xc3}
	if err := cache.Put("f", a); err != nil {
		t.Fatal(err)
	}
	if err := cache.Put("f", b); err != nil {
		t.Fatal(err)
	}
	got, hit, err := cache.Get("f")
	if err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(got.Code, b.Code) {
		t.Error("overwrite did not take effect")
	}
}

func TestMapExecutable(t *testing.T) {
	co := sampleCodeObject()
	if err := co.MapExecutable(); err != nil {
		t.Fatal(err)
	}
	defer co.ReleaseExecutable()
	if co.Entry() == 0 {
		t.Error("entry address is zero")
	}
	// Idempotent.
	if err := co.MapExecutable(); err != nil {
		t.Fatal(err)
	}
}
