package source

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	m := NewMockAdapter(Spec{ID: "demo"})
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.Resolve("demo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != Adapter(m) {
		t.Fatal("resolve should return the registered adapter")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewMockAdapter(Spec{ID: "demo"})); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(NewMockAdapter(Spec{ID: "demo"})); err == nil {
		t.Fatal("duplicate identifier should fail")
	}
}

func TestRegistryRejectsEmptyIdentifier(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(NewMockAdapter(Spec{})); err == nil {
		t.Fatal("empty identifier should fail")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("nope")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
}

func TestRegistryListsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"cherry", "apple", "banana"} {
		if err := r.Register(NewMockAdapter(Spec{ID: id})); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	want := []string{"apple", "banana", "cherry"}
	ids := r.IDs()
	if len(ids) != len(want) {
		t.Fatalf("IDs() returned %d entries, want %d", len(ids), len(want))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("IDs()[%d] = %q, want %q", i, ids[i], id)
		}
	}

	all := r.All()
	for i, a := range all {
		if a.ShopIdentifier() != want[i] {
			t.Fatalf("All()[%d] = %q, want %q", i, a.ShopIdentifier(), want[i])
		}
	}
}
