package memstore_test

import (
	"testing"

	"github.com/MrWong99/lexi/internal/store"
	"github.com/MrWong99/lexi/internal/store/memstore"
	"github.com/MrWong99/lexi/internal/store/storetest"
)

func TestStore(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) store.Store { return memstore.New() })
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	t.Parallel()

	m := memstore.New()
	s, err := m.Create(t.Context(), storetest.Sample("copy"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.Exercises[0].Transcript = "mutated"
	got, _ := m.Load(t.Context(), "copy")
	if got.Exercises[0].Transcript == "mutated" {
		t.Fatal("store shares memory with callers")
	}
	if m.Len() != 1 {
		t.Errorf("want 1 record, got %d", m.Len())
	}
}
