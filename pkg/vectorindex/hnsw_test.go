package vectorindex

import (
	"bytes"
	"testing"

	"github.com/axiomgraph/axiom/pkg/types"
)

func vec(xs ...float32) []float32 { return xs }

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	h := New(DefaultConfig(3))
	if err := h.Insert("a", vec(1, 0, 0), types.NounDocument); err != nil {
		t.Fatalf("Insert(a) = %v", err)
	}
	if err := h.Insert("b", vec(0, 1, 0), types.NounDocument); err != nil {
		t.Fatalf("Insert(b) = %v", err)
	}
	if err := h.Insert("c", vec(0.9, 0.1, 0), types.NounDocument); err != nil {
		t.Fatalf("Insert(c) = %v", err)
	}

	results, err := h.Search(vec(1, 0, 0), 1, 0, nil)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("Search() = %+v, want [{a ...}]", results)
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	h := New(DefaultConfig(3))
	err := h.Insert("a", vec(1, 0), types.NounDocument)
	if err == nil {
		t.Fatal("Insert() with wrong dimension = nil, want DimensionMismatch")
	}
}

func TestSearchFiltersByNounType(t *testing.T) {
	h := New(DefaultConfig(2))
	mustInsert(t, h, "doc1", vec(1, 0), types.NounDocument)
	mustInsert(t, h, "person1", vec(1, 0), types.NounPerson)

	results, err := h.Search(vec(1, 0), 5, 0, []types.NounType{types.NounPerson})
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(results) != 1 || results[0].ID != "person1" {
		t.Fatalf("Search() with Person filter = %+v, want only person1", results)
	}
}

func TestSearchWithinRestrictsToAllowSet(t *testing.T) {
	h := New(DefaultConfig(2))
	mustInsert(t, h, "a", vec(1, 0), types.NounDocument)
	mustInsert(t, h, "b", vec(1, 0), types.NounDocument)

	results, err := h.SearchWithin(vec(1, 0), 5, 0, nil, map[string]struct{}{"b": {}})
	if err != nil {
		t.Fatalf("SearchWithin() = %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("SearchWithin() with allow={b} = %+v, want only b", results)
	}
}

func TestSearchWithinEmptyAllowShortCircuits(t *testing.T) {
	h := New(DefaultConfig(2))
	mustInsert(t, h, "a", vec(1, 0), types.NounDocument)

	results, err := h.SearchWithin(vec(1, 0), 5, 0, nil, map[string]struct{}{})
	if err != nil {
		t.Fatalf("SearchWithin() with empty allow = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("SearchWithin() with empty allow = %+v, want no results", results)
	}
}

func TestDeleteBackPatchesNeighbors(t *testing.T) {
	h := New(DefaultConfig(2))
	for i := 0; i < 10; i++ {
		mustInsert(t, h, string(rune('a'+i)), vec(1, float32(i)*0.01), types.NounDocument)
	}
	if err := h.Delete("a"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if h.Size() != 9 {
		t.Fatalf("Size() after delete = %d, want 9", h.Size())
	}
	results, err := h.Search(vec(1, 0), 10, 0, nil)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	for _, r := range results {
		if r.ID == "a" {
			t.Fatalf("Search() after Delete(a) still returned a: %+v", results)
		}
	}
}

func TestDeleteReassignsEntryPoint(t *testing.T) {
	h := New(DefaultConfig(2))
	mustInsert(t, h, "only", vec(1, 0), types.NounDocument)
	if err := h.Delete("only"); err != nil {
		t.Fatalf("Delete() = %v", err)
	}
	if h.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", h.Size())
	}
	// inserting into an emptied index must not panic on a stale entry point
	if err := h.Insert("next", vec(0, 1), types.NounDocument); err != nil {
		t.Fatalf("Insert() after emptying index = %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	h := New(DefaultConfig(2))
	mustInsert(t, h, "a", vec(1, 0), types.NounDocument)
	mustInsert(t, h, "b", vec(0, 1), types.NounPerson)

	var buf bytes.Buffer
	if err := h.Save(&buf); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	h2 := New(DefaultConfig(2))
	skipped, err := h2.Load(&buf)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if skipped != 0 {
		t.Fatalf("Load() skipped = %d, want 0", skipped)
	}
	if h2.Size() != 2 {
		t.Fatalf("Size() after Load = %d, want 2", h2.Size())
	}

	results, err := h2.Search(vec(1, 0), 1, 0, nil)
	if err != nil {
		t.Fatalf("Search() after Load = %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("Search() after Load = %+v, want a first", results)
	}
}

func TestLoadSkipsDimensionMismatchedNodes(t *testing.T) {
	h := New(DefaultConfig(2))
	mustInsert(t, h, "a", vec(1, 0), types.NounDocument)

	var buf bytes.Buffer
	if err := h.Save(&buf); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	h3 := New(DefaultConfig(3)) // configured for 3 dimensions; the saved node has 2
	skipped, err := h3.Load(&buf)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if skipped != 1 || h3.Size() != 0 {
		t.Fatalf("Load() skipped=%d size=%d, want skipped=1 size=0 (2-dim node does not match the configured 3 dimensions)", skipped, h3.Size())
	}
}

func mustInsert(t *testing.T, h *HNSW, id string, v []float32, nt types.NounType) {
	t.Helper()
	if err := h.Insert(id, v, nt); err != nil {
		t.Fatalf("Insert(%s) = %v", id, err)
	}
}
