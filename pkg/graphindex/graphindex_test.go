package graphindex

import (
	"bytes"
	"testing"

	"github.com/axiomgraph/axiom/pkg/types"
)

func TestAddEdgeDedupesTriple(t *testing.T) {
	idx := New()
	id1, added1 := idx.AddEdge("e1", "a", "b", types.VerbRelatedTo)
	if !added1 || id1 != "e1" {
		t.Fatalf("AddEdge() first = (%s,%v), want (e1,true)", id1, added1)
	}
	id2, added2 := idx.AddEdge("e2", "a", "b", types.VerbRelatedTo)
	if added2 || id2 != "e1" {
		t.Fatalf("AddEdge() duplicate = (%s,%v), want (e1,false)", id2, added2)
	}
}

func TestOutInAny(t *testing.T) {
	idx := New()
	idx.AddEdge("e1", "a", "b", types.VerbRelatedTo)
	idx.AddEdge("e2", "a", "c", types.VerbDependsOn)

	out := idx.Out("a", "")
	if len(out) != 2 {
		t.Fatalf("Out(a, \"\") = %v, want 2 edges", out)
	}
	out = idx.Out("a", types.VerbRelatedTo)
	if len(out) != 1 || out[0] != "e1" {
		t.Fatalf("Out(a, RelatedTo) = %v, want [e1]", out)
	}
	in := idx.In("b", "")
	if len(in) != 1 || in[0] != "e1" {
		t.Fatalf("In(b, \"\") = %v, want [e1]", in)
	}
	any := idx.Any("a")
	if len(any) != 2 {
		t.Fatalf("Any(a) = %v, want 2 edges", any)
	}
}

func TestRemoveEntityCascades(t *testing.T) {
	idx := New()
	idx.AddEdge("e1", "a", "b", types.VerbRelatedTo)
	idx.AddEdge("e2", "b", "c", types.VerbDependsOn)

	removed := idx.RemoveEntity("b")
	if len(removed) != 2 {
		t.Fatalf("RemoveEntity(b) removed %v, want 2 edges", removed)
	}
	if _, _, _, ok := idx.Edge("e1"); ok {
		t.Fatal("Edge(e1) still present after RemoveEntity(b)")
	}
	if _, _, _, ok := idx.Edge("e2"); ok {
		t.Fatal("Edge(e2) still present after RemoveEntity(b)")
	}
	if idx.VerbCount(types.VerbRelatedTo) != 0 {
		t.Fatalf("VerbCount(RelatedTo) = %d, want 0", idx.VerbCount(types.VerbRelatedTo))
	}
}

func TestRemoveEdge(t *testing.T) {
	idx := New()
	idx.AddEdge("e1", "a", "b", types.VerbRelatedTo)
	idx.RemoveEdge("e1")
	if _, _, _, ok := idx.Edge("e1"); ok {
		t.Fatal("Edge(e1) still present after RemoveEdge")
	}
	// re-adding the same triple must succeed with a fresh id, not dedup
	// against the removed edge
	id, added := idx.AddEdge("e2", "a", "b", types.VerbRelatedTo)
	if !added || id != "e2" {
		t.Fatalf("AddEdge() after RemoveEdge = (%s,%v), want (e2,true)", id, added)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New()
	idx.AddEdge("e1", "a", "b", types.VerbRelatedTo)
	idx.AddEdge("e2", "a", "c", types.VerbDependsOn)

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	idx2 := New()
	n, err := idx2.Load(&buf)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if n != 2 {
		t.Fatalf("Load() = %d edges, want 2", n)
	}
	source, target, verb, ok := idx2.Edge("e1")
	if !ok || source != "a" || target != "b" || verb != types.VerbRelatedTo {
		t.Fatalf("Edge(e1) after Load = (%s,%s,%s,%v), want (a,b,RelatedTo,true)", source, target, verb, ok)
	}
	if idx2.VerbCount(types.VerbDependsOn) != 1 {
		t.Fatalf("VerbCount(DependsOn) after Load = %d, want 1", idx2.VerbCount(types.VerbDependsOn))
	}
}
