package metaindex

import (
	"bytes"
	"errors"
	"testing"

	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/types"
)

func newTestIndex() *Index {
	return New(Config{})
}

func mustQuery(t *testing.T, idx *Index, p Predicate) map[string]struct{} {
	t.Helper()
	got, err := idx.Query(p)
	if err != nil {
		t.Fatalf("Query(%+v) = %v, want no error", p, err)
	}
	return got
}

func TestEqAndExists(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"status": "active", "owner": types.Doc{"name": "ana"}})
	idx.Put("2", types.Doc{"status": "archived"})

	got := mustQuery(t, idx, Predicate{Field: "status", Op: OpEq, Value: "active"})
	if _, ok := got["1"]; !ok || len(got) != 1 {
		t.Fatalf("Query(status=active) = %v, want {1}", got)
	}

	got = mustQuery(t, idx, Predicate{Field: "owner.name", Op: OpExists})
	if _, ok := got["1"]; !ok || len(got) != 1 {
		t.Fatalf("Query(owner.name exists) = %v, want {1}", got)
	}
}

func TestRangeQueries(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"score": 10.0})
	idx.Put("2", types.Doc{"score": 20.0})
	idx.Put("3", types.Doc{"score": 30.0})

	got := mustQuery(t, idx, Predicate{Field: "score", Op: OpGte, Value: 20.0})
	if len(got) != 2 {
		t.Fatalf("Query(score>=20) = %v, want 2 ids", got)
	}
	got = mustQuery(t, idx, Predicate{Field: "score", Op: OpBetween, Low: 15.0, High: 25.0})
	if _, ok := got["2"]; !ok || len(got) != 1 {
		t.Fatalf("Query(score between 15,25) = %v, want {2}", got)
	}
}

func TestAndOrNot(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"status": "active", "tier": "gold"})
	idx.Put("2", types.Doc{"status": "active", "tier": "silver"})
	idx.Put("3", types.Doc{"status": "archived", "tier": "gold"})

	and := mustQuery(t, idx, Predicate{Op: OpAnd, Sub: []Predicate{
		{Field: "status", Op: OpEq, Value: "active"},
		{Field: "tier", Op: OpEq, Value: "gold"},
	}})
	if _, ok := and["1"]; !ok || len(and) != 1 {
		t.Fatalf("Query(status=active AND tier=gold) = %v, want {1}", and)
	}

	or := mustQuery(t, idx, Predicate{Op: OpOr, Sub: []Predicate{
		{Field: "tier", Op: OpEq, Value: "gold"},
		{Field: "tier", Op: OpEq, Value: "silver"},
	}})
	if len(or) != 3 {
		t.Fatalf("Query(tier=gold OR tier=silver) = %v, want 3 ids", or)
	}

	not := mustQuery(t, idx, Predicate{Op: OpNot, Sub: []Predicate{
		{Field: "status", Op: OpEq, Value: "active"},
	}})
	if _, ok := not["3"]; !ok || len(not) != 1 {
		t.Fatalf("Query(NOT status=active) = %v, want {3}", not)
	}
}

func TestScanOperators(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"name": "Project Axiom", "tags": []any{"go", "vector"}})

	got := mustQuery(t, idx, Predicate{Field: "name", Op: OpStartsWith, Value: "Project"})
	if _, ok := got["1"]; !ok {
		t.Fatalf("Query(name startsWith Project) = %v, want {1}", got)
	}
	got = mustQuery(t, idx, Predicate{Field: "tags", Op: OpIncludes, Value: "go"})
	if _, ok := got["1"]; !ok {
		t.Fatalf("Query(tags includes go) = %v, want {1}", got)
	}
	got = mustQuery(t, idx, Predicate{Field: "tags", Op: OpAll, Values: []any{"go", "vector"}})
	if _, ok := got["1"]; !ok {
		t.Fatalf("Query(tags all [go,vector]) = %v, want {1}", got)
	}
}

func TestRegexMatchesAndRejectsInvalidPattern(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"name": "Project Axiom"})
	idx.Put("2", types.Doc{"name": "Something Else"})

	got := mustQuery(t, idx, Predicate{Field: "name", Op: OpRegex, Value: "^Project"})
	if _, ok := got["1"]; !ok || len(got) != 1 {
		t.Fatalf("Query(name regex ^Project) = %v, want {1}", got)
	}

	_, err := idx.Query(Predicate{Field: "name", Op: OpRegex, Value: "(unterminated"})
	if !errors.Is(err, errs.InvalidInput) {
		t.Fatalf("Query() with an invalid regex = %v, want errs.InvalidInput", err)
	}

	_, err = idx.Query(Predicate{Op: OpAnd, Sub: []Predicate{
		{Field: "name", Op: OpRegex, Value: "(unterminated"},
	}})
	if !errors.Is(err, errs.InvalidInput) {
		t.Fatalf("Query() with an invalid regex nested under AND = %v, want errs.InvalidInput", err)
	}
}

func TestDeleteRemovesPostings(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"status": "active"})
	idx.Delete("1")

	got := mustQuery(t, idx, Predicate{Field: "status", Op: OpEq, Value: "active"})
	if len(got) != 0 {
		t.Fatalf("Query() after Delete = %v, want empty", got)
	}
}

func TestExcludedFieldNotIndexed(t *testing.T) {
	idx := New(Config{ExcludeFields: []string{"secret"}})
	idx.Put("1", types.Doc{"secret": "shh", "visible": "yes"})

	got := mustQuery(t, idx, Predicate{Field: "secret", Op: OpExists})
	if len(got) != 0 {
		t.Fatalf("Query(secret exists) = %v, want empty (excluded field)", got)
	}
	got = mustQuery(t, idx, Predicate{Field: "visible", Op: OpExists})
	if _, ok := got["1"]; !ok {
		t.Fatalf("Query(visible exists) = %v, want {1}", got)
	}
}

func TestStatsTopValues(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"tier": "gold"})
	idx.Put("2", types.Doc{"tier": "gold"})
	idx.Put("3", types.Doc{"tier": "silver"})

	stats := idx.Stats("tier", 1)
	if len(stats.TopValues) != 1 || stats.TopValues[0].Count != 2 {
		t.Fatalf("Stats(tier, top1) = %+v, want top value count 2", stats)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := newTestIndex()
	idx.Put("1", types.Doc{"status": "active", "score": 5.0})
	idx.Put("2", types.Doc{"status": "archived", "score": 9.0})

	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		t.Fatalf("Save() = %v", err)
	}

	idx2 := newTestIndex()
	n, err := idx2.Load(&buf)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if n != 2 {
		t.Fatalf("Load() = %d docs, want 2", n)
	}
	got := mustQuery(t, idx2, Predicate{Field: "status", Op: OpEq, Value: "active"})
	if _, ok := got["1"]; !ok || len(got) != 1 {
		t.Fatalf("Query() after Load = %v, want {1}", got)
	}
	rangeGot := mustQuery(t, idx2, Predicate{Field: "score", Op: OpGt, Value: 6.0})
	if _, ok := rangeGot["2"]; !ok || len(rangeGot) != 1 {
		t.Fatalf("Query(score>6) after Load = %v, want {2} (numeric index rebuilt)", rangeGot)
	}
}
