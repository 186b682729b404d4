package storage

import (
	"context"
	"testing"
)

// runAdapterConformance exercises the Adapter contract identically across
// every backend variant, so a bug specific to one implementation surfaces
// against the same fixture the others pass.
func runAdapterConformance(t *testing.T, newAdapter func() Adapter) {
	t.Helper()
	ctx := context.Background()

	t.Run("NounRoundTrip", func(t *testing.T) {
		a := newAdapter()
		rec := NounRecord{ID: "n1", Type: "Document", Vector: []float32{1, 2, 3}}
		if err := a.SaveNoun(ctx, "n1", rec); err != nil {
			t.Fatalf("SaveNoun() = %v", err)
		}
		got, err := a.GetNoun(ctx, "n1")
		if err != nil || got == nil || got.ID != "n1" {
			t.Fatalf("GetNoun() = (%+v,%v), want matching record", got, err)
		}
		if err := a.DeleteNoun(ctx, "n1"); err != nil {
			t.Fatalf("DeleteNoun() = %v", err)
		}
		got, err = a.GetNoun(ctx, "n1")
		if err != nil || got != nil {
			t.Fatalf("GetNoun() after Delete = (%+v,%v), want (nil,nil)", got, err)
		}
	})

	t.Run("GetMissingReturnsNilNotError", func(t *testing.T) {
		a := newAdapter()
		got, err := a.GetNoun(ctx, "missing")
		if err != nil || got != nil {
			t.Fatalf("GetNoun(missing) = (%+v,%v), want (nil,nil)", got, err)
		}
	})

	t.Run("VerbRoundTripAndBySourceTarget", func(t *testing.T) {
		a := newAdapter()
		if err := a.SaveVerb(ctx, "e1", VerbRecord{ID: "e1", SourceID: "a", TargetID: "b", Verb: "relatedTo"}); err != nil {
			t.Fatalf("SaveVerb() = %v", err)
		}
		res, err := a.ListVerbsBySource(ctx, "a", Page{Limit: 10})
		if err != nil || len(res.IDs) != 1 || res.IDs[0] != "e1" {
			t.Fatalf("ListVerbsBySource(a) = (%+v,%v), want {e1}", res, err)
		}
		res, err = a.ListVerbsByTarget(ctx, "b", Page{Limit: 10})
		if err != nil || len(res.IDs) != 1 || res.IDs[0] != "e1" {
			t.Fatalf("ListVerbsByTarget(b) = (%+v,%v), want {e1}", res, err)
		}
		if err := a.DeleteVerb(ctx, "e1"); err != nil {
			t.Fatalf("DeleteVerb() = %v", err)
		}
		res, err = a.ListVerbsBySource(ctx, "a", Page{Limit: 10})
		if err != nil || len(res.IDs) != 0 {
			t.Fatalf("ListVerbsBySource(a) after Delete = (%+v,%v), want empty", res, err)
		}
	})

	t.Run("MetadataRoundTrip", func(t *testing.T) {
		a := newAdapter()
		doc := MetadataRecord{ID: "n1", Name: "Alpha", Metadata: map[string]any{"tier": "gold"}}
		if err := a.SaveNounMetadata(ctx, "n1", doc); err != nil {
			t.Fatalf("SaveNounMetadata() = %v", err)
		}
		got, err := a.GetNounMetadata(ctx, "n1", ReadOpts{})
		if err != nil || got == nil || got.Name != "Alpha" {
			t.Fatalf("GetNounMetadata() = (%+v,%v), want Name=Alpha", got, err)
		}
	})

	t.Run("ListNounsPaginates", func(t *testing.T) {
		a := newAdapter()
		for _, id := range []string{"a", "b", "c", "d", "e"} {
			if err := a.SaveNoun(ctx, id, NounRecord{ID: id}); err != nil {
				t.Fatalf("SaveNoun(%s) = %v", id, err)
			}
		}
		page1, err := a.ListNouns(ctx, Page{Limit: 2})
		if err != nil || len(page1.IDs) != 2 || page1.NextCursor == "" {
			t.Fatalf("ListNouns() page1 = (%+v,%v), want 2 ids with a cursor", page1, err)
		}
		page2, err := a.ListNouns(ctx, Page{Cursor: page1.NextCursor, Limit: 2})
		if err != nil || len(page2.IDs) != 2 {
			t.Fatalf("ListNouns() page2 = (%+v,%v), want 2 ids", page2, err)
		}
		if page1.IDs[0] == page2.IDs[0] {
			t.Fatalf("ListNouns() page1 and page2 overlap: %v vs %v", page1.IDs, page2.IDs)
		}
	})

	t.Run("IndexBlobRoundTrip", func(t *testing.T) {
		a := newAdapter()
		if err := a.SaveIndexBlob(ctx, "index.json", []byte(`{"d":3}`)); err != nil {
			t.Fatalf("SaveIndexBlob() = %v", err)
		}
		data, err := a.LoadIndexBlob(ctx, "index.json")
		if err != nil || string(data) != `{"d":3}` {
			t.Fatalf("LoadIndexBlob() = (%q,%v), want {\"d\":3}", data, err)
		}
		missing, err := a.LoadIndexBlob(ctx, "missing.json")
		if err != nil || missing != nil {
			t.Fatalf("LoadIndexBlob(missing) = (%v,%v), want (nil,nil)", missing, err)
		}
	})

	t.Run("ListAndDeleteIndexBlobs", func(t *testing.T) {
		a := newAdapter()
		if err := a.SaveIndexBlob(ctx, "wal/00000000000000000001.json", []byte(`{"seq":1}`)); err != nil {
			t.Fatalf("SaveIndexBlob() = %v", err)
		}
		if err := a.SaveIndexBlob(ctx, "wal/00000000000000000002.json", []byte(`{"seq":2}`)); err != nil {
			t.Fatalf("SaveIndexBlob() = %v", err)
		}
		if err := a.SaveIndexBlob(ctx, "index.json", []byte(`{"d":3}`)); err != nil {
			t.Fatalf("SaveIndexBlob() = %v", err)
		}

		names, err := a.ListIndexBlobs(ctx, "wal")
		if err != nil {
			t.Fatalf("ListIndexBlobs(wal) = %v", err)
		}
		if len(names) != 2 {
			t.Fatalf("ListIndexBlobs(wal) = %v, want 2 names (not index.json)", names)
		}

		for _, name := range names {
			data, err := a.LoadIndexBlob(ctx, name)
			if err != nil || data == nil {
				t.Fatalf("LoadIndexBlob(%s) = (%q,%v), want the blob ListIndexBlobs just named", name, data, err)
			}
			if err := a.DeleteIndexBlob(ctx, name); err != nil {
				t.Fatalf("DeleteIndexBlob(%s) = %v", name, err)
			}
		}

		remaining, err := a.ListIndexBlobs(ctx, "wal")
		if err != nil || len(remaining) != 0 {
			t.Fatalf("ListIndexBlobs(wal) after deleting all = (%v,%v), want none", remaining, err)
		}
		if data, err := a.LoadIndexBlob(ctx, "index.json"); err != nil || data == nil {
			t.Fatalf("LoadIndexBlob(index.json) after deleting wal/* = (%q,%v), want untouched", data, err)
		}
	})

	t.Run("WithPrefixScopesKeys", func(t *testing.T) {
		a := newAdapter()
		scoped := a.WithPrefix("tenant-1")
		if err := scoped.SaveNoun(ctx, "n1", NounRecord{ID: "n1"}); err != nil {
			t.Fatalf("SaveNoun() under prefix = %v", err)
		}
		if got, _ := a.GetNoun(ctx, "n1"); got != nil {
			t.Fatalf("GetNoun(n1) on unscoped adapter = %+v, want nil (prefix isolation)", got)
		}
		if got, _ := scoped.GetNoun(ctx, "n1"); got == nil {
			t.Fatal("GetNoun(n1) on scoped adapter = nil, want the saved record")
		}
	})
}

func TestMemoryAdapterConformance(t *testing.T) {
	runAdapterConformance(t, func() Adapter { return NewMemory() })
}

func TestFilesystemAdapterConformance(t *testing.T) {
	runAdapterConformance(t, func() Adapter {
		a, err := NewFilesystem(t.TempDir())
		if err != nil {
			t.Fatalf("NewFilesystem() = %v", err)
		}
		return a
	})
}

func TestS3AdapterConformance(t *testing.T) {
	runAdapterConformance(t, func() Adapter {
		return &S3{client: newFakeS3Client(), bucket: "test-bucket"}
	})
}
