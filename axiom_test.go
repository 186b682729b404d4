package axiom

import (
	"context"
	"errors"
	"testing"

	"github.com/axiomgraph/axiom/pkg/config"
	"github.com/axiomgraph/axiom/pkg/engine"
	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/metaindex"
	"github.com/axiomgraph/axiom/pkg/types"
)

func stubEmbedder(_ context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, float32(len(text) % 2)}, nil
}

func baseConfig() config.Config {
	return config.Config{
		Storage: config.StorageConfig{Type: "memory"},
		Vectors: config.VectorsConfig{Dimensions: 4},
		Cache:   config.CacheConfig{MaxSize: 1 << 20, AutoTune: false},
	}
}

func TestOpenRequiresEmbedder(t *testing.T) {
	_, err := Open(context.Background(), baseConfig(), Options{})
	if !errors.Is(err, errs.InvalidInput) {
		t.Fatalf("Open() without an embedder = %v, want errs.InvalidInput", err)
	}
}

func TestOpenRejectsUnknownStorageType(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage.Type = "not-a-real-backend"
	_, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err == nil {
		t.Fatal("Open() with unknown storage.type = nil, want an error")
	}
}

func TestOpenMemoryAndEngineRoundTrip(t *testing.T) {
	eng, err := Open(context.Background(), baseConfig(), Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	ctx := context.Background()
	id, err := eng.Add(ctx, "hello", types.NounDocument, types.Doc{"tier": "gold"}, engine.AddOpts{})
	if err != nil {
		t.Fatalf("Add() = %v", err)
	}
	n, err := eng.Get(ctx, id, engine.GetOpts{})
	if err != nil || n == nil || n.Data != "hello" {
		t.Fatalf("Get() = (%+v,%v), want the added entity", n, err)
	}
}

func TestOpenFilesystemAndFlushPersistsIndexBlobs(t *testing.T) {
	root := t.TempDir()
	cfg := baseConfig()
	cfg.Storage.Type = "filesystem"
	cfg.Storage.Root = root

	eng, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	ctx := context.Background()
	if _, err := eng.Add(ctx, "hello", types.NounDocument, nil, engine.AddOpts{}); err != nil {
		t.Fatalf("Add() = %v", err)
	}
	if err := eng.Flush(ctx); err != nil {
		t.Fatalf("Flush() = %v", err)
	}

	// reopening over the same root must recover the persisted entity
	eng2, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() (reopen) = %v", err)
	}
	results, err := eng2.SearchVector(ctx, []float32{1, 0, 0, 1}, 1, engine.SearchOpts{})
	if err != nil {
		t.Fatalf("SearchVector() after reopen = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("SearchVector() after reopen = %+v, want the persisted entity to be searchable", results)
	}
}

func TestOpenReplaysWALForUncheckpointedWrites(t *testing.T) {
	root := t.TempDir()
	cfg := baseConfig()
	cfg.Storage.Type = "filesystem"
	cfg.Storage.Root = root

	eng, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	ctx := context.Background()
	id, err := eng.Add(ctx, "hello", types.NounDocument, types.Doc{"tier": "gold"}, engine.AddOpts{})
	if err != nil {
		t.Fatalf("Add() = %v", err)
	}
	// deliberately no Flush(): recovery must come from the WAL, not an
	// index-blob snapshot.

	eng2, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() (reopen without a prior flush) = %v", err)
	}
	n, err := eng2.Get(ctx, id, engine.GetOpts{})
	if err != nil || n == nil {
		t.Fatalf("Get() after reopen without flush = (%+v,%v), want the entity recovered from the WAL", n, err)
	}
	results, err := eng2.SearchVector(ctx, []float32{1, 0, 0, 1}, 1, engine.SearchOpts{})
	if err != nil {
		t.Fatalf("SearchVector() after reopen without flush = %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("SearchVector() after reopen without flush = %+v, want WAL-replayed entity %s searchable", results, id)
	}

	matched, err := eng2.Find(ctx, engine.FindQuery{Where: &metaindex.Predicate{Field: "tier", Op: metaindex.OpEq, Value: "gold"}})
	if err != nil {
		t.Fatalf("Find() after reopen without flush = %v", err)
	}
	if len(matched) != 1 || matched[0].ID != id {
		t.Fatalf("Find() after reopen without flush = %+v, want WAL-replayed metadata queryable", matched)
	}
}

func TestOpenAppliesReadOnlyAndFrozenModes(t *testing.T) {
	cfg := baseConfig()
	cfg.ReadOnly = true
	eng, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if _, err := eng.Add(context.Background(), "x", types.NounDocument, nil, engine.AddOpts{}); !errors.Is(err, errs.ReadOnly) {
		t.Fatalf("Add() on a readOnly-opened engine = %v, want errs.ReadOnly", err)
	}

	cfg = baseConfig()
	cfg.Frozen = true
	eng, err = Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	if _, err := eng.Add(context.Background(), "x", types.NounDocument, nil, engine.AddOpts{}); !errors.Is(err, errs.Frozen) {
		t.Fatalf("Add() on a frozen-opened engine = %v, want errs.Frozen", err)
	}
}

func TestOpenOPFSIsUnsupportedServerSide(t *testing.T) {
	cfg := baseConfig()
	cfg.Storage.Type = "opfs"
	_, err := Open(context.Background(), cfg, Options{Embedder: stubEmbedder})
	if err == nil {
		t.Fatal("Open() with storage.type=opfs = nil, want an error (server-side unsupported)")
	}
}
