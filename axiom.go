// Package axiom wires configuration, storage, the three in-memory indexes,
// and the unified cache into a ready-to-use Entity Engine -- the root
// facade analogous to opening a store handle.
package axiom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/axiomgraph/axiom/pkg/cache"
	"github.com/axiomgraph/axiom/pkg/config"
	"github.com/axiomgraph/axiom/pkg/engine"
	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/graphindex"
	"github.com/axiomgraph/axiom/pkg/logging"
	"github.com/axiomgraph/axiom/pkg/metaindex"
	"github.com/axiomgraph/axiom/pkg/realtime"
	"github.com/axiomgraph/axiom/pkg/resource"
	"github.com/axiomgraph/axiom/pkg/storage"
	"github.com/axiomgraph/axiom/pkg/types"
	"github.com/axiomgraph/axiom/pkg/vectorindex"
	"github.com/axiomgraph/axiom/pkg/walog"
)

// Engine is the opened handle returned by Open: an alias of engine.Engine,
// whose exported methods (stats, flush, add/search/find, ...) serve
// CLI/operator use. The indexes Open wired it from are not exposed.
type Engine = engine.Engine

// Options supplies the pieces Open cannot derive from config alone: the
// embedder function and an optional logger.
type Options struct {
	Embedder engine.Embedder
	Logger   logging.Logger
	Env      resource.Environment
}

// Open builds a storage adapter from cfg.Storage, sizes the cache via the
// resource sensor (or cfg.Cache.MaxSize when auto-tune is off), constructs
// the three indexes, and returns a ready Engine.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewStdLogger(logging.LevelInfo)
	}
	if opts.Embedder == nil {
		return nil, errs.Wrap("axiom.open", errs.InvalidInput)
	}

	adapter, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var cacheBytes int64 = cfg.Cache.MaxSize
	if cfg.Cache.AutoTune {
		sensor := resource.New(opts.Env, opts.Logger)
		cacheBytes = sensor.CacheBudgetBytes()
	}

	vecCfg := vectorindex.DefaultConfig(cfg.Vectors.Dimensions)
	vec := vectorindex.New(vecCfg)
	if blob, err := adapter.LoadIndexBlob(ctx, "index.json"); err == nil && blob != nil {
		if skipped, err := vec.Load(bytes.NewReader(blob)); err != nil {
			opts.Logger.Warn("failed to load persisted HNSW index", "error", err)
		} else if skipped > 0 {
			opts.Logger.Warn("skipped persisted HNSW nodes with a mismatched vector dimension", "skipped", skipped)
		}
	}

	meta := metaindex.New(metaindex.Config{
		IndexedFields:       cfg.MetadataIndex.IndexedFields,
		ExcludeFields:       cfg.MetadataIndex.ExcludeFields,
		MaxPostingsPerValue: cfg.MetadataIndex.MaxIndexSize,
		AutoOptimize:        cfg.MetadataIndex.AutoOptimize,
	})
	if blob, err := adapter.LoadIndexBlob(ctx, "metadata-index.json"); err == nil && blob != nil {
		if _, err := meta.Load(bytes.NewReader(blob)); err != nil {
			opts.Logger.Warn("failed to load persisted metadata index", "error", err)
		}
	}

	graph := graphindex.New()
	if blob, err := adapter.LoadIndexBlob(ctx, "graph-adjacency.json"); err == nil && blob != nil {
		if _, err := graph.Load(bytes.NewReader(blob)); err != nil {
			opts.Logger.Warn("failed to load persisted graph adjacency", "error", err)
		}
	}

	c := cache.New(cacheBytes)
	wal := walog.New(adapter, 1)

	maxSeq, err := replayWAL(ctx, adapter, vec, meta, graph)
	if err != nil {
		opts.Logger.Warn("WAL replay failed", "error", err)
	} else if maxSeq > 0 {
		wal.FastForward(maxSeq)
	}

	engCfg := engine.Config{
		Dedup: engine.DedupConfig{Enabled: true},
		VerbScoring: engine.VerbScoringConfig{
			Enabled:        cfg.IntelligentVerbScoring.Enabled,
			Semantic:       cfg.IntelligentVerbScoring.Semantic,
			Frequency:      cfg.IntelligentVerbScoring.Frequency,
			Temporal:       cfg.IntelligentVerbScoring.Temporal,
			BaseConfidence: cfg.IntelligentVerbScoring.BaseConfidence,
			LearningRate:   cfg.IntelligentVerbScoring.LearningRate,
		},
		Service: cfg.DefaultService,
	}
	eng := engine.New(adapter, vec, meta, graph, c, wal, opts.Logger, opts.Embedder, engCfg)

	if cfg.ReadOnly {
		eng.SetMode(engine.ModeReadOnly)
	}
	if cfg.Frozen {
		eng.SetMode(engine.ModeFrozen)
	}

	if cfg.RealtimeUpdates.Enabled && cfg.Storage.Type == "filesystem" {
		interval := time.Duration(cfg.RealtimeUpdates.Interval) * time.Millisecond
		if interval <= 0 {
			interval = time.Second
		}
		watcher, err := realtime.New(cfg.Storage.Root, interval, opts.Logger)
		if err != nil {
			opts.Logger.Warn("realtime updates disabled: failed to start watcher", "error", err)
		} else {
			go watcher.Run(func(name string) {
				if err := eng.Reload(ctx, name); err != nil {
					opts.Logger.Warn("realtime reload failed", "name", name, "error", err)
				}
			}, ctx.Done())
		}
	}

	return eng, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Adapter, error) {
	var adapter storage.Adapter
	switch cfg.Type {
	case "", "memory":
		adapter = storage.NewMemory()
	case "filesystem":
		fs, err := storage.NewFilesystem(cfg.Root)
		if err != nil {
			return nil, err
		}
		adapter = fs
	case "s3", "gcs", "r2":
		s3, err := storage.NewS3(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
		if err != nil {
			return nil, err
		}
		adapter = s3
	case "opfs":
		// Browser origin-private filesystem has no server-side Go runtime;
		// callers targeting wasm/js supply their own Adapter instead of
		// routing through Open.
		return nil, fmt.Errorf("axiom: storage.type=opfs is only available via a js/wasm-side Adapter")
	default:
		return nil, fmt.Errorf("axiom: unknown storage.type %q", cfg.Type)
	}
	if cfg.Prefix != "" {
		adapter = adapter.WithPrefix(cfg.Prefix)
	}
	return adapter, nil
}

// replayWAL re-applies every WAL record still on storage against the
// freshly loaded indexes, recovering any mutation that happened after the
// last Checkpoint's index-blob snapshot but before a crash (spec §4.6,
// §7). It returns the highest sequence number found, so the caller can
// fast-forward the live Log past it.
func replayWAL(ctx context.Context, adapter storage.Adapter, vec *vectorindex.HNSW, meta *metaindex.Index, graph *graphindex.Index) (uint64, error) {
	names, err := adapter.ListIndexBlobs(ctx, "wal")
	if err != nil {
		return 0, err
	}

	var records []walog.Record
	var maxSeq uint64
	for _, name := range names {
		if strings.Contains(name, ".replica") {
			continue // replicas duplicate a primary record under a second key
		}
		blob, err := adapter.LoadIndexBlob(ctx, name)
		if err != nil || blob == nil {
			continue
		}
		var rec walog.Record
		if err := json.Unmarshal(blob, &rec); err != nil {
			continue
		}
		records = append(records, rec)
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	r := &indexReplayer{ctx: ctx, adapter: adapter, vec: vec, meta: meta, graph: graph}
	if err := walog.Replay(records, r); err != nil {
		return maxSeq, err
	}
	return maxSeq, nil
}

// indexReplayer applies WAL records against the in-memory indexes on
// startup, mirroring engine.Engine's own mutation order for each kind (in
// particular Delete's graph-before-vector-and-metadata cascade).
type indexReplayer struct {
	ctx     context.Context
	adapter storage.Adapter
	vec     *vectorindex.HNSW
	meta    *metaindex.Index
	graph   *graphindex.Index
}

func (r *indexReplayer) Apply(rec walog.Record) error {
	switch rec.Kind {
	case walog.KindAddNoun:
		if err := r.vec.Insert(rec.EntityID, rec.Vector, rec.NounType); err != nil {
			return err
		}
		r.meta.Put(rec.EntityID, rec.Metadata)
	case walog.KindUpdateMetadata:
		// The WAL record carries only the patch passed to Update, not the
		// merged result; re-derive the merged doc the same way Update does so
		// a crash between WAL-append and the storage write doesn't leave the
		// metadata index holding a bare patch instead of the full document.
		merged := rec.Metadata
		if existing, _ := r.adapter.GetNounMetadata(r.ctx, rec.EntityID, storage.ReadOpts{}); existing != nil {
			merged = types.Doc(existing.Metadata).Merge(rec.Metadata)
		}
		r.meta.Put(rec.EntityID, merged)
	case walog.KindDeleteNoun:
		r.graph.RemoveEntity(rec.EntityID)
		_ = r.vec.Delete(rec.EntityID)
		r.meta.Delete(rec.EntityID)
	case walog.KindAddVerb:
		r.graph.AddEdge(rec.EntityID, rec.SourceID, rec.TargetID, rec.Verb)
	case walog.KindDeleteVerb:
		r.graph.RemoveEdge(rec.EntityID)
	}
	return nil
}
