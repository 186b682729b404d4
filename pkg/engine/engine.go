// Package engine implements the Entity Engine facade (C7 — spec §4.7), the
// add/get/update/delete/relate/find/search contract wired over the storage
// adapter (C1) and the three in-memory indexes (C2/C3/C4) fronted by the
// unified cache (C5) and protected by the write-ahead log (C6).
package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axiomgraph/axiom/pkg/cache"
	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/graphindex"
	"github.com/axiomgraph/axiom/pkg/logging"
	"github.com/axiomgraph/axiom/pkg/metaindex"
	"github.com/axiomgraph/axiom/pkg/storage"
	"github.com/axiomgraph/axiom/pkg/types"
	"github.com/axiomgraph/axiom/pkg/vectorindex"
	"github.com/axiomgraph/axiom/pkg/walog"
)

// Embedder turns text into a fixed-length vector. It is supplied by the
// caller; the engine never trains or hosts one (spec §1 Non-goals).
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Mode is the engine's operating mode (spec §4.7).
type Mode int

const (
	ModeNormal Mode = iota
	ModeReadOnly
	ModeFrozen
)

// DedupConfig tunes add-time deduplication.
type DedupConfig struct {
	Enabled   bool
	Threshold int     // defaulted to 100 but not read: dedup is never auto-disabled by batch size
	Similarity float64 // cosine-similarity floor to merge (default 0.85)
}

// VerbScoringConfig tunes intelligent verb scoring (spec §4.7, off by
// default).
type VerbScoringConfig struct {
	Enabled        bool
	Semantic       bool
	Frequency      bool
	Temporal       bool
	BaseConfidence float64
	LearningRate   float64
}

// Config bundles the engine's tunables.
type Config struct {
	Dedup       DedupConfig
	VerbScoring VerbScoringConfig
	Service     string
}

// Engine is the C7 facade. All exported methods are safe for concurrent
// use; the mode flag is guarded separately from the index-level locks each
// of C2/C3/C4/C5 already holds internally.
type Engine struct {
	modeMu sync.RWMutex
	mode   Mode

	cfg     Config
	storage storage.Adapter
	vec     *vectorindex.HNSW
	meta    *metaindex.Index
	graph   *graphindex.Index
	cache   *cache.Cache
	wal     *walog.Log
	log     logging.Logger
	embed   Embedder

	statsMu   sync.Mutex
	nounCount map[types.NounType]int
	verbCount map[types.VerbType]int
	byService map[string]*serviceStats
	lastFlush time.Time

	verbPriorMu sync.Mutex
	verbPrior   map[string]float64 // (sourceType,verb,targetType) -> learned prior

	drain sync.WaitGroup // in-flight writers, used by Freeze/SetReadOnly to wait for drain
}

type serviceStats struct {
	totalNouns, totalVerbs            int
	adds, updates, deletes, errorCount int
	firstActivity, lastActivity       time.Time
}

// New wires an Engine over the given components.
func New(st storage.Adapter, vec *vectorindex.HNSW, meta *metaindex.Index, graph *graphindex.Index, c *cache.Cache, wal *walog.Log, log logging.Logger, embed Embedder, cfg Config) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	if cfg.Dedup.Threshold == 0 {
		cfg.Dedup.Threshold = 100
	}
	if cfg.Dedup.Similarity == 0 {
		cfg.Dedup.Similarity = 0.85
	}
	if cfg.VerbScoring.BaseConfidence == 0 {
		cfg.VerbScoring.BaseConfidence = 0.5
	}
	return &Engine{
		cfg:       cfg,
		storage:   st,
		vec:       vec,
		meta:      meta,
		graph:     graph,
		cache:     c,
		wal:       wal,
		log:       log,
		embed:     embed,
		nounCount: make(map[types.NounType]int),
		verbCount: make(map[types.VerbType]int),
		byService: make(map[string]*serviceStats),
		verbPrior: make(map[string]float64),
	}
}

// SetMode transitions the engine's mode under a writer lock, blocking until
// any in-flight writers drain (spec §5 freeze/read-only transitions).
func (e *Engine) SetMode(m Mode) {
	e.modeMu.Lock()
	e.mode = m
	e.modeMu.Unlock()
	e.drain.Wait()
}

func (e *Engine) checkWritable() error {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	switch e.mode {
	case ModeFrozen:
		return errs.Wrap("engine", errs.Frozen)
	case ModeReadOnly:
		return errs.Wrap("engine", errs.ReadOnly)
	}
	return nil
}

func (e *Engine) beginWrite() func() {
	e.drain.Add(1)
	return e.drain.Done
}

// AddOpts configures a single add call.
type AddOpts struct {
	Service  string
	NoDedup  bool
	Metadata types.Doc
}

// Add embeds data, persists the entity, inserts it into the HNSW and
// metadata indexes, and returns the new id.
func (e *Engine) Add(ctx context.Context, data string, nounType types.NounType, metadata types.Doc, opts AddOpts) (string, error) {
	if err := e.checkWritable(); err != nil {
		return "", err
	}
	if !types.ValidNounType(nounType) {
		return "", errs.Wrap("engine.add", errs.InvalidInput)
	}
	done := e.beginWrite()
	defer done()

	vector, err := e.embed(ctx, data)
	if err != nil {
		return "", errs.Wrap("engine.add.embed", errs.InvalidInput)
	}

	if e.cfg.Dedup.Enabled && !opts.NoDedup {
		if existing, ok, err := e.findDuplicate(ctx, vector, nounType, metadata); err != nil {
			return "", err
		} else if ok {
			return existing, nil
		}
	}

	id := uuid.NewString()
	service := opts.Service
	if service == "" {
		service = e.cfg.Service
	}
	now := time.Now()

	if _, err := e.wal.Append(ctx, walog.Record{Kind: walog.KindAddNoun, EntityID: id, NounType: nounType, Vector: vector, Metadata: metadata}); err != nil {
		return "", errs.WrapKey("engine.add.wal", id, errs.StorageUnavailable)
	}

	if err := e.vec.Insert(id, vector, nounType); err != nil {
		return "", err
	}
	e.meta.Put(id, metadata)

	rec := storage.NounRecord{ID: id, Type: string(nounType), Vector: vector}
	if err := e.storage.SaveNoun(ctx, id, rec); err != nil {
		return "", errs.WrapKey("engine.add.storage", id, errs.StorageUnavailable)
	}
	metaRec := storage.MetadataRecord{ID: id, Type: string(nounType), Data: data, CreatedAt: now.Format(time.RFC3339Nano), Service: service, Metadata: metadata}
	if err := e.storage.SaveNounMetadata(ctx, id, metaRec); err != nil {
		return "", errs.WrapKey("engine.add.storage", id, errs.StorageUnavailable)
	}

	e.cache.Put(cache.VariantVector, id, vector, int64(len(vector)*4))
	e.cache.Put(cache.VariantMetadata, id, metaRec, 0)

	e.recordAdd(nounType, service, now)
	return id, nil
}

func (e *Engine) findDuplicate(ctx context.Context, vector []float32, nounType types.NounType, metadata types.Doc) (string, bool, error) {
	if e.vec.Size() == 0 {
		return "", false, nil
	}
	results, err := e.vec.Search(vector, 1, 0, []types.NounType{nounType})
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 {
		return "", false, nil
	}
	similarity := 1 - results[0].Distance
	if similarity < e.cfg.Dedup.Similarity {
		return "", false, nil
	}
	id := results[0].ID
	if metadata != nil {
		existing, _ := e.storage.GetNounMetadata(ctx, id, storage.ReadOpts{})
		if existing != nil {
			merged := types.Doc(existing.Metadata).Merge(metadata)
			existing.Metadata = merged
			_ = e.storage.SaveNounMetadata(ctx, id, *existing)
			e.meta.Put(id, merged)
			e.cache.Put(cache.VariantMetadata, id, *existing, 0)
		}
	}
	return id, true, nil
}

// GetOpts controls whether Get materializes the vector.
type GetOpts struct {
	IncludeVector bool
}

// Get returns the entity, or nil if it does not exist. Get never fails on a
// missing id.
func (e *Engine) Get(ctx context.Context, id string, opts GetOpts) (*types.Noun, error) {
	metaRec, err := e.storage.GetNounMetadata(ctx, id, storage.ReadOpts{IncludeVector: opts.IncludeVector})
	if err != nil {
		return nil, err
	}
	if metaRec == nil {
		return nil, nil
	}
	n := &types.Noun{
		ID:       id,
		Type:     types.NounType(metaRec.Type),
		Data:     metaRec.Data,
		Metadata: metaRec.Metadata,
		Service:  metaRec.Service,
	}
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, metaRec.CreatedAt)

	if opts.IncludeVector {
		if cached, ok := e.cache.Get(cache.VariantVector, id); ok {
			n.Vector, _ = cached.([]float32)
		} else {
			rec, err := e.storage.GetNoun(ctx, id)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				n.Vector = rec.Vector
				e.cache.Put(cache.VariantVector, id, rec.Vector, int64(len(rec.Vector)*4))
			}
		}
	}
	return n, nil
}

// Update merges patch into the entity's metadata; the payload and vector
// are immutable after creation.
func (e *Engine) Update(ctx context.Context, id string, patch types.Doc) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	done := e.beginWrite()
	defer done()

	metaRec, err := e.storage.GetNounMetadata(ctx, id, storage.ReadOpts{})
	if err != nil {
		return err
	}
	if metaRec == nil {
		return errs.WrapKey("engine.update", id, errs.EntityNotFound)
	}

	if _, err := e.wal.Append(ctx, walog.Record{Kind: walog.KindUpdateMetadata, EntityID: id, Metadata: patch}); err != nil {
		return errs.WrapKey("engine.update.wal", id, errs.StorageUnavailable)
	}

	merged := types.Doc(metaRec.Metadata).Merge(patch)
	metaRec.Metadata = merged
	if err := e.storage.SaveNounMetadata(ctx, id, *metaRec); err != nil {
		return errs.WrapKey("engine.update.storage", id, errs.StorageUnavailable)
	}
	e.meta.Put(id, merged)
	e.cache.Put(cache.VariantMetadata, id, *metaRec, 0)

	e.recordUpdate(metaRec.Service)
	return nil
}

// Delete removes the entity, its metadata postings, HNSW links, and
// incident edges. Double-delete is a no-op.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.checkWritable(); err != nil {
		return err
	}
	done := e.beginWrite()
	defer done()

	metaRec, _ := e.storage.GetNounMetadata(ctx, id, storage.ReadOpts{})

	if _, err := e.wal.Append(ctx, walog.Record{Kind: walog.KindDeleteNoun, EntityID: id}); err != nil {
		return errs.WrapKey("engine.delete.wal", id, errs.StorageUnavailable)
	}

	removedEdges := e.graph.RemoveEntity(id)
	for _, eid := range removedEdges {
		_ = e.storage.DeleteVerb(ctx, eid)
		_ = e.storage.DeleteVerbMetadata(ctx, eid)
		e.cache.Invalidate(cache.VariantVector, eid)
		e.cache.Invalidate(cache.VariantMetadata, eid)
	}

	_ = e.vec.Delete(id)
	e.meta.Delete(id)
	_ = e.storage.DeleteNoun(ctx, id)
	_ = e.storage.DeleteNounMetadata(ctx, id)
	e.cache.Invalidate(cache.VariantVector, id)
	e.cache.Invalidate(cache.VariantMetadata, id)
	e.cache.Invalidate(cache.VariantHnswNode, id)

	if metaRec != nil {
		e.recordDelete(metaRec.Service)
	}
	return nil
}

// RelateOpts configures a relate call.
type RelateOpts struct {
	Weight     float64
	Confidence float64
	Metadata   types.Doc
	Service    string
}

// Relate creates a directed edge, deduplicating on (from, to, verb).
func (e *Engine) Relate(ctx context.Context, from, to string, verb types.VerbType, opts RelateOpts) (string, error) {
	if err := e.checkWritable(); err != nil {
		return "", err
	}
	if !types.ValidVerbType(verb) {
		return "", errs.Wrap("engine.relate", errs.InvalidVerb)
	}
	done := e.beginWrite()
	defer done()

	fromNoun, err := e.Get(ctx, from, GetOpts{})
	if err != nil {
		return "", err
	}
	toNoun, err := e.Get(ctx, to, GetOpts{})
	if err != nil {
		return "", err
	}
	if fromNoun == nil || toNoun == nil {
		return "", errs.Wrap("engine.relate", errs.EntityNotFound)
	}

	id := uuid.NewString()
	if existing, added := e.graph.AddEdge(id, from, to, verb); !added {
		return existing, nil
	}

	weight, confidence := opts.Weight, opts.Confidence
	if weight == 0 {
		weight = e.defaultWeight(ctx, from, to, verb, fromNoun, toNoun)
		if confidence == 0 {
			confidence = e.cfg.VerbScoring.BaseConfidence
		}
	}

	if _, err := e.wal.Append(ctx, walog.Record{Kind: walog.KindAddVerb, EntityID: id, SourceID: from, TargetID: to, Verb: verb, Metadata: opts.Metadata, IsVerb: true}); err != nil {
		e.graph.RemoveEdge(id)
		return "", errs.WrapKey("engine.relate.wal", id, errs.StorageUnavailable)
	}

	service := opts.Service
	if service == "" {
		service = e.cfg.Service
	}
	if err := e.storage.SaveVerb(ctx, id, storage.VerbRecord{ID: id, SourceID: from, TargetID: to, Verb: string(verb), Weight: weight}); err != nil {
		return "", errs.WrapKey("engine.relate.storage", id, errs.StorageUnavailable)
	}
	if err := e.storage.SaveVerbMetadata(ctx, id, storage.MetadataRecord{ID: id, Service: service, CreatedAt: time.Now().Format(time.RFC3339Nano), Metadata: opts.Metadata}); err != nil {
		return "", errs.WrapKey("engine.relate.storage", id, errs.StorageUnavailable)
	}

	e.recordVerb(verb, service)
	return id, nil
}

// defaultWeight derives a weight when the caller does not supply one.
// Enabled only when VerbScoring.Enabled is set; otherwise returns 1.0 per
// spec §4.7's documented default.
func (e *Engine) defaultWeight(_ context.Context, from, to string, verb types.VerbType, fromNoun, toNoun *types.Noun) float64 {
	if !e.cfg.VerbScoring.Enabled {
		return 1.0
	}
	var score float64
	var parts float64

	if e.cfg.VerbScoring.Semantic {
		fv, fok := e.cache.Pin(cache.VariantVector, from)
		if fok {
			defer e.cache.Unpin(cache.VariantVector, from)
		}
		tv, tok := e.cache.Pin(cache.VariantVector, to)
		if tok {
			defer e.cache.Unpin(cache.VariantVector, to)
		}
		if fvec, ok := fv.([]float32); ok {
			if tvec, ok := tv.([]float32); ok && len(fvec) == len(tvec) {
				score += cosineSimilarity(fvec, tvec)
				parts++
			}
		}
	}
	if e.cfg.VerbScoring.Frequency {
		key := fmt.Sprintf("%s|%s|%s", fromNoun.Type, verb, toNoun.Type)
		e.verbPriorMu.Lock()
		prior := e.verbPrior[key]
		e.verbPriorMu.Unlock()
		score += prior
		parts++
	}
	if parts == 0 {
		return 1.0
	}
	w := score / parts
	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return w
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Feedback adjusts the learned (sourceType, verb, targetType) prior used by
// intelligent verb scoring's frequency component (spec §4.7 "online
// learning that adjusts per-triple priors when feedback is supplied").
func (e *Engine) Feedback(sourceType types.NounType, verb types.VerbType, targetType types.NounType, observedWeight float64) {
	key := fmt.Sprintf("%s|%s|%s", sourceType, verb, targetType)
	e.verbPriorMu.Lock()
	defer e.verbPriorMu.Unlock()
	prior := e.verbPrior[key]
	rate := e.cfg.VerbScoring.LearningRate
	if rate == 0 {
		rate = 0.05
	}
	e.verbPrior[key] = prior + rate*(observedWeight-prior)
}

// SearchOpts configures a search call. Where, when set, is evaluated
// against C3 and intersected with the ANN candidates after the graph walk
// -- an empty pre-filter match set short-circuits to no results
// without any ANN cost (spec §4.7, §8).
type SearchOpts struct {
	Filter []types.NounType
	Where  *metaindex.Predicate
	Ef     int
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       string
	Distance float32
}

// Search embeds query (if it is text; callers with a pre-computed vector
// should use SearchVector) and returns the k nearest entities.
func (e *Engine) Search(ctx context.Context, query string, k int, opts SearchOpts) ([]SearchResult, error) {
	vector, err := e.embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap("engine.search.embed", errs.InvalidInput)
	}
	return e.SearchVector(ctx, vector, k, opts)
}

// SearchVector runs ANN search directly against a pre-computed vector.
func (e *Engine) SearchVector(_ context.Context, vector []float32, k int, opts SearchOpts) ([]SearchResult, error) {
	var allow map[string]struct{}
	if opts.Where != nil {
		matched, err := e.meta.Query(*opts.Where)
		if err != nil {
			return nil, errs.Wrap("engine.search.where", err)
		}
		if len(matched) == 0 {
			return []SearchResult{}, nil
		}
		allow = matched
	}

	results, err := e.vec.SearchWithin(vector, k, opts.Ef, opts.Filter, allow)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{ID: r.ID, Distance: r.Distance}
	}
	return out, nil
}

// ConnectedDirection selects which side of an edge "connected" traverses.
type ConnectedDirection string

const (
	DirectionOut ConnectedDirection = "out"
	DirectionIn  ConnectedDirection = "in"
	DirectionAny ConnectedDirection = "any"
)

// ConnectedSpec is the "connected" leg of a find() query.
type ConnectedSpec struct {
	EntityID  string
	Verb      types.VerbType
	Direction ConnectedDirection
}

// FindQuery is the find() predicate DSL: a metadata Where clause, an
// optional semantic Like bias, an optional graph Connected restriction, and
// pagination.
type FindQuery struct {
	Where     *metaindex.Predicate
	Like      string
	Connected *ConnectedSpec
	Offset    int
	Limit     int
}

// Find evaluates a FindQuery and returns matching entities, ranked by
// cosine distance to Like when set, otherwise in id order.
func (e *Engine) Find(ctx context.Context, q FindQuery) ([]types.Noun, error) {
	var ids map[string]struct{}
	if q.Where != nil {
		matched, err := e.meta.Query(*q.Where)
		if err != nil {
			return nil, errs.Wrap("engine.find.where", err)
		}
		ids = matched
	} else {
		ids = e.allNounIDs(ctx)
	}

	if q.Connected != nil {
		ids = intersectSet(ids, e.connectedIDs(*q.Connected))
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}

	var queryVec []float32
	if q.Like != "" {
		v, err := e.embed(ctx, q.Like)
		if err != nil {
			return nil, errs.Wrap("engine.find.embed", errs.InvalidInput)
		}
		queryVec = v
		ordered = e.rankByVector(ctx, ordered, queryVec)
	} else {
		sortStrings(ordered)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset < len(ordered) {
		ordered = ordered[q.Offset:]
	} else {
		ordered = nil
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	out := make([]types.Noun, 0, len(ordered))
	for _, id := range ordered {
		n, err := e.Get(ctx, id, GetOpts{})
		if err != nil || n == nil {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (e *Engine) connectedIDs(c ConnectedSpec) map[string]struct{} {
	var edgeIDs []string
	switch c.Direction {
	case DirectionIn:
		edgeIDs = e.graph.In(c.EntityID, c.Verb)
	case DirectionAny:
		edgeIDs = e.graph.Any(c.EntityID)
	default:
		edgeIDs = e.graph.Out(c.EntityID, c.Verb)
	}
	out := make(map[string]struct{}, len(edgeIDs))
	for _, eid := range edgeIDs {
		source, target, _, ok := e.graph.Edge(eid)
		if !ok {
			continue
		}
		if c.Direction == DirectionIn {
			out[source] = struct{}{}
		} else {
			out[target] = struct{}{}
		}
	}
	return out
}

func (e *Engine) allNounIDs(ctx context.Context) map[string]struct{} {
	out := make(map[string]struct{})
	var cursor string
	for {
		page, err := e.storage.ListNouns(ctx, storage.Page{Cursor: cursor, Limit: 500})
		if err != nil {
			return out
		}
		for _, id := range page.IDs {
			out[id] = struct{}{}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out
}

func (e *Engine) rankByVector(ctx context.Context, ids []string, query []float32) []string {
	items := make([]scoredPair, 0, len(ids))
	for _, id := range ids {
		n, err := e.Get(ctx, id, GetOpts{IncludeVector: true})
		if err != nil || n == nil || len(n.Vector) != len(query) {
			continue
		}
		items = append(items, scoredPair{id, float32(1 - cosineSimilarity(n.Vector, query))})
	}
	sortScored(items)
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

// Flush persists the index singletons and checkpoints the WAL; after it
// returns, a cold restart recovers the same state without replay.
func (e *Engine) Flush(ctx context.Context) error {
	e.modeMu.RLock()
	frozen := e.mode == ModeFrozen
	e.modeMu.RUnlock()
	if frozen {
		return nil
	}

	var vecBuf, metaBuf, graphBuf threadSafeBuffer
	if err := e.vec.Save(&vecBuf); err != nil {
		return err
	}
	if err := e.meta.Save(&metaBuf); err != nil {
		return err
	}
	if err := e.graph.Save(&graphBuf); err != nil {
		return err
	}

	if err := e.wal.Checkpoint(ctx, map[string][]byte{
		"index.json":           vecBuf.Bytes(),
		"metadata-index.json":  metaBuf.Bytes(),
		"graph-adjacency.json": graphBuf.Bytes(),
	}); err != nil {
		return errs.Wrap("engine.flush", errs.StorageUnavailable)
	}
	e.statsMu.Lock()
	e.lastFlush = time.Now()
	e.statsMu.Unlock()
	return nil
}

// Reload re-reads one persisted index singleton from storage and swaps it
// into the live index, used by the realtimeUpdates watcher when another
// process writes index.json/metadata-index.json/graph-adjacency.json out of
// band (spec §6 realtimeUpdates).
func (e *Engine) Reload(ctx context.Context, name string) error {
	blob, err := e.storage.LoadIndexBlob(ctx, name)
	if err != nil || blob == nil {
		return err
	}
	r := bytes.NewReader(blob)
	switch name {
	case "index.json":
		_, err = e.vec.Load(r)
	case "metadata-index.json":
		_, err = e.meta.Load(r)
	case "graph-adjacency.json":
		_, err = e.graph.Load(r)
	}
	return err
}

// Stats is the observability surface's stats() payload (spec §6).
type Stats struct {
	NounCount     int
	VerbCount     int
	ByNounType    map[types.NounType]int
	ByVerbType    map[types.VerbType]int
	CacheStats    cache.Stats
	LastFlush     time.Time
}

// GetStats reports engine-wide counters.
func (e *Engine) GetStats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	byNoun := make(map[types.NounType]int, len(e.nounCount))
	total := 0
	for t, c := range e.nounCount {
		byNoun[t] = c
		total += c
	}
	byVerb := make(map[types.VerbType]int, len(e.verbCount))
	totalVerbs := 0
	for t, c := range e.verbCount {
		byVerb[t] = c
		totalVerbs += c
	}
	return Stats{
		NounCount:  total,
		VerbCount:  totalVerbs,
		ByNounType: byNoun,
		ByVerbType: byVerb,
		CacheStats: e.cache.GetStats(),
		LastFlush:  e.lastFlush,
	}
}

// ServiceInfo is one listServices() row.
type ServiceInfo struct {
	Name          string
	TotalNouns    int
	TotalVerbs    int
	FirstActivity time.Time
	LastActivity  time.Time
	Adds, Updates, Deletes, ErrorCount int
	Status        string
}

// ListServices reports per-service statistics (spec §6).
func (e *Engine) ListServices() []ServiceInfo {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := make([]ServiceInfo, 0, len(e.byService))
	e.modeMu.RLock()
	mode := e.mode
	e.modeMu.RUnlock()
	status := "active"
	if mode == ModeReadOnly {
		status = "read-only"
	}
	for name, st := range e.byService {
		out = append(out, ServiceInfo{
			Name: name, TotalNouns: st.totalNouns, TotalVerbs: st.totalVerbs,
			FirstActivity: st.firstActivity, LastActivity: st.lastActivity,
			Adds: st.adds, Updates: st.updates, Deletes: st.deletes, ErrorCount: st.errorCount,
			Status: status,
		})
	}
	return out
}

func (e *Engine) recordAdd(t types.NounType, service string, at time.Time) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.nounCount[t]++
	st := e.serviceLocked(service)
	st.totalNouns++
	st.adds++
	if st.firstActivity.IsZero() {
		st.firstActivity = at
	}
	st.lastActivity = at
}

func (e *Engine) recordUpdate(service string) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	st := e.serviceLocked(service)
	st.updates++
	st.lastActivity = time.Now()
}

func (e *Engine) recordDelete(service string) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	st := e.serviceLocked(service)
	st.deletes++
	st.lastActivity = time.Now()
}

func (e *Engine) recordVerb(v types.VerbType, service string) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.verbCount[v]++
	st := e.serviceLocked(service)
	st.totalVerbs++
	st.lastActivity = time.Now()
}

func (e *Engine) serviceLocked(name string) *serviceStats {
	st := e.byService[name]
	if st == nil {
		st = &serviceStats{}
		e.byService[name] = st
	}
	return st
}

func intersectSet(a, b map[string]struct{}) map[string]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(map[string]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
