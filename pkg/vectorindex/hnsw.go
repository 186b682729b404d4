// Package vectorindex implements the HNSW (Hierarchical Navigable Small
// World) approximate nearest-neighbor index over fixed-dimension vectors,
// with noun-type shards for filtered search. It is the engine's C2
// component (spec §4.2).
package vectorindex

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/types"
)

// Config holds the tunable HNSW parameters (spec §4.2).
type Config struct {
	Dim            int
	M              int // max bidirectional links per node above layer 0
	MMax0          int // max links at layer 0 (default 2M)
	EfConstruction int
	EfSearch       int // runtime-tunable default ef for search
	Seed           int64
}

// DefaultConfig returns the documented defaults: M=16, efConstruction=200,
// efSearch=100, MMax0=2*M.
func DefaultConfig(dim int) Config {
	return Config{
		Dim:            dim,
		M:              16,
		MMax0:          32,
		EfConstruction: 200,
		EfSearch:       100,
	}
}

type node struct {
	ID        string
	Vector    []float32 // unit-normalized at insert time
	Type      types.NounType
	Level     int
	Neighbors [][]string
	Seq       uint64 // insertion order, used for deterministic tie-breaks
	Deleted   bool
}

// Result is a single search hit: an entity id and its cosine distance to the
// query (lower is closer; 0 is identical direction).
type Result struct {
	ID       string
	Distance float32
}

// HNSW is the type-sharded HNSW index. All exported methods are safe for
// concurrent use; C7 takes no additional lock around them (spec §5: each of
// C2/C3/C4/C5 owns its own lock boundary).
type HNSW struct {
	mu sync.RWMutex

	cfg Config
	mL  float64

	nodes      map[string]*node
	shards     map[types.NounType]map[string]struct{}
	entryPoint string
	nextSeq    uint64

	rng *rand.Rand
}

// New creates an empty HNSW index for vectors of the given configuration.
func New(cfg Config) *HNSW {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.MMax0 <= 0 {
		cfg.MMax0 = cfg.M * 2
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 100
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &HNSW{
		cfg:    cfg,
		mL:     1.0 / math.Log(float64(cfg.M)),
		nodes:  make(map[string]*node),
		shards: make(map[types.NounType]map[string]struct{}),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// SetEfSearch adjusts the runtime-tunable default search beam width.
func (h *HNSW) SetEfSearch(ef int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ef > 0 {
		h.cfg.EfSearch = ef
	}
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// cosineDistance assumes both vectors are already unit-normalized.
func cosineDistance(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func (h *HNSW) selectLevel() int {
	level := int(math.Floor(-math.Log(h.rng.Float64()+1e-12) * h.mL))
	if level > 32 {
		level = 32
	}
	return level
}

// Insert adds a vector under the given entity id and noun-type shard. The
// vector is normalized on insert (not on search). Re-inserting an existing id
// is rejected by the caller (C7 enforces identifier uniqueness); Insert
// itself overwrites if called twice, which the engine relies on for update
// scenarios that never touch the vector.
func (h *HNSW) Insert(id string, vector []float32, nounType types.NounType) error {
	if h.cfg.Dim > 0 && len(vector) != h.cfg.Dim {
		return errs.Wrap("vectorindex.insert", errs.DimensionMismatch)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	vec := normalize(vector)
	level := h.selectLevel()
	n := &node{
		ID:        id,
		Vector:    vec,
		Type:      nounType,
		Level:     level,
		Neighbors: make([][]string, level+1),
		Seq:       h.nextSeq,
	}
	h.nextSeq++
	for i := range n.Neighbors {
		n.Neighbors[i] = make([]string, 0)
	}
	h.nodes[id] = n
	h.shardAdd(nounType, id)

	if h.entryPoint == "" {
		h.entryPoint = id
		return nil
	}

	entry := h.nodes[h.entryPoint]
	curr := []string{h.entryPoint}
	for lc := entry.Level; lc > level; lc-- {
		curr = h.searchLayer(vec, curr, 1, lc)
	}

	for lc := level; lc >= 0; lc-- {
		m := h.cfg.M
		if lc == 0 {
			m = h.cfg.MMax0
		}
		candidates := h.searchLayer(vec, curr, h.cfg.EfConstruction, lc)
		neighbors := h.selectNeighborsHeuristic(vec, candidates, m)
		n.Neighbors[lc] = neighbors

		for _, nb := range neighbors {
			h.addConnection(nb, id, lc)
			nbNode := h.nodes[nb]
			if lc >= len(nbNode.Neighbors) {
				continue
			}
			maxConn := h.cfg.M
			if lc == 0 {
				maxConn = h.cfg.MMax0
			}
			if len(nbNode.Neighbors[lc]) > maxConn {
				nbNode.Neighbors[lc] = h.selectNeighborsHeuristic(nbNode.Vector, nbNode.Neighbors[lc], maxConn)
			}
		}
		curr = neighbors
	}

	if level > entry.Level || (level == entry.Level && n.Seq < entry.Seq) {
		h.entryPoint = id
	}
	return nil
}

func (h *HNSW) shardAdd(t types.NounType, id string) {
	s, ok := h.shards[t]
	if !ok {
		s = make(map[string]struct{})
		h.shards[t] = s
	}
	s[id] = struct{}{}
}

func (h *HNSW) shardRemove(t types.NounType, id string) {
	if s, ok := h.shards[t]; ok {
		delete(s, id)
	}
}

func (h *HNSW) addConnection(from, to string, layer int) {
	n, ok := h.nodes[from]
	if !ok || layer >= len(n.Neighbors) {
		return
	}
	for _, existing := range n.Neighbors[layer] {
		if existing == to {
			return
		}
	}
	n.Neighbors[layer] = append(n.Neighbors[layer], to)
}

// searchLayer runs a greedy ef-bounded beam search within one layer.
func (h *HNSW) searchLayer(query []float32, entryPoints []string, ef, layer int) []string {
	visited := make(map[string]bool, ef*2)
	type item struct {
		id   string
		dist float32
	}
	candidates := make([]item, 0, ef)
	result := make([]item, 0, ef)

	for _, id := range entryPoints {
		n, ok := h.nodes[id]
		if !ok {
			continue
		}
		d := cosineDistance(query, n.Vector)
		candidates = append(candidates, item{id, d})
		result = append(result, item{id, d})
		visited[id] = true
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	for len(candidates) > 0 {
		cur := candidates[0]
		candidates = candidates[1:]

		worst := float32(math.MaxFloat32)
		if len(result) >= ef {
			sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
			worst = result[len(result)-1].dist
			if cur.dist > worst {
				break
			}
		}

		n := h.nodes[cur.id]
		if n == nil || layer >= len(n.Neighbors) {
			continue
		}
		for _, nb := range n.Neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode, ok := h.nodes[nb]
			if !ok {
				continue
			}
			d := cosineDistance(query, nbNode.Vector)
			if len(result) < ef || d < worst {
				candidates = append(candidates, item{nb, d})
				result = append(result, item{nb, d})
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
				if len(result) > ef {
					sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
					result = result[:ef]
				}
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
	ids := make([]string, len(result))
	for i, r := range result {
		ids[i] = r.id
	}
	return ids
}

// selectNeighborsHeuristic picks the m closest candidates to query (the
// standard HNSW select-neighbors-heuristic without the extend-candidates
// variant, matching the teacher's simple-select approach).
func (h *HNSW) selectNeighborsHeuristic(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		out := make([]string, len(candidates))
		copy(out, candidates)
		return out
	}
	type pair struct {
		id   string
		dist float32
	}
	pairs := make([]pair, 0, len(candidates))
	for _, c := range candidates {
		n, ok := h.nodes[c]
		if !ok {
			continue
		}
		pairs = append(pairs, pair{c, cosineDistance(query, n.Vector)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })
	out := make([]string, 0, m)
	for i := 0; i < m && i < len(pairs); i++ {
		out = append(out, pairs[i].id)
	}
	return out
}

// Search returns up to k nearest neighbors to query by ascending cosine
// distance. If filter is non-empty, results are restricted to the union of
// the given noun-type shards; the graph walk itself is not restricted, so
// the ef candidates it finds are filtered afterwards and fewer than k
// results can come back. An empty index returns an empty slice, never an
// error.
func (h *HNSW) Search(query []float32, k, ef int, filter []types.NounType) ([]Result, error) {
	return h.search(query, k, ef, filter, nil)
}

// SearchWithin behaves like Search but additionally restricts candidates to
// allow -- the id set a metadata pre-filter (C3) matched. Like the type
// shard, allow filters the candidates of the graph walk rather than steering
// the walk itself. A nil allow behaves exactly
// like Search; a non-nil but empty allow short-circuits to no results
// without walking the graph at all, since no candidate could ever pass.
func (h *HNSW) SearchWithin(query []float32, k, ef int, filter []types.NounType, allow map[string]struct{}) ([]Result, error) {
	if allow != nil && len(allow) == 0 {
		return []Result{}, nil
	}
	return h.search(query, k, ef, filter, allow)
}

func (h *HNSW) search(query []float32, k, ef int, filter []types.NounType, allow map[string]struct{}) ([]Result, error) {
	if h.cfg.Dim > 0 && len(query) != h.cfg.Dim {
		return nil, errs.Wrap("vectorindex.search", errs.DimensionMismatch)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entryPoint == "" {
		return []Result{}, nil
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	q := normalize(query)
	entry := h.nodes[h.entryPoint]
	curr := []string{h.entryPoint}
	for lc := entry.Level; lc > 0; lc-- {
		curr = h.searchLayer(q, curr, 1, lc)
	}

	candidates := h.searchLayer(q, curr, ef, 0)

	var allowedShard map[string]struct{}
	if len(filter) > 0 {
		allowedShard = make(map[string]struct{})
		for _, t := range filter {
			for id := range h.shards[t] {
				allowedShard[id] = struct{}{}
			}
		}
	}

	out := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		n, ok := h.nodes[id]
		if !ok || n.Deleted {
			continue
		}
		if allowedShard != nil {
			if _, ok := allowedShard[id]; !ok {
				continue
			}
		}
		if allow != nil {
			if _, ok := allow[id]; !ok {
				continue
			}
		}
		out = append(out, Result{ID: id, Distance: cosineDistance(q, n.Vector)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].ID < out[j].ID // deterministic tie-break
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Delete hard-removes a node and back-patches every neighbor list that
// referenced it, per spec §3's deletion invariant ("HNSW links back-patched").
func (h *HNSW) Delete(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n, ok := h.nodes[id]
	if !ok {
		return nil // double-delete is a no-op
	}
	h.shardRemove(n.Type, id)
	delete(h.nodes, id)

	for _, other := range h.nodes {
		for lc := range other.Neighbors {
			other.Neighbors[lc] = removeID(other.Neighbors[lc], id)
		}
	}

	if h.entryPoint == id {
		h.entryPoint = ""
		bestLevel := -1
		var bestSeq uint64
		for candID, candNode := range h.nodes {
			if candNode.Level > bestLevel || (candNode.Level == bestLevel && candNode.Seq < bestSeq) {
				bestLevel = candNode.Level
				bestSeq = candNode.Seq
				h.entryPoint = candID
			}
		}
	}
	return nil
}

func removeID(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Size returns the number of live nodes.
func (h *HNSW) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Stats reports index-level counters used by the observability surface.
func (h *HNSW) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	maxLevel := 0
	edges := 0
	perType := make(map[types.NounType]int, len(h.shards))
	for t, s := range h.shards {
		perType[t] = len(s)
	}
	for _, n := range h.nodes {
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
		for _, nb := range n.Neighbors {
			edges += len(nb)
		}
	}
	return map[string]any{
		"nodes":        len(h.nodes),
		"edges":        edges,
		"max_level":    maxLevel,
		"entry_point":  h.entryPoint,
		"m":            h.cfg.M,
		"ef_construct": h.cfg.EfConstruction,
		"ef_search":    h.cfg.EfSearch,
		"per_type":     perType,
	}
}

// snapshot is the JSON-serializable form persisted as index.json (spec §6).
type snapshot struct {
	D              int             `json:"D"`
	M              int             `json:"M"`
	MMax0          int             `json:"MMax0"`
	EfConstruction int             `json:"efConstruction"`
	EfSearch       int             `json:"efSearch"`
	EntryPoint     string          `json:"entryPoint"`
	Items          []snapshotNode  `json:"items"`
	TypeMap        map[string]bool `json:"typeMap"`
}

type snapshotNode struct {
	ID        string              `json:"id"`
	Vector    []float32           `json:"vector"`
	Type      types.NounType      `json:"type"`
	Level     int                 `json:"level"`
	Neighbors map[string][]string `json:"connections"`
	Seq       uint64              `json:"seq"`
}

// Save serializes the index to index.json's documented shape.
func (h *HNSW) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := snapshot{
		D:              h.cfg.Dim,
		M:              h.cfg.M,
		MMax0:          h.cfg.MMax0,
		EfConstruction: h.cfg.EfConstruction,
		EfSearch:       h.cfg.EfSearch,
		EntryPoint:     h.entryPoint,
		Items:          make([]snapshotNode, 0, len(h.nodes)),
		TypeMap:        map[string]bool{},
	}
	for t := range h.shards {
		snap.TypeMap[string(t)] = true
	}
	for _, n := range h.nodes {
		conns := make(map[string][]string, len(n.Neighbors))
		for lc, nb := range n.Neighbors {
			conns[fmt.Sprintf("%d", lc)] = nb
		}
		snap.Items = append(snap.Items, snapshotNode{
			ID: n.ID, Vector: n.Vector, Type: n.Type, Level: n.Level,
			Neighbors: conns, Seq: n.Seq,
		})
	}
	return json.NewEncoder(w).Encode(snap)
}

// Load replaces the index content from a previously Saved stream. Nodes
// whose vector length does not match the configured dimension are skipped
// and counted in the returned skip count (spec §4.2: "skipped and logged,
// never silently re-embedded").
func (h *HNSW) Load(r io.Reader) (skipped int, err error) {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.Dim <= 0 {
		h.cfg.Dim = snap.D
	}
	h.cfg.M = snap.M
	h.cfg.MMax0 = snap.MMax0
	h.cfg.EfConstruction = snap.EfConstruction
	h.cfg.EfSearch = snap.EfSearch
	h.mL = 1.0 / math.Log(float64(max(h.cfg.M, 2)))
	h.entryPoint = snap.EntryPoint
	h.nodes = make(map[string]*node, len(snap.Items))
	h.shards = make(map[types.NounType]map[string]struct{})

	var maxSeq uint64
	for _, sn := range snap.Items {
		if h.cfg.Dim > 0 && len(sn.Vector) != h.cfg.Dim {
			skipped++
			continue
		}
		neighbors := make([][]string, sn.Level+1)
		for i := range neighbors {
			neighbors[i] = sn.Neighbors[fmt.Sprintf("%d", i)]
		}
		h.nodes[sn.ID] = &node{
			ID: sn.ID, Vector: sn.Vector, Type: sn.Type, Level: sn.Level,
			Neighbors: neighbors, Seq: sn.Seq,
		}
		h.shardAdd(sn.Type, sn.ID)
		if sn.Seq > maxSeq {
			maxSeq = sn.Seq
		}
	}
	h.nextSeq = maxSeq + 1
	if h.entryPoint != "" {
		if _, ok := h.nodes[h.entryPoint]; !ok {
			h.entryPoint = ""
		}
	}
	return skipped, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
