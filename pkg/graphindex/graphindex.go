// Package graphindex implements the in-memory adjacency index over directed,
// typed edges between entities (the engine's C4 component; spec §4.4). It
// holds no vectors or metadata of its own -- only forward/reverse edge-id
// sets -- so that neighbor enumeration is O(1) regardless of store size.
package graphindex

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/axiomgraph/axiom/pkg/types"
)

// edgeRef is the minimal record needed to answer adjacency queries without
// consulting storage: the verb and the two endpoints.
type edgeRef struct {
	ID     string
	Source string
	Target string
	Verb   types.VerbType
}

// Index is the forward/reverse adjacency structure. All methods are safe
// for concurrent use.
type Index struct {
	mu sync.RWMutex

	edges map[string]edgeRef // edge id -> ref

	// forward[source][verb] = set of edge ids
	forward map[string]map[types.VerbType]map[string]struct{}
	// reverse[target][verb] = set of edge ids
	reverse map[string]map[types.VerbType]map[string]struct{}

	// pair dedups (source,target,verb) -> existing edge id
	pair map[tripleKey]string

	verbCounts map[types.VerbType]int
}

type tripleKey struct {
	source string
	target string
	verb   types.VerbType
}

// New creates an empty adjacency index.
func New() *Index {
	return &Index{
		edges:      make(map[string]edgeRef),
		forward:    make(map[string]map[types.VerbType]map[string]struct{}),
		reverse:    make(map[string]map[types.VerbType]map[string]struct{}),
		pair:       make(map[tripleKey]string),
		verbCounts: make(map[types.VerbType]int),
	}
}

// AddEdge records a new directed edge. If an edge with the same
// (source, target, verb) triple already exists, AddEdge returns that edge's
// id and added=false instead of creating a duplicate (spec §4.4 dedup
// invariant).
func (idx *Index) AddEdge(id, source, target string, verb types.VerbType) (existingID string, added bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := tripleKey{source, target, verb}
	if existing, ok := idx.pair[key]; ok {
		return existing, false
	}

	idx.edges[id] = edgeRef{ID: id, Source: source, Target: target, Verb: verb}
	idx.pair[key] = id

	if idx.forward[source] == nil {
		idx.forward[source] = make(map[types.VerbType]map[string]struct{})
	}
	if idx.forward[source][verb] == nil {
		idx.forward[source][verb] = make(map[string]struct{})
	}
	idx.forward[source][verb][id] = struct{}{}

	if idx.reverse[target] == nil {
		idx.reverse[target] = make(map[types.VerbType]map[string]struct{})
	}
	if idx.reverse[target][verb] == nil {
		idx.reverse[target][verb] = make(map[string]struct{})
	}
	idx.reverse[target][verb][id] = struct{}{}

	idx.verbCounts[verb]++
	return id, true
}

// RemoveEdge deletes a single edge by id. It is a no-op if the edge is
// unknown.
func (idx *Index) RemoveEdge(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeEdgeLocked(id)
}

func (idx *Index) removeEdgeLocked(id string) {
	ref, ok := idx.edges[id]
	if !ok {
		return
	}
	delete(idx.edges, id)
	delete(idx.pair, tripleKey{ref.Source, ref.Target, ref.Verb})

	if m := idx.forward[ref.Source]; m != nil {
		if s := m[ref.Verb]; s != nil {
			delete(s, id)
			if len(s) == 0 {
				delete(m, ref.Verb)
			}
		}
		if len(m) == 0 {
			delete(idx.forward, ref.Source)
		}
	}
	if m := idx.reverse[ref.Target]; m != nil {
		if s := m[ref.Verb]; s != nil {
			delete(s, id)
			if len(s) == 0 {
				delete(m, ref.Verb)
			}
		}
		if len(m) == 0 {
			delete(idx.reverse, ref.Target)
		}
	}
	idx.verbCounts[ref.Verb]--
	if idx.verbCounts[ref.Verb] <= 0 {
		delete(idx.verbCounts, ref.Verb)
	}
}

// RemoveEntity deletes every edge incident to id, in either direction --
// used when a Noun is deleted (spec §4.4: "deletion cascades to incident
// edges"). It returns the ids of the removed edges so the caller can also
// purge them from storage.
func (idx *Index) RemoveEntity(id string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var removed []string
	for verb, set := range idx.forward[id] {
		for eid := range set {
			removed = append(removed, eid)
		}
		_ = verb
	}
	for verb, set := range idx.reverse[id] {
		for eid := range set {
			removed = append(removed, eid)
		}
		_ = verb
	}
	seen := make(map[string]struct{}, len(removed))
	unique := removed[:0]
	for _, eid := range removed {
		if _, ok := seen[eid]; ok {
			continue
		}
		seen[eid] = struct{}{}
		unique = append(unique, eid)
	}
	for _, eid := range unique {
		idx.removeEdgeLocked(eid)
	}
	return unique
}

// Out returns the ids of edges leaving id. If verb is non-empty, it filters
// to that verb only.
func (idx *Index) Out(id string, verb types.VerbType) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return collect(idx.forward[id], verb)
}

// In returns the ids of edges arriving at id. If verb is non-empty, it
// filters to that verb only.
func (idx *Index) In(id string, verb types.VerbType) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return collect(idx.reverse[id], verb)
}

// Any returns every edge id touching id in either direction.
func (idx *Index) Any(id string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := collect(idx.forward[id], "")
	out = append(out, collect(idx.reverse[id], "")...)
	seen := make(map[string]struct{}, len(out))
	unique := out[:0]
	for _, eid := range out {
		if _, ok := seen[eid]; ok {
			continue
		}
		seen[eid] = struct{}{}
		unique = append(unique, eid)
	}
	return unique
}

func collect(byVerb map[types.VerbType]map[string]struct{}, verb types.VerbType) []string {
	if byVerb == nil {
		return nil
	}
	if verb != "" {
		set := byVerb[verb]
		out := make([]string, 0, len(set))
		for id := range set {
			out = append(out, id)
		}
		return out
	}
	var out []string
	for _, set := range byVerb {
		for id := range set {
			out = append(out, id)
		}
	}
	return out
}

// VerbCount returns the number of live edges tagged with verb.
func (idx *Index) VerbCount(verb types.VerbType) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.verbCounts[verb]
}

// Edge returns the (source, target, verb) triple for an edge id.
func (idx *Index) Edge(id string) (source, target string, verb types.VerbType, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ref, ok := idx.edges[id]
	if !ok {
		return "", "", "", false
	}
	return ref.Source, ref.Target, ref.Verb, true
}

// snapshot is the on-disk layout of graph-adjacency.json (spec §6 persisted
// layout): forward[source][verb] and reverse[target][verb] edge-id sets plus
// the global verb counts. Edge endpoints are not stored redundantly -- Load
// cross-references forward and reverse to recover each edge's (source,
// target, verb) triple.
type snapshot struct {
	Forward    map[string]map[types.VerbType][]string `json:"forward"`
	Reverse    map[string]map[types.VerbType][]string `json:"reverse"`
	VerbCounts map[types.VerbType]int                 `json:"verbCounts"`
}

// Save serializes the index to w in the graph-adjacency.json layout.
func (idx *Index) Save(w io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	snap := snapshot{
		Forward:    make(map[string]map[types.VerbType][]string, len(idx.forward)),
		Reverse:    make(map[string]map[types.VerbType][]string, len(idx.reverse)),
		VerbCounts: make(map[types.VerbType]int, len(idx.verbCounts)),
	}
	for source, byVerb := range idx.forward {
		out := make(map[types.VerbType][]string, len(byVerb))
		for verb, set := range byVerb {
			out[verb] = idsOf(set)
		}
		snap.Forward[source] = out
	}
	for target, byVerb := range idx.reverse {
		out := make(map[types.VerbType][]string, len(byVerb))
		for verb, set := range byVerb {
			out[verb] = idsOf(set)
		}
		snap.Reverse[target] = out
	}
	for verb, c := range idx.verbCounts {
		snap.VerbCounts[verb] = c
	}
	return json.NewEncoder(w).Encode(snap)
}

// Load replaces the index's contents with the adjacency recorded in r,
// reconstructing each edge's triple by cross-referencing forward and
// reverse, then rebuilding the pair dedup map and edges table from that.
func (idx *Index) Load(r io.Reader) (int, error) {
	var snap snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return 0, err
	}

	// edgeTarget[id] = target, discovered from reverse (forward alone only
	// tells us the source and verb).
	edgeTarget := make(map[string]string)
	for target, byVerb := range snap.Reverse {
		for _, ids := range byVerb {
			for _, id := range ids {
				edgeTarget[id] = target
			}
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.edges = make(map[string]edgeRef)
	idx.forward = make(map[string]map[types.VerbType]map[string]struct{})
	idx.reverse = make(map[string]map[types.VerbType]map[string]struct{})
	idx.pair = make(map[tripleKey]string)
	idx.verbCounts = make(map[types.VerbType]int)

	for source, byVerb := range snap.Forward {
		for verb, ids := range byVerb {
			for _, id := range ids {
				target := edgeTarget[id]
				ref := edgeRef{ID: id, Source: source, Target: target, Verb: verb}
				idx.edges[id] = ref
				idx.pair[tripleKey{source, target, verb}] = id

				if idx.forward[source] == nil {
					idx.forward[source] = make(map[types.VerbType]map[string]struct{})
				}
				if idx.forward[source][verb] == nil {
					idx.forward[source][verb] = make(map[string]struct{})
				}
				idx.forward[source][verb][id] = struct{}{}

				if idx.reverse[target] == nil {
					idx.reverse[target] = make(map[types.VerbType]map[string]struct{})
				}
				if idx.reverse[target][verb] == nil {
					idx.reverse[target][verb] = make(map[string]struct{})
				}
				idx.reverse[target][verb][id] = struct{}{}
			}
		}
	}
	for verb, c := range snap.VerbCounts {
		idx.verbCounts[verb] = c
	}
	return len(idx.edges), nil
}

func idsOf(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Stats reports index-level counters for the observability surface.
func (idx *Index) Stats() map[string]any {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	byVerb := make(map[types.VerbType]int, len(idx.verbCounts))
	for v, c := range idx.verbCounts {
		byVerb[v] = c
	}
	return map[string]any{
		"edges":    len(idx.edges),
		"by_verb":  byVerb,
		"entities": len(idx.forward) + len(idx.reverse),
	}
}
