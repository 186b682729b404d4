package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Adapter backed by maps, used for tests and the
// in-memory storage.type option.
type Memory struct {
	mu sync.RWMutex

	prefix string

	nouns        map[string]NounRecord
	nounMeta     map[string]MetadataRecord
	verbs        map[string]VerbRecord
	verbMeta     map[string]MetadataRecord
	verbsBySrc   map[string]map[string]struct{}
	verbsByTgt   map[string]map[string]struct{}
	blobs        map[string][]byte
}

// NewMemory creates an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{
		nouns:      make(map[string]NounRecord),
		nounMeta:   make(map[string]MetadataRecord),
		verbs:      make(map[string]VerbRecord),
		verbMeta:   make(map[string]MetadataRecord),
		verbsBySrc: make(map[string]map[string]struct{}),
		verbsByTgt: make(map[string]map[string]struct{}),
		blobs:      make(map[string][]byte),
	}
}

func (m *Memory) key(id string) string { return joinPrefix(m.prefix, id) }

func (m *Memory) SaveNoun(_ context.Context, id string, rec NounRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nouns[m.key(id)] = rec
	return nil
}

func (m *Memory) GetNoun(_ context.Context, id string) (*NounRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.nouns[m.key(id)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) DeleteNoun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nouns, m.key(id))
	return nil
}

func (m *Memory) SaveNounMetadata(_ context.Context, id string, doc MetadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nounMeta[m.key(id)] = doc
	return nil
}

func (m *Memory) GetNounMetadata(_ context.Context, id string, opts ReadOpts) (*MetadataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.nounMeta[m.key(id)]
	if !ok {
		return nil, nil
	}
	out := doc
	return &out, nil
}

func (m *Memory) DeleteNounMetadata(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nounMeta, m.key(id))
	return nil
}

func (m *Memory) SaveVerb(_ context.Context, id string, rec VerbRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(id)
	m.verbs[key] = rec
	if m.verbsBySrc[rec.SourceID] == nil {
		m.verbsBySrc[rec.SourceID] = make(map[string]struct{})
	}
	m.verbsBySrc[rec.SourceID][id] = struct{}{}
	if m.verbsByTgt[rec.TargetID] == nil {
		m.verbsByTgt[rec.TargetID] = make(map[string]struct{})
	}
	m.verbsByTgt[rec.TargetID][id] = struct{}{}
	return nil
}

func (m *Memory) GetVerb(_ context.Context, id string) (*VerbRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.verbs[m.key(id)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) DeleteVerb(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.key(id)
	if rec, ok := m.verbs[key]; ok {
		delete(m.verbsBySrc[rec.SourceID], id)
		delete(m.verbsByTgt[rec.TargetID], id)
	}
	delete(m.verbs, key)
	return nil
}

func (m *Memory) SaveVerbMetadata(_ context.Context, id string, doc MetadataRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verbMeta[m.key(id)] = doc
	return nil
}

func (m *Memory) GetVerbMetadata(_ context.Context, id string, opts ReadOpts) (*MetadataRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.verbMeta[m.key(id)]
	if !ok {
		return nil, nil
	}
	out := doc
	return &out, nil
}

func (m *Memory) DeleteVerbMetadata(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.verbMeta, m.key(id))
	return nil
}

func (m *Memory) ListNouns(_ context.Context, p Page) (PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.nouns))
	for k := range m.nouns {
		ids = append(ids, k)
	}
	return paginate(ids, p), nil
}

func (m *Memory) ListVerbsBySource(_ context.Context, sourceID string, p Page) (PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.verbsBySrc[sourceID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return paginate(ids, p), nil
}

func (m *Memory) ListVerbsByTarget(_ context.Context, targetID string, p Page) (PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.verbsByTgt[targetID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return paginate(ids, p), nil
}

func (m *Memory) ListVerbs(_ context.Context, p Page) (PageResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.verbs))
	for k := range m.verbs {
		ids = append(ids, k)
	}
	return paginate(ids, p), nil
}

func (m *Memory) SaveIndexBlob(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[m.key(name)] = cp
	return nil
}

func (m *Memory) LoadIndexBlob(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[m.key(name)]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *Memory) ListIndexBlobs(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := strings.TrimSuffix(m.key(prefix), "/") + "/"
	var names []string
	for k := range m.blobs {
		if !strings.HasPrefix(k, want) {
			continue
		}
		names = append(names, stripPrefix(m.prefix, k))
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) DeleteIndexBlob(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, m.key(name))
	return nil
}

func (m *Memory) WithPrefix(p string) Adapter {
	return &Memory{
		prefix:     joinPrefix(m.prefix, p),
		nouns:      m.nouns,
		nounMeta:   m.nounMeta,
		verbs:      m.verbs,
		verbMeta:   m.verbMeta,
		verbsBySrc: m.verbsBySrc,
		verbsByTgt: m.verbsByTgt,
		blobs:      m.blobs,
	}
}
