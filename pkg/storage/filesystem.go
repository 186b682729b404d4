package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/axiomgraph/axiom/pkg/errs"
)

// Filesystem is a single-directory Adapter variant: every logical stream is
// a subdirectory of root, one JSON file per id, matching the persisted
// layout of spec §6.
type Filesystem struct {
	mu     sync.Mutex
	root   string
	prefix string
}

// NewFilesystem creates (if needed) root and returns a Filesystem adapter
// rooted there.
func NewFilesystem(root string) (*Filesystem, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.WrapKey("storage.filesystem.init", root, errs.StorageUnavailable)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) path(dir, id string) string {
	rel := joinPrefix(f.prefix, dir)
	return filepath.Join(f.root, filepath.FromSlash(rel), id+".json")
}

func (f *Filesystem) writeJSON(path string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.WrapKey("storage.filesystem.write", path, errs.StorageUnavailable)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errs.WrapKey("storage.filesystem.encode", path, errs.InvalidInput)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.WrapKey("storage.filesystem.write", path, errs.StorageUnavailable)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.WrapKey("storage.filesystem.write", path, errs.StorageUnavailable)
	}
	return nil
}

func (f *Filesystem) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, errs.WrapKey("storage.filesystem.read", path, errs.StorageUnavailable)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errs.WrapKey("storage.filesystem.decode", path, errs.StorageCorrupt)
	}
	return true, nil
}

func (f *Filesystem) remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.WrapKey("storage.filesystem.delete", path, errs.StorageUnavailable)
	}
	return nil
}

func (f *Filesystem) SaveNoun(_ context.Context, id string, rec NounRecord) error {
	return f.writeJSON(f.path("nouns", id), rec)
}

func (f *Filesystem) GetNoun(_ context.Context, id string) (*NounRecord, error) {
	var rec NounRecord
	ok, err := f.readJSON(f.path("nouns", id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (f *Filesystem) DeleteNoun(_ context.Context, id string) error {
	return f.remove(f.path("nouns", id))
}

func (f *Filesystem) SaveNounMetadata(_ context.Context, id string, doc MetadataRecord) error {
	return f.writeJSON(f.path("nouns-metadata", id), doc)
}

func (f *Filesystem) GetNounMetadata(_ context.Context, id string, opts ReadOpts) (*MetadataRecord, error) {
	var doc MetadataRecord
	ok, err := f.readJSON(f.path("nouns-metadata", id), &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

func (f *Filesystem) DeleteNounMetadata(_ context.Context, id string) error {
	return f.remove(f.path("nouns-metadata", id))
}

func (f *Filesystem) SaveVerb(_ context.Context, id string, rec VerbRecord) error {
	return f.writeJSON(f.path("verbs", id), rec)
}

func (f *Filesystem) GetVerb(_ context.Context, id string) (*VerbRecord, error) {
	var rec VerbRecord
	ok, err := f.readJSON(f.path("verbs", id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (f *Filesystem) DeleteVerb(_ context.Context, id string) error {
	return f.remove(f.path("verbs", id))
}

func (f *Filesystem) SaveVerbMetadata(_ context.Context, id string, doc MetadataRecord) error {
	return f.writeJSON(f.path("verbs-metadata", id), doc)
}

func (f *Filesystem) GetVerbMetadata(_ context.Context, id string, opts ReadOpts) (*MetadataRecord, error) {
	var doc MetadataRecord
	ok, err := f.readJSON(f.path("verbs-metadata", id), &doc)
	if err != nil || !ok {
		return nil, err
	}
	return &doc, nil
}

func (f *Filesystem) DeleteVerbMetadata(_ context.Context, id string) error {
	return f.remove(f.path("verbs-metadata", id))
}

func (f *Filesystem) listIDs(dir string) ([]string, error) {
	full := filepath.Join(f.root, filepath.FromSlash(joinPrefix(f.prefix, dir)))
	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.WrapKey("storage.filesystem.list", full, errs.StorageUnavailable)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

func (f *Filesystem) ListNouns(_ context.Context, p Page) (PageResult, error) {
	ids, err := f.listIDs("nouns")
	if err != nil {
		return PageResult{}, err
	}
	return paginate(ids, p), nil
}

// ListVerbsBySource and ListVerbsByTarget scan the verb directory for
// matching records -- the filesystem adapter has no secondary index, unlike
// Memory's in-process maps; acceptable given the adapter's target scale.
func (f *Filesystem) ListVerbsBySource(ctx context.Context, sourceID string, p Page) (PageResult, error) {
	return f.scanVerbsBy(ctx, func(r VerbRecord) bool { return r.SourceID == sourceID }, p)
}

func (f *Filesystem) ListVerbsByTarget(ctx context.Context, targetID string, p Page) (PageResult, error) {
	return f.scanVerbsBy(ctx, func(r VerbRecord) bool { return r.TargetID == targetID }, p)
}

func (f *Filesystem) scanVerbsBy(ctx context.Context, match func(VerbRecord) bool, p Page) (PageResult, error) {
	ids, err := f.listIDs("verbs")
	if err != nil {
		return PageResult{}, err
	}
	sort.Strings(ids)
	var matched []string
	for _, id := range ids {
		rec, err := f.GetVerb(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		if match(*rec) {
			matched = append(matched, id)
		}
	}
	return paginate(matched, p), nil
}

func (f *Filesystem) ListVerbs(_ context.Context, p Page) (PageResult, error) {
	ids, err := f.listIDs("verbs")
	if err != nil {
		return PageResult{}, err
	}
	return paginate(ids, p), nil
}

func (f *Filesystem) SaveIndexBlob(_ context.Context, name string, data []byte) error {
	path := filepath.Join(f.root, filepath.FromSlash(joinPrefix(f.prefix, name)))
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errs.WrapKey("storage.filesystem.write", path, errs.StorageUnavailable)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.WrapKey("storage.filesystem.write", path, errs.StorageUnavailable)
	}
	return os.Rename(tmp, path)
}

func (f *Filesystem) LoadIndexBlob(_ context.Context, name string) ([]byte, error) {
	path := filepath.Join(f.root, filepath.FromSlash(joinPrefix(f.prefix, name)))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.WrapKey("storage.filesystem.read", path, errs.StorageUnavailable)
	}
	return data, nil
}

func (f *Filesystem) ListIndexBlobs(_ context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(f.root, filepath.FromSlash(joinPrefix(f.prefix, prefix)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errs.WrapKey("storage.filesystem.list", dir, errs.StorageUnavailable)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, prefix+"/"+e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (f *Filesystem) DeleteIndexBlob(_ context.Context, name string) error {
	return f.remove(filepath.Join(f.root, filepath.FromSlash(joinPrefix(f.prefix, name))))
}

func (f *Filesystem) WithPrefix(p string) Adapter {
	return &Filesystem{root: f.root, prefix: joinPrefix(f.prefix, p)}
}
