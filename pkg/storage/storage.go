// Package storage defines the unified object-typed persistence contract
// (C1) and its pluggable backends. All four logical streams (nouns,
// nouns-metadata, verbs, verbs-metadata) and the five index singletons
// share one key layout across every variant (spec §4.1, §6).
package storage

import (
	"context"
	"sort"
	"strings"
)

// NounRecord is the nouns/{id}.json payload: vector plus HNSW topology.
type NounRecord struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Vector      []float32           `json:"vector"`
	Connections map[string][]string `json:"connections,omitempty"`
	Level       int                 `json:"level"`
}

// VerbRecord is the verbs/{id}.json payload.
type VerbRecord struct {
	ID       string    `json:"id"`
	SourceID string    `json:"sourceId"`
	TargetID string    `json:"targetId"`
	Verb     string    `json:"verb"`
	Weight   float64   `json:"weight"`
	Vector   []float32 `json:"vector,omitempty"`
}

// MetadataRecord is the nouns-metadata/{id}.json or verbs-metadata/{id}.json
// payload.
type MetadataRecord struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Type      string         `json:"type,omitempty"`
	Data      string         `json:"_data,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
	Service   string         `json:"service,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Page is a pagination cursor: opaque token plus a limit.
type Page struct {
	Cursor string
	Limit  int
}

// PageResult is one page of ids plus the cursor for the next page, empty
// when exhausted.
type PageResult struct {
	IDs        []string
	NextCursor string
}

// ReadOpts is passed to metadata reads. No adapter reads IncludeVector:
// metadata reads never load the vector record, whatever its value.
type ReadOpts struct {
	IncludeVector bool
}

// Adapter is the storage-backend contract implemented by the memory,
// filesystem, and S3-family variants. Every method is best-effort atomic at
// single-key granularity; there are no cross-key transactions.
type Adapter interface {
	SaveNoun(ctx context.Context, id string, rec NounRecord) error
	GetNoun(ctx context.Context, id string) (*NounRecord, error)
	DeleteNoun(ctx context.Context, id string) error

	SaveNounMetadata(ctx context.Context, id string, doc MetadataRecord) error
	GetNounMetadata(ctx context.Context, id string, opts ReadOpts) (*MetadataRecord, error)
	DeleteNounMetadata(ctx context.Context, id string) error

	SaveVerb(ctx context.Context, id string, rec VerbRecord) error
	GetVerb(ctx context.Context, id string) (*VerbRecord, error)
	DeleteVerb(ctx context.Context, id string) error

	SaveVerbMetadata(ctx context.Context, id string, doc MetadataRecord) error
	GetVerbMetadata(ctx context.Context, id string, opts ReadOpts) (*MetadataRecord, error)
	DeleteVerbMetadata(ctx context.Context, id string) error

	ListNouns(ctx context.Context, p Page) (PageResult, error)
	ListVerbsBySource(ctx context.Context, sourceID string, p Page) (PageResult, error)
	ListVerbsByTarget(ctx context.Context, targetID string, p Page) (PageResult, error)
	ListVerbs(ctx context.Context, p Page) (PageResult, error)

	SaveIndexBlob(ctx context.Context, name string, data []byte) error
	LoadIndexBlob(ctx context.Context, name string) ([]byte, error)

	// ListIndexBlobs returns the names of every index blob stored under
	// prefix (e.g. "wal"), each suitable for passing straight back into
	// LoadIndexBlob or DeleteIndexBlob.
	ListIndexBlobs(ctx context.Context, prefix string) ([]string, error)
	DeleteIndexBlob(ctx context.Context, name string) error

	// WithPrefix scopes all keys issued by the returned Adapter under p.
	WithPrefix(p string) Adapter
}

// paginate applies a cursor+limit window over a sorted id list.
func paginate(ids []string, p Page) PageResult {
	sort.Strings(ids)
	start := 0
	if p.Cursor != "" {
		for i, id := range ids {
			if id > p.Cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	if start >= len(ids) {
		return PageResult{}
	}
	page := ids[start:end]
	var next string
	if end < len(ids) {
		next = page[len(page)-1]
	}
	out := make([]string, len(page))
	copy(out, page)
	return PageResult{IDs: out, NextCursor: next}
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// stripPrefix undoes joinPrefix: given a fully-qualified key, returns the
// part relative to prefix.
func stripPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
}
