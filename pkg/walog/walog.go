// Package walog implements the write-ahead log and checkpoint/flush cycle
// that protects C2–C4's in-memory index state against crashes (C6 — spec
// §4.6). Every index-mutating operation appends a record before the change
// becomes visible; a flush persists the index singletons, appends a
// FlushMarker, and truncates older records.
package walog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/axiomgraph/axiom/pkg/storage"
	"github.com/axiomgraph/axiom/pkg/types"
)

// RecordKind tags the WAL record's payload shape.
type RecordKind string

const (
	KindAddNoun        RecordKind = "AddNoun"
	KindAddVerb        RecordKind = "AddVerb"
	KindUpdateMetadata RecordKind = "UpdateMetadata"
	KindDeleteNoun     RecordKind = "DeleteNoun"
	KindDeleteVerb     RecordKind = "DeleteVerb"
	KindFlushMarker    RecordKind = "FlushMarker"
)

// Record is one WAL entry: the minimal payload needed to replay the
// corresponding index change.
type Record struct {
	Seq      uint64         `json:"seq"`
	Kind     RecordKind     `json:"kind"`
	EntityID string         `json:"entityId,omitempty"`
	NounType types.NounType `json:"nounType,omitempty"`
	SourceID string         `json:"sourceId,omitempty"`
	TargetID string         `json:"targetId,omitempty"`
	Verb     types.VerbType `json:"verb,omitempty"`
	Metadata types.Doc      `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
	IsVerb   bool           `json:"isVerb,omitempty"`
}

// Log appends records to storage under "wal/{seq}.json" and truncates them
// at checkpoint time. Redundancy duplicates each record under a second key
// for cross-zone durability (spec §4.6).
type Log struct {
	mu         sync.Mutex
	adapter    storage.Adapter
	seq        uint64
	pending    []Record
	redundancy int
}

// New creates a WAL writer over adapter. redundancy >1 duplicates each
// appended record under redundancy-many keys.
func New(adapter storage.Adapter, redundancy int) *Log {
	if redundancy < 1 {
		redundancy = 1
	}
	return &Log{adapter: adapter, redundancy: redundancy}
}

// Append durably writes rec before the caller applies the corresponding
// in-memory index change, and returns the assigned sequence number.
func (l *Log) Append(ctx context.Context, rec Record) (uint64, error) {
	l.mu.Lock()
	seq := atomic.AddUint64(&l.seq, 1)
	rec.Seq = seq
	l.pending = append(l.pending, rec)
	l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	for r := 0; r < l.redundancy; r++ {
		name := fmt.Sprintf("wal/%020d.json", seq)
		if r > 0 {
			name = fmt.Sprintf("wal/%020d.replica%d.json", seq, r)
		}
		if err := l.adapter.SaveIndexBlob(ctx, name, data); err != nil {
			return seq, err
		}
	}
	return seq, nil
}

// Checkpoint persists the three index singletons, appends a FlushMarker,
// and truncates every WAL blob at or before the marker from storage -- the
// flush cycle of spec §4.6. Without this, replayed records would accumulate
// in storage forever even though they no longer carry any state the
// singletons don't already reflect.
func (l *Log) Checkpoint(ctx context.Context, singletons map[string][]byte) error {
	for name, data := range singletons {
		if err := l.adapter.SaveIndexBlob(ctx, name, data); err != nil {
			return err
		}
	}

	names, err := l.adapter.ListIndexBlobs(ctx, "wal")
	if err != nil {
		return err
	}
	var seqs []uint64
	for _, name := range names {
		if seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "wal/"), ".json"), 10, 64); err == nil {
			seqs = append(seqs, seq)
		}
	}

	markerSeq, err := l.Append(ctx, Record{Kind: KindFlushMarker})
	if err != nil {
		return err
	}
	seqs = append(seqs, markerSeq)

	l.mu.Lock()
	l.pending = l.pending[:0]
	l.mu.Unlock()

	for _, seq := range seqs {
		for r := 0; r < l.redundancy; r++ {
			name := fmt.Sprintf("wal/%020d.json", seq)
			if r > 0 {
				name = fmt.Sprintf("wal/%020d.replica%d.json", seq, r)
			}
			if err := l.adapter.DeleteIndexBlob(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// FastForward raises the log's internal sequence counter to at least seq,
// so recovery-time appends never collide with un-truncated WAL blobs left
// over from an interrupted prior session after a startup replay.
func (l *Log) FastForward(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq > l.seq {
		l.seq = seq
	}
}

// Pending returns a copy of the records appended through this Log since its
// last checkpoint, in sequence order. It holds nothing from earlier
// sessions; startup recovery reads the WAL blobs from storage instead.
func (l *Log) Pending() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.pending))
	copy(out, l.pending)
	return out
}

// Replayer applies WAL records against freshly loaded index state on
// startup. Implementations must make every Apply call idempotent, since a
// record may be re-applied if a prior replay was itself interrupted.
type Replayer interface {
	Apply(rec Record) error
}

// Replay re-applies records in sequence order via r, skipping every
// FlushMarker (markers only delimit checkpoints and carry no state of their
// own) and continuing with the records after it.
func Replay(records []Record, r Replayer) error {
	for _, rec := range records {
		if rec.Kind == KindFlushMarker {
			continue
		}
		if err := r.Apply(rec); err != nil {
			return err
		}
	}
	return nil
}
