// Package importer implements the streamed ingestion coordinator (C8 —
// spec §4.8): format detection, per-record extraction, and driving the
// entity engine to insert with progressive index flushing.
package importer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axiomgraph/axiom/pkg/engine"
	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/types"
)

// Stage is the current phase reported in a ProgressEvent.
type Stage string

const (
	StageDetecting  Stage = "Detecting"
	StageExtracting Stage = "Extracting"
	StageStoringVfs Stage = "StoringVfs"
	StageStoringGraph Stage = "StoringGraph"
	StageComplete   Stage = "Complete"
)

// ProgressEvent is the stable-across-formats progress schema (spec §4.8).
type ProgressEvent struct {
	Stage         Stage
	Message       string
	Processed     int
	Total         int
	Entities      int
	Relationships int
	Throughput    float64
	EtaMs         int64
	Queryable     bool
}

// Record is a format-agnostic normalized input record, already extracted
// from whatever source format (CSV/PDF/Excel/JSON/etc.) by an external
// parser (out of scope here; spec §1).
type Record struct {
	Data     string
	Type     types.NounType
	Metadata types.Doc
}

// ExtractedRelationship is a relationship discovered by the injected
// classifier alongside a record's entity.
type ExtractedRelationship struct {
	FromIndex int // index into the batch being processed, or -1 for "the record's own entity"
	ToID      string
	Verb      types.VerbType
}

// Classifier extracts zero or more relationships for a just-added entity;
// it is the injected black-box scorer (spec §1 Non-goals/out-of-scope).
type Classifier func(ctx context.Context, rec Record, newID string) ([]ExtractedRelationship, error)

// flushEvery is the progressive flush interval keyed to cumulative
// entity count (spec §4.8).
func flushEvery(cumulative int) int {
	switch {
	case cumulative < 1000:
		return 100
	case cumulative < 10000:
		return 1000
	default:
		return 5000
	}
}

// Config tunes a Coordinator run.
type Config struct {
	MaxErrors int // default 100
	BatchSize int // default 10, records processed in parallel per chunk
}

// Coordinator drives records into an Engine with progressive flushing.
type Coordinator struct {
	eng        *engine.Engine
	classifier Classifier
	cfg        Config

	cumulative int
	sinceFlush int
	errCount   int
}

// New creates a Coordinator over eng.
func New(eng *engine.Engine, classifier Classifier, cfg Config) *Coordinator {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 100
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Coordinator{eng: eng, classifier: classifier, cfg: cfg}
}

// Import streams records, inserting each via the engine and flushing on the
// progressive schedule. onProgress is called once at the start, after every
// scheduled flush, and once at completion. Extraction failures on a record are recorded and counted;
// exceeding cfg.MaxErrors aborts the import, preserving already-flushed
// batches.
func (c *Coordinator) Import(ctx context.Context, records <-chan Record, onProgress func(ProgressEvent)) error {
	start := time.Now()
	onProgress(ProgressEvent{Stage: StageDetecting, Message: "starting import"})

	batch := make([]Record, 0, c.cfg.BatchSize)
	entities, relationships := 0, 0

	flushIfDue := func() error {
		if c.sinceFlush < flushEvery(c.cumulative) {
			return nil
		}
		if err := c.eng.Flush(ctx); err != nil {
			return err
		}
		c.sinceFlush = 0
		elapsed := time.Since(start).Seconds()
		throughput := 0.0
		if elapsed > 0 {
			throughput = float64(c.cumulative) / elapsed
		}
		onProgress(ProgressEvent{
			Stage: StageStoringVfs, Message: "flushed indexes",
			Processed: c.cumulative, Entities: entities, Relationships: relationships,
			Throughput: throughput, Queryable: true,
		})
		return nil
	}

	processBatch := func(b []Record) error {
		g, gctx := errgroup.WithContext(ctx)
		ids := make([]string, len(b))
		for i := range b {
			i, rec := i, b[i]
			g.Go(func() error {
				id, err := c.eng.Add(gctx, rec.Data, rec.Type, rec.Metadata, engine.AddOpts{})
				if err != nil {
					return err
				}
				ids[i] = id
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			c.errCount++
			if c.errCount > c.cfg.MaxErrors {
				return errs.Wrap("importer.import", errs.InvalidInput)
			}
			return nil // continue past this batch's failure
		}

		for i, rec := range b {
			entities++
			c.cumulative++
			c.sinceFlush++
			if c.classifier == nil {
				continue
			}
			rels, err := c.classifier(ctx, rec, ids[i])
			if err != nil {
				c.errCount++
				if c.errCount > c.cfg.MaxErrors {
					return errs.Wrap("importer.import", errs.InvalidInput)
				}
				continue
			}
			for _, rel := range rels {
				from := ids[i]
				if rel.FromIndex >= 0 && rel.FromIndex < len(ids) {
					from = ids[rel.FromIndex]
				}
				if _, err := c.eng.Relate(ctx, from, rel.ToID, rel.Verb, engine.RelateOpts{}); err == nil {
					relationships++
				}
			}
		}
		return flushIfDue()
	}

	for rec := range records {
		select {
		case <-ctx.Done():
			return errs.Wrap("importer.import", errs.Cancelled)
		default:
		}
		batch = append(batch, rec)
		if len(batch) >= c.cfg.BatchSize {
			if err := processBatch(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := processBatch(batch); err != nil {
			return err
		}
	}

	if err := c.eng.Flush(ctx); err != nil {
		return err
	}
	onProgress(ProgressEvent{
		Stage: StageComplete, Message: "import complete",
		Processed: c.cumulative, Entities: entities, Relationships: relationships, Queryable: true,
	})
	return nil
}
