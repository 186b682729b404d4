// Package migration implements the versioned idempotent metadata transform
// runner (C9 — spec §4.9), with a copy-on-write backup branch and a dry-run
// mode for previewing changes.
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/axiomgraph/axiom/pkg/errs"
	"github.com/axiomgraph/axiom/pkg/storage"
	"github.com/axiomgraph/axiom/pkg/types"
)

// Applies selects which population a migration transforms.
type Applies string

const (
	AppliesNouns Applies = "nouns"
	AppliesVerbs Applies = "verbs"
	AppliesBoth  Applies = "both"
)

// Transform maps an entity's metadata to a new value, or returns (nil,
// false) to signal no change (spec §4.9: "if None, skip"). Transforms must
// be pure and idempotent -- re-running against already-migrated metadata
// must again return (nil, false).
type Transform func(meta types.Doc) (types.Doc, bool)

// Migration is one versioned, idempotent transform.
type Migration struct {
	ID        string
	Version   int
	Applies   Applies
	Transform Transform
}

// Record tracks which migration IDs have completed, persisted as part of
// statistics.json in the real deployment; callers own its persistence.
type Record struct {
	CompletedIDs map[string]bool
}

// Runner executes migrations against a storage.Adapter, optionally fronted
// by an index-rebuild hook the caller supplies (metaindex rebuild after any
// document is modified).
type Runner struct {
	adapter      storage.Adapter
	migrations   []Migration
	onRebuild    func()
	autoRunMax   int // stored but not read: the Runner never runs pending migrations on its own, only through Run
}

// New creates a Runner over the given migration list, ordered by Version.
func New(adapter storage.Adapter, migrations []Migration, onRebuild func(), autoRunMax int) *Runner {
	if onRebuild == nil {
		onRebuild = func() {}
	}
	return &Runner{adapter: adapter, migrations: migrations, onRebuild: onRebuild, autoRunMax: autoRunMax}
}

// Pending returns migrations not yet marked complete in rec, in version
// order.
func (r *Runner) Pending(rec Record) []Migration {
	var out []Migration
	for _, m := range r.migrations {
		if !rec.CompletedIDs[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

// backupBranchName is the COW backup tag for a migration's pre-run state.
func backupBranchName(version int) string {
	return fmt.Sprintf("pre-migration-%d", version)
}

// Run executes migration m: snapshots a copy-on-write backup branch,
// paginates the selected population, and applies Transform to each
// document, saving only the documents that actually changed.
func (r *Runner) Run(ctx context.Context, m Migration) (RunResult, error) {
	backup := r.adapter.WithPrefix(backupBranchName(m.Version))
	if err := snapshotBranch(ctx, r.adapter, backup, m.Applies); err != nil {
		return RunResult{}, errs.Wrap("migration.run.backup", errs.MigrationFailed)
	}

	result := RunResult{MigrationID: m.ID}
	modified := 0

	if m.Applies == AppliesNouns || m.Applies == AppliesBoth {
		n, err := r.runNouns(ctx, m, false, 0)
		if err != nil {
			return result, err
		}
		modified += n
	}
	if m.Applies == AppliesVerbs || m.Applies == AppliesBoth {
		n, err := r.runVerbs(ctx, m, false, 0)
		if err != nil {
			return result, err
		}
		modified += n
	}

	result.ModifiedCount = modified
	if modified > 0 {
		r.onRebuild()
	}
	return result, nil
}

// RunResult summarizes a completed migration run.
type RunResult struct {
	MigrationID   string
	ModifiedCount int
}

// DryRunResult previews a migration without writing anything.
type DryRunResult struct {
	MigrationID  string
	AffectedIDs  []string
	TotalScanned int
	Before       []types.Doc
	After        []types.Doc
	EtaMs        int64
}

// DryRun samples up to 5 before/after pairs and estimates the affected
// count and rough ETA without performing any writes.
func (r *Runner) DryRun(ctx context.Context, m Migration) (DryRunResult, error) {
	start := time.Now()
	result := DryRunResult{MigrationID: m.ID}

	sample := func(ctx context.Context, applies Applies) error {
		var cursor string
		for {
			var page storage.PageResult
			var err error
			if applies == AppliesNouns {
				page, err = r.adapter.ListNouns(ctx, storage.Page{Cursor: cursor, Limit: 200})
			} else {
				page, err = r.adapter.ListVerbs(ctx, storage.Page{Cursor: cursor, Limit: 200})
			}
			if err != nil {
				return err
			}
			for _, id := range page.IDs {
				result.TotalScanned++
				before, err := r.getMeta(ctx, applies, id)
				if err != nil || before == nil {
					continue
				}
				after, changed := m.Transform(before.Metadata)
				if !changed {
					continue
				}
				result.AffectedIDs = append(result.AffectedIDs, id)
				if len(result.Before) < 5 {
					result.Before = append(result.Before, types.Doc(before.Metadata))
					result.After = append(result.After, after)
				}
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
		return nil
	}

	if m.Applies == AppliesNouns || m.Applies == AppliesBoth {
		if err := sample(ctx, AppliesNouns); err != nil {
			return result, err
		}
	}
	if m.Applies == AppliesVerbs || m.Applies == AppliesBoth {
		if err := sample(ctx, AppliesVerbs); err != nil {
			return result, err
		}
	}

	result.EtaMs = time.Since(start).Milliseconds()
	return result, nil
}

func (r *Runner) getMeta(ctx context.Context, applies Applies, id string) (*storage.MetadataRecord, error) {
	if applies == AppliesNouns {
		return r.adapter.GetNounMetadata(ctx, id, storage.ReadOpts{})
	}
	return r.adapter.GetVerbMetadata(ctx, id, storage.ReadOpts{})
}

func (r *Runner) runNouns(ctx context.Context, m Migration, dry bool, _ int) (int, error) {
	modified := 0
	var cursor string
	for {
		page, err := r.adapter.ListNouns(ctx, storage.Page{Cursor: cursor, Limit: 200})
		if err != nil {
			return modified, errs.Wrap("migration.run.nouns", errs.StorageUnavailable)
		}
		for _, id := range page.IDs {
			rec, err := r.adapter.GetNounMetadata(ctx, id, storage.ReadOpts{})
			if err != nil || rec == nil {
				continue
			}
			after, changed := m.Transform(rec.Metadata)
			if !changed {
				continue
			}
			rec.Metadata = after
			if !dry {
				if err := r.adapter.SaveNounMetadata(ctx, id, *rec); err != nil {
					return modified, errs.WrapKey("migration.run.nouns.save", id, errs.StorageUnavailable)
				}
			}
			modified++
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return modified, nil
}

func (r *Runner) runVerbs(ctx context.Context, m Migration, dry bool, _ int) (int, error) {
	modified := 0
	var cursor string
	for {
		page, err := r.adapter.ListVerbs(ctx, storage.Page{Cursor: cursor, Limit: 200})
		if err != nil {
			return modified, errs.Wrap("migration.run.verbs", errs.StorageUnavailable)
		}
		for _, id := range page.IDs {
			rec, err := r.adapter.GetVerbMetadata(ctx, id, storage.ReadOpts{})
			if err != nil || rec == nil {
				continue
			}
			after, changed := m.Transform(rec.Metadata)
			if !changed {
				continue
			}
			rec.Metadata = after
			if !dry {
				if err := r.adapter.SaveVerbMetadata(ctx, id, *rec); err != nil {
					return modified, errs.WrapKey("migration.run.verbs.save", id, errs.StorageUnavailable)
				}
			}
			modified++
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return modified, nil
}

// snapshotBranch copies every record in scope from src to dst -- a
// pointer-cheap operation in a real COW filesystem/object store; here it is
// a literal read-then-write, which is correct but not constant-time (the
// constant-time COW pointer copy spec §4.9 describes is a backend-level
// optimization available to filesystem/S3 adapters that alias objects
// rather than duplicating bytes; this package works against the Adapter
// interface, which has no such primitive, so it falls back to copy).
func snapshotBranch(ctx context.Context, src, dst storage.Adapter, applies Applies) error {
	if applies == AppliesNouns || applies == AppliesBoth {
		var cursor string
		for {
			page, err := src.ListNouns(ctx, storage.Page{Cursor: cursor, Limit: 200})
			if err != nil {
				return err
			}
			for _, id := range page.IDs {
				rec, err := src.GetNounMetadata(ctx, id, storage.ReadOpts{})
				if err == nil && rec != nil {
					_ = dst.SaveNounMetadata(ctx, id, *rec)
				}
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
	if applies == AppliesVerbs || applies == AppliesBoth {
		var cursor string
		for {
			page, err := src.ListVerbs(ctx, storage.Page{Cursor: cursor, Limit: 200})
			if err != nil {
				return err
			}
			for _, id := range page.IDs {
				rec, err := src.GetVerbMetadata(ctx, id, storage.ReadOpts{})
				if err == nil && rec != nil {
					_ = dst.SaveVerbMetadata(ctx, id, *rec)
				}
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
	return nil
}
