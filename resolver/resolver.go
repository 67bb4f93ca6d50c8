// Package resolver implements the Resolver of spec.md §4.3: given a
// virtual path and an operation class, it selects the owning source(s) in
// a mount's stack and translates the virtual path to each source's real
// path using a rename.Store, honoring the tombstone-skip rule and the
// stack-order tie-break.
//
// Resolver holds no lock of its own — CompositeMount's RenameStore
// read-write lock covers every field a Resolver reads, exactly as it
// covers the RenameStore directly (spec.md §4.5).
package resolver

import (
	"context"

	"github.com/mwantia/unionfs/rename"
	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

// Resolver is constructed fresh (cheaply — it owns no state besides these
// references) whenever CompositeMount needs to dispatch an operation.
type Resolver struct {
	Sources       []source.Mount // rank 0 first, writable
	Rename        *rename.Store
	Tombstones    *TombstoneSet
	CaseSensitive bool
}

// New builds a Resolver over an already-locked mount's state.
func New(sources []source.Mount, ren *rename.Store, tomb *TombstoneSet, caseSensitive bool) *Resolver {
	return &Resolver{Sources: sources, Rename: ren, Tombstones: tomb, CaseSensitive: caseSensitive}
}

// translate applies the RenameStore's longest-valid-ancestor substitution
// to v. Absent any rename record, every source is rooted identically to
// the virtual namespace, so the real path defaults to v unchanged.
func (r *Resolver) translate(v string) string {
	if real, ok := r.Rename.Resolve(v); ok {
		return real
	}
	return vpath.Clean(v)
}

// Located is one hit from Metadata/Read resolution.
type Located struct {
	Rank int
	Real string
	Info *source.Info
}

// Metadata implements operation class 2 for metadata queries: iterate
// sources top-to-bottom, skipping any source at which v is tombstoned
// (rank > 0 only — rank 0 is never itself tombstoned), and return the
// first successful GetFileInfo. A path the RenameStore knows as the old
// name of something renamed away resolves to nothing.
func (r *Resolver) Metadata(ctx context.Context, v string) (*Located, error) {
	if known, exists := r.Rename.Exists(v); known && !exists {
		return nil, vfserrors.NotExists("metadata", v)
	}

	real := r.translate(v)

	for rank, src := range r.Sources {
		if rank > 0 && r.Tombstones.Has(v) {
			continue
		}
		info, err := src.GetFileInfo(ctx, real)
		if err == nil {
			return &Located{Rank: rank, Real: real, Info: info}, nil
		}
	}

	return nil, vfserrors.NotExists("metadata", v)
}

// Read implements operation class 2 for read: identical resolution to
// Metadata (the caller opens the returned Located.Rank/Real themselves).
func (r *Resolver) Read(ctx context.Context, v string) (*Located, error) {
	return r.Metadata(ctx, v)
}

// Child is one name surfaced by Enumerate, tagged with the rank whose
// metadata won the union merge.
type Child struct {
	Name string
	Rank int
	Info *source.Info
}

// Enumerate implements operation class 3: merge every source's children
// of v into a set keyed by case-folded-or-literal name, first occurrence
// wins, tombstoned names (rank > 0) filtered out entirely. fn is invoked
// in stack order for each surviving name; enumeration stops early
// (without error) if fn returns false.
func (r *Resolver) Enumerate(ctx context.Context, v string, fn func(Child) bool) error {
	real := r.translate(v)
	seen := make(map[string]struct{})
	stop := false

	for rank, src := range r.Sources {
		if stop {
			break
		}

		err := src.ListFiles(ctx, real, func(info *source.Info) bool {
			key := vpath.FoldComponent(info.Name, r.CaseSensitive)
			if _, dup := seen[key]; dup {
				return true
			}

			childV := vpath.Join(v, info.Name)
			if rank > 0 && r.Tombstones.Has(childV) {
				seen[key] = struct{}{}
				return true
			}

			seen[key] = struct{}{}
			if !fn(Child{Name: info.Name, Rank: rank, Info: info}) {
				stop = true
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// WritePlan is what PrepareWrite resolves: where to write, and whether a
// copy-up must run first.
type WritePlan struct {
	Real         string
	NeedsCopyUp  bool
	CopyUpRank   int
	CopyUpReal   string
}

// PrepareWrite implements operation class 4: the target is always source
// 0. If source 0 doesn't have the file, a lower source must own it (and
// not be tombstoned), triggering a copy-up before the write proceeds.
func (r *Resolver) PrepareWrite(ctx context.Context, v string) (*WritePlan, error) {
	real := r.translate(v)

	if _, err := r.Sources[0].GetFileInfo(ctx, real); err == nil {
		return &WritePlan{Real: real}, nil
	}

	if r.Tombstones.Has(v) {
		return nil, vfserrors.NotExists("write", v)
	}

	for rank := 1; rank < len(r.Sources); rank++ {
		if _, err := r.Sources[rank].GetFileInfo(ctx, real); err == nil {
			return &WritePlan{Real: real, NeedsCopyUp: true, CopyUpRank: rank, CopyUpReal: real}, nil
		}
	}

	return nil, vfserrors.NotExists("write", v)
}

// PrepareCreate implements operation class 5: fail with AlreadyExists if
// any source already exposes v, unless a tombstone is present (cleared by
// the caller on success).
func (r *Resolver) PrepareCreate(ctx context.Context, v string) (real string, clearTombstone bool, err error) {
	real = r.translate(v)

	if r.Tombstones.Has(v) {
		return real, true, nil
	}

	for _, src := range r.Sources {
		if _, err := src.GetFileInfo(ctx, real); err == nil {
			return "", false, vfserrors.AlreadyExists("create", v)
		}
	}

	return real, false, nil
}

// DeletePlan is what PrepareDelete resolves. Directory emptiness in the
// union view (required before a recursive=false directory delete) is not
// checked here — the caller uses Enumerate against v first, since that
// check spans the whole stack and the plan alone doesn't need it.
type DeletePlan struct {
	Real           string
	Rank0Only      bool // delete directly at source 0, no tombstone needed
	NeedsTombstone bool // file lives below rank 0; record a tombstone instead
}

// PrepareDelete implements operation class 6.
func (r *Resolver) PrepareDelete(ctx context.Context, v string) (*DeletePlan, error) {
	real := r.translate(v)

	_, topErr := r.Sources[0].GetFileInfo(ctx, real)
	existsAtTop := topErr == nil

	existsBelow := false
	if !r.Tombstones.Has(v) {
		for rank := 1; rank < len(r.Sources); rank++ {
			if _, err := r.Sources[rank].GetFileInfo(ctx, real); err == nil {
				existsBelow = true
				break
			}
		}
	}

	if !existsAtTop && !existsBelow {
		return nil, vfserrors.NotExists("delete", v)
	}
	if existsAtTop && !existsBelow {
		return &DeletePlan{Real: real, Rank0Only: true}, nil
	}

	return &DeletePlan{Real: real, NeedsTombstone: true}, nil
}
