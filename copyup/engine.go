// Package copyup implements the CopyUpEngine of spec.md §4.4: on first
// write to a path whose authoritative source is below rank 0, it
// materializes the file into the writable top source before the write
// proceeds.
//
// Engine implements only the mechanical copy (the PortationContext
// export/import loop, idempotency check, metadata copy, and
// rollback-on-failure). The eager-vs-deferred policy decision — whether
// to call Run immediately on first write, or to stash an intent marker
// and trigger Run lazily on the next read/write through the same
// FileContext — belongs to the mount package, which owns FileContext
// lifetime.
package copyup

import (
	"context"
	"io"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

// DefaultChunkSize is the bounded scratch buffer size used when streaming
// a file from the source stream to the destination, per spec.md §4.4
// step 3's 64KiB-1MiB guidance.
const DefaultChunkSize = 256 * 1024

// Engine runs the copy-up algorithm. It is stateless and safe for
// concurrent use across distinct (src, dst, path) triples; callers must
// still serialize concurrent copy-ups of the *same* path themselves (the
// composite mount's RenameStore write lock does this).
type Engine struct {
	ChunkSize int
}

// New creates an Engine with the default chunk size.
func New() *Engine {
	return &Engine{ChunkSize: DefaultChunkSize}
}

// Result reports what Run actually did.
type Result struct {
	// Skipped is true when the destination already holds an identical
	// copy (existence + size + times match) — the idempotent no-op case.
	Skipped bool
}

// Run materializes real (as it exists in src) into dst, per spec.md §4.4.
// dst must be the writable rank-0 source; src is the source the path
// currently resolves to.
func (e *Engine) Run(ctx context.Context, dst, src source.Mount, real string) (*Result, error) {
	chunk := e.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}

	srcInfo, err := src.GetFileInfo(ctx, real)
	if err != nil {
		return nil, vfserrors.New(vfserrors.KindNotExists, "copyup", real, err)
	}

	if dstInfo, err := dst.GetFileInfo(ctx, real); err == nil {
		if idempotent(srcInfo, dstInfo) {
			return &Result{Skipped: true}, nil
		}
		// Stale partial copy from a prior failed attempt; clear it.
		_ = dst.Delete(ctx, real, false)
	}

	if err := ensureParents(ctx, dst, real); err != nil {
		return nil, vfserrors.PluginError("copyup", real, err)
	}

	if err := dst.CreateFile(ctx, real, srcInfo.Mode); err != nil {
		return nil, vfserrors.PluginError("copyup", real, err)
	}

	if err := e.stream(ctx, dst, src, real, chunk); err != nil {
		_ = dst.Delete(ctx, real, false)
		return nil, err
	}

	_ = dst.SetTimes(ctx, real,
		source.Int64(srcInfo.AccessTime.Unix()),
		source.Int64(srcInfo.ModTime.Unix()),
		source.Int64(srcInfo.CreateTime.Unix()),
	)
	_ = dst.SetAttrs(ctx, real, srcInfo.Mode)

	return &Result{}, nil
}

// stream performs the strict offset-ordered export/import loop: the
// PortationContext split (spec.md §9) exists because some sources stream
// rather than seek, so every byte must be written in the order it was
// read.
func (e *Engine) stream(ctx context.Context, dst, src source.Mount, real string, chunk int) error {
	portation, err := src.ExportStart(ctx, real)
	if err != nil {
		return vfserrors.PluginError("copyup", real, err)
	}

	disposition := source.DispositionTruncateExisting
	handle, _, err := dst.Open(ctx, real, source.AccessWrite, source.ShareWrite, disposition)
	if err != nil {
		_ = src.ExportFinish(ctx, portation, false)
		return vfserrors.PluginError("copyup", real, err)
	}

	buf := make([]byte, chunk)
	var offset int64
	var copyErr error

	for {
		n, rerr := src.ExportData(ctx, portation, buf)
		if n > 0 {
			if _, werr := dst.Write(ctx, handle, offset, buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			offset += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			copyErr = rerr
			break
		}
	}

	_ = dst.Close(ctx, handle)
	_ = src.ExportFinish(ctx, portation, copyErr == nil)

	if copyErr != nil {
		return vfserrors.PluginError("copyup", real, copyErr)
	}
	return nil
}

// idempotent reports whether dstInfo already reflects srcInfo's content,
// per spec.md §4.4's "existence + size + times" comparison.
func idempotent(src, dst *source.Info) bool {
	return dst.Size == src.Size && dst.ModTime.Equal(src.ModTime)
}

// ensureParents creates the ancestor directory chain of real at dst, in
// order, tolerating AlreadyExists.
func ensureParents(ctx context.Context, dst source.Mount, real string) error {
	dir := vpath.Dir(real)
	if dir == "" {
		return nil
	}

	parts := vpath.Split(dir)
	path := ""
	for _, p := range parts {
		path = vpath.Join(path, p)
		if _, err := dst.GetFileInfo(ctx, path); err == nil {
			continue
		}
		if err := dst.CreateDir(ctx, path, source.ModeDir|0755); err != nil && !vfserrors.Is(err, vfserrors.KindAlreadyExists) {
			return err
		}
	}
	return nil
}
