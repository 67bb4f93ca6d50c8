// Package sqltable implements a read-only source.Mount exposing the rows
// of one SQL query as a flat directory of JSON files, one per row, named
// by a configured key column. Grounded on the teacher's
// mount/backend/sqlite and mount/backend/postgres packages' use of
// database/sql with driver-specific DSNs; this adapter is driver-agnostic
// and accepts any *sql.DB, typically opened against modernc.org/sqlite or
// github.com/jackc/pgx/v5/stdlib.
package sqltable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mwantia/unionfs/source"
	"github.com/mwantia/unionfs/vfserrors"
	"github.com/mwantia/unionfs/vpath"
)

// Config describes the query backing one sqltable.Source.
type Config struct {
	// Query selects every row to expose. It must project a column named
	// by KeyColumn plus whatever other columns should appear in each
	// row's JSON body.
	Query string
	// KeyColumn names the result column used to build each row's virtual
	// file name (suffixed with ".json").
	KeyColumn string
	// RefreshInterval re-runs Query and rebuilds the row cache after this
	// much time has elapsed since the last load; zero means the query
	// runs once, at New.
	RefreshInterval time.Duration
}

// Source is a read-only snapshot of Config.Query's result set.
type Source struct {
	db  *sql.DB
	cfg Config

	mu       sync.RWMutex
	rows     map[string][]byte // row key -> encoded JSON document
	order    []string
	loadedAt time.Time
}

// New runs cfg.Query once to populate the initial row cache.
func New(ctx context.Context, db *sql.DB, cfg Config) (*Source, error) {
	s := &Source{db: db, cfg: cfg}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) reload(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, s.cfg.Query)
	if err != nil {
		return vfserrors.PluginError("sqltable.reload", "", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	keyIdx := -1
	for i, c := range cols {
		if c == s.cfg.KeyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return fmt.Errorf("sqltable: query does not project key column %q", s.cfg.KeyColumn)
	}

	out := make(map[string][]byte)
	var order []string

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		doc := make(map[string]any, len(cols))
		for i, c := range cols {
			doc[c] = normalizeSQLValue(vals[i])
		}

		keyVal := fmt.Sprintf("%v", doc[s.cfg.KeyColumn])
		if keyVal == "" || keyVal == "<nil>" {
			continue
		}

		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}

		name := keyVal + ".json"
		if _, exists := out[name]; !exists {
			order = append(order, name)
		}
		out[name] = encoded
	}
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Strings(order)

	s.mu.Lock()
	s.rows = out
	s.order = order
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// normalizeSQLValue converts database/sql's driver.Value types ([]byte
// in particular) into JSON-friendly equivalents.
func normalizeSQLValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func (s *Source) maybeRefresh(ctx context.Context) {
	if s.cfg.RefreshInterval <= 0 {
		return
	}
	s.mu.RLock()
	stale := time.Since(s.loadedAt) > s.cfg.RefreshInterval
	s.mu.RUnlock()
	if stale {
		_ = s.reload(ctx)
	}
}

func (s *Source) Name() string   { return "sqltable" }
func (s *Source) Writable() bool { return false }

func (s *Source) GetFileInfo(ctx context.Context, real string) (*source.Info, error) {
	s.maybeRefresh(ctx)
	clean := vpath.Clean(real)
	if clean == "" {
		return &source.Info{Name: "", Type: source.TypeDirectory, Mode: source.ModeDir | 0555}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	name := vpath.Base(clean)
	data, ok := s.rows[name]
	if !ok {
		return nil, vfserrors.NotExists("getfileinfo", real)
	}
	return &source.Info{Name: name, Type: source.TypeFile, Size: int64(len(data)), Mode: 0444}, nil
}

func (s *Source) ListFiles(ctx context.Context, real string, fn func(*source.Info) bool) error {
	s.maybeRefresh(ctx)
	if vpath.Clean(real) != "" {
		return vfserrors.NotExists("listfiles", real)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		if !fn(&source.Info{Name: name, Type: source.TypeFile, Size: int64(len(s.rows[name])), Mode: 0444}) {
			break
		}
	}
	return nil
}

func (s *Source) lookup(real string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.rows[vpath.Base(vpath.Clean(real))]
	if !ok {
		return nil, vfserrors.NotExists("lookup", real)
	}
	return data, nil
}

func (s *Source) Open(ctx context.Context, real string, access source.AccessMode, share source.ShareMode, disposition source.Disposition) (source.Handle, *source.Info, error) {
	if access.CanWrite() {
		return nil, nil, vfserrors.AccessDenied("open", real)
	}
	s.maybeRefresh(ctx)
	data, err := s.lookup(real)
	if err != nil {
		return nil, nil, err
	}
	return data, &source.Info{Name: vpath.Base(vpath.Clean(real)), Type: source.TypeFile, Size: int64(len(data)), Mode: 0444}, nil
}

func (s *Source) Close(ctx context.Context, h source.Handle) error { return nil }

func (s *Source) Read(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	data := h.([]byte)
	if offset >= int64(len(data)) {
		return 0, nil
	}
	return copy(buf, data[offset:]), nil
}

func (s *Source) Write(ctx context.Context, h source.Handle, offset int64, buf []byte) (int, error) {
	return 0, vfserrors.AccessDenied("write", "")
}

func (s *Source) SetTimes(ctx context.Context, real string, access, modify, create source.Int64Opt) error {
	return vfserrors.AccessDenied("settimes", real)
}

func (s *Source) SetAttrs(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("setattrs", real)
}

func (s *Source) SetSize(ctx context.Context, real string, size int64) error {
	return vfserrors.AccessDenied("setsize", real)
}

func (s *Source) CreateFile(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("createfile", real)
}

func (s *Source) CreateDir(ctx context.Context, real string, mode source.FileMode) error {
	return vfserrors.AccessDenied("createdir", real)
}

func (s *Source) Delete(ctx context.Context, real string, recursive bool) error {
	return vfserrors.AccessDenied("delete", real)
}

type exportCursor struct {
	data   []byte
	cursor int
}

func (s *Source) ExportStart(ctx context.Context, real string) (source.Portation, error) {
	data, err := s.lookup(real)
	if err != nil {
		return nil, err
	}
	return &exportCursor{data: data}, nil
}

func (s *Source) ExportData(ctx context.Context, p source.Portation, buf []byte) (int, error) {
	ec := p.(*exportCursor)
	if ec.cursor >= len(ec.data) {
		return 0, io.EOF
	}
	n := copy(buf, ec.data[ec.cursor:])
	ec.cursor += n
	return n, nil
}

func (s *Source) ExportFinish(ctx context.Context, p source.Portation, success bool) error {
	return nil
}

func (s *Source) VolumeInfo(ctx context.Context) (*source.VolumeInfo, error) {
	return &source.VolumeInfo{Name: "sqltable", FileSystemName: "sqltable", MaxComponentLen: 255}, nil
}

func (s *Source) Capabilities() []source.Capability {
	return []source.Capability{source.CapabilityStreaming}
}
