package metadata

import (
	"bytes"
	"sort"

	"github.com/mwantia/unionfs/rename"
	"github.com/mwantia/unionfs/vfserrors"
)

// Backend is the narrow persistence primitive the MetadataStore needs
// from rank-0: read the current snapshot (if any) and atomically replace
// it. Concrete sources implement this using whatever "write-to-temp-then-
// rename" mechanism they have available; sources/local backs it directly
// with os.Rename, since the metadata file is an engine-internal object
// in the writable source's own namespace, not a user-visible virtual
// path subject to union semantics.
type Backend interface {
	ReadMetadataFile(name string) ([]byte, error) // empty, nil error if absent
	WriteMetadataFileAtomic(name string, data []byte) error
}

// Store is the MetadataStore of spec.md §4.6: it persists a RenameStore
// snapshot plus tombstones and copy-up markers to a single file in the
// writable source. Every Save is a full, atomic snapshot rewrite, so
// replay never needs to resolve conflicting history — this is also what
// makes a tombstone's removal (on recreate) representable without a
// fourth record kind: the cleared tombstone is simply absent from the
// next snapshot.
type Store struct {
	backend  Backend
	filename string
}

// NewStore binds a MetadataStore to filename within backend.
func NewStore(backend Backend, filename string) *Store {
	return &Store{backend: backend, filename: filename}
}

// Snapshot is the full durable state of one mount's topology.
type Snapshot struct {
	CaseSensitive bool
	Entries       []rename.Entry
	Tombstones    []string
	CopiedUp      []string
}

// Load reads and parses the metadata file, reconstructing a fresh
// RenameStore plus tombstone and copy-up marker sets. A missing file
// yields an empty Snapshot and no error (first mount). Any parse failure
// is reported as vfserrors.MetadataCorrupt by metadata.ReadAll, and the
// caller (CompositeMount) must refuse to start the mount, per spec.md §7.
func (s *Store) Load(caseSensitive bool) (*rename.Store, *Snapshot, error) {
	data, err := s.backend.ReadMetadataFile(s.filename)
	if err != nil {
		return nil, nil, err
	}

	ren := rename.NewStore(caseSensitive)
	snap := &Snapshot{CaseSensitive: caseSensitive}

	if len(data) == 0 {
		return ren, snap, nil
	}

	records, err := ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}

	for _, rec := range records {
		switch rec.Kind {
		case KindRename:
			// AddEntry cannot fail on a well-formed, internally
			// consistent snapshot; a failure here means the file was
			// hand-edited or corrupted in a way Decode couldn't catch.
			if err := ren.AddEntry(rec.Virtual, rec.Real); err != nil {
				return nil, nil, vfserrors.MetadataCorrupt("replay", rec.Virtual, err)
			}
			snap.Entries = append(snap.Entries, rename.Entry{Virtual: rec.Virtual, Real: rec.Real})
		case KindTombstone:
			snap.Tombstones = append(snap.Tombstones, rec.Virtual)
		case KindCopyUpDone:
			snap.CopiedUp = append(snap.CopiedUp, rec.Virtual)
		}
	}

	return ren, snap, nil
}

// Save serializes the full current state as one atomic snapshot write.
func (s *Store) Save(ren *rename.Store, tombstones, copiedUp []string) error {
	entries := ren.All()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Virtual < entries[j].Virtual })
	sorted := append([]string(nil), tombstones...)
	sort.Strings(sorted)
	sortedCopy := append([]string(nil), copiedUp...)
	sort.Strings(sortedCopy)

	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(Encode(Record{Kind: KindRename, Virtual: e.Virtual, Real: e.Real}))
	}
	for _, t := range sorted {
		buf.WriteString(Encode(Record{Kind: KindTombstone, Virtual: t}))
	}
	for _, c := range sortedCopy {
		buf.WriteString(Encode(Record{Kind: KindCopyUpDone, Virtual: c}))
	}

	return s.backend.WriteMetadataFileAtomic(s.filename, buf.Bytes())
}
