package resolver

import "github.com/mwantia/unionfs/vpath"

// TombstoneSet tracks virtual paths recorded as deleted from a lower
// source; Resolver consults it to hide names that still physically exist
// below rank 0 (spec.md §3 "Tombstone", §4.3 step 2/3).
//
// Not internally synchronized — CompositeMount's RenameStore read-write
// lock also guards the tombstone set, exactly as it guards the
// RenameStore itself (spec.md §4.5).
type TombstoneSet struct {
	caseSensitive bool
	set           map[string]struct{}
}

// NewTombstoneSet creates an empty set.
func NewTombstoneSet(caseSensitive bool) *TombstoneSet {
	return &TombstoneSet{caseSensitive: caseSensitive, set: make(map[string]struct{})}
}

func (t *TombstoneSet) fold(virtual string) string {
	clean := vpath.Clean(virtual)
	if t.caseSensitive {
		return clean
	}
	parts := vpath.Split(clean)
	for i, p := range parts {
		parts[i] = vpath.FoldComponent(p, false)
	}
	return vpath.Join(parts...)
}

// Add records virtual as deleted.
func (t *TombstoneSet) Add(virtual string) {
	t.set[t.fold(virtual)] = struct{}{}
}

// Remove clears a tombstone (on successful recreate). Reports whether one
// was present.
func (t *TombstoneSet) Remove(virtual string) bool {
	key := t.fold(virtual)
	if _, ok := t.set[key]; !ok {
		return false
	}
	delete(t.set, key)
	return true
}

// Has reports whether virtual is currently tombstoned.
func (t *TombstoneSet) Has(virtual string) bool {
	_, ok := t.set[t.fold(virtual)]
	return ok
}

// All returns every tombstoned path, for MetadataStore persistence.
func (t *TombstoneSet) All() []string {
	out := make([]string, 0, len(t.set))
	for k := range t.set {
		out = append(out, k)
	}
	return out
}
