// Package rename implements the RenameStore: a bidirectional path-trie
// journal mapping virtual paths to real paths and vice versa. It owns no
// file content and performs no I/O — every operation is O(depth) in the
// virtual path, per spec.md §4.1.
//
// Store is NOT internally synchronized: the composite mount holds one
// read-write lock per mount guarding the Store plus its tombstone set
// (spec.md §4.5/§5), and callers are expected to take it before calling
// any method here.
package rename

import (
	"errors"

	"github.com/mwantia/unionfs/vpath"
)

// Runtime errors a Store can return. These are the only errors the store
// produces — it performs no I/O and so raises nothing else.
var (
	ErrAlreadyExists = errors.New("rename: destination already occupied")
	ErrNotExists     = errors.New("rename: source has no tracked entry")
	ErrInvalid       = errors.New("rename: self-rename or rename into own descendant")
)

// Store is the RenameStore: a forward tree (virtual → real) and a reverse
// tree (real → virtual) kept as mutual inverses.
type Store struct {
	forward       *trie
	reverse       *trie
	caseSensitive bool
}

// NewStore creates an empty RenameStore. caseSensitive controls the
// equality functor used by both trees' children maps.
func NewStore(caseSensitive bool) *Store {
	return &Store{
		forward:       newTrie(caseSensitive),
		reverse:       newTrie(caseSensitive),
		caseSensitive: caseSensitive,
	}
}

// AddEntry inserts virtual -> real in the forward tree and real -> virtual
// in the reverse tree. Fails with ErrAlreadyExists if either side already
// has a valid entry at the exact path given.
func (s *Store) AddEntry(virtual, real string) error {
	virtual, real = vpath.Clean(virtual), vpath.Clean(real)
	vParts, rParts := vpath.Split(virtual), vpath.Split(real)

	if n, ok := s.forward.get(vParts); ok && n.valid {
		return ErrAlreadyExists
	}
	if n, ok := s.reverse.get(rParts); ok && n.valid {
		return ErrAlreadyExists
	}

	fNode := s.forward.getOrCreate(vParts)
	fNode.valid = true
	fNode.payload = real

	rNode := s.reverse.getOrCreate(rParts)
	rNode.valid = true
	rNode.payload = virtual

	return nil
}

// Resolve walks the forward tree for the longest valid ancestor of
// virtual. If a match is found, it returns the translated real path
// (ancestor's real path with the unconsumed suffix appended). An
// ancestor-derived (non-exact) match is cross-checked against the
// reverse tree: if the synthesized real path has since been claimed by a
// more specific, independent rename (its reverse entry points somewhere
// else), the match is stale and Resolve reports not-found — this is what
// makes "rename a child of an already-renamed directory" correctly hide
// the old name (spec.md §8 nested-rename scenario).
func (s *Store) Resolve(virtual string) (real string, ok bool) {
	virtual = vpath.Clean(virtual)
	parts := vpath.Split(virtual)

	n, depth, ok := s.forward.longestValidAncestor(parts)
	if !ok {
		return "", false
	}

	real = vpath.Join(append([]string{n.payload}, parts[depth:]...)...)

	if depth == len(parts) {
		// Exact valid forward entry: authoritative by construction.
		return real, true
	}

	// Ancestor-derived: check for a more specific independent claim.
	if rn, exists := s.reverse.get(vpath.Split(real)); exists && rn.valid && rn.payload != virtual {
		return "", false
	}

	return real, true
}

// Exists reports the RenameStore's three-way knowledge about virtual:
// (true, true) if the forward tree resolves it to something, (true,
// false) if the reverse tree shows it as the old name of something moved
// away (so it now refers to nothing), or (false, false) if the store has
// no information and the caller should defer to the source stack.
func (s *Store) Exists(virtual string) (known, exists bool) {
	if _, ok := s.Resolve(virtual); ok {
		return true, true
	}

	parts := vpath.Split(vpath.Clean(virtual))
	if n, ok := s.reverse.get(parts); ok && n.valid {
		return true, false
	}

	return false, false
}

// Rename atomically moves the subtree rooted at src to dst. If src has no
// literal forward entry (nor an ancestor covering it), the caller's
// resolved real path for src must be supplied via resolvedReal — pass ""
// to have Rename resolve it itself (failing with ErrNotExists if nothing
// covers src and the caller didn't supply one). This mirrors the
// contract that the Resolver, not the Store, is responsible for knowing
// whether src exists at all in the union view.
func (s *Store) Rename(src, dst string, resolvedReal string) error {
	src, dst = vpath.Clean(src), vpath.Clean(dst)
	if src == dst {
		return ErrInvalid
	}
	if vpath.HasPrefix(dst, src, s.caseSensitive) {
		return ErrInvalid
	}

	srcParts := vpath.Split(src)
	dstParts := vpath.Split(dst)

	if n, ok := s.forward.get(dstParts); ok && n.valid {
		return ErrAlreadyExists
	}

	srcNode, hasLiteral := s.forward.get(srcParts)

	var descendants []descendant
	if hasLiteral {
		descendants = collectValid(srcNode)
	}

	if len(descendants) == 0 {
		real := resolvedReal
		if real == "" {
			r, ok := s.Resolve(src)
			if !ok {
				return ErrNotExists
			}
			real = r
		}
		descendants = []descendant{{suffix: nil, payload: real}}
	}

	for _, d := range descendants {
		oldV := vpath.Join(append(append([]string{}, srcParts...), d.suffix...)...)
		newV := vpath.Join(append(append([]string{}, dstParts...), d.suffix...)...)
		realParts := vpath.Split(d.payload)

		// Clear the old mapping on both sides before installing the new one.
		s.forward.removeExact(vpath.Split(oldV))
		s.reverse.removeExact(realParts)

		fNode := s.forward.getOrCreate(vpath.Split(newV))
		fNode.valid = true
		fNode.payload = d.payload

		rNode := s.reverse.getOrCreate(realParts)
		rNode.valid = true
		rNode.payload = newV
	}

	return nil
}

// RemoveEntry invalidates both sides of the entry at virtual (if any) and
// prunes now-empty interior nodes. Returns true if a valid entry existed.
func (s *Store) RemoveEntry(virtual string) bool {
	virtual = vpath.Clean(virtual)
	parts := vpath.Split(virtual)

	n, ok := s.forward.get(parts)
	if !ok || !n.valid {
		return false
	}

	real := n.payload
	s.forward.removeExact(parts)
	s.reverse.removeExact(vpath.Split(real))

	return true
}

// Entry is one valid forward mapping, used by All for full-snapshot
// persistence (metadata.Store.Save serializes the whole RenameStore, not
// an incremental log).
type Entry struct {
	Virtual string
	Real    string
}

// All returns every valid forward entry in the store.
func (s *Store) All() []Entry {
	descendants := collectValid(s.forward.root)
	out := make([]Entry, 0, len(descendants))
	for _, d := range descendants {
		out = append(out, Entry{Virtual: vpath.Join(d.suffix...), Real: d.payload})
	}
	return out
}

// Direction selects which tree ListChildren enumerates.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// Child is one entry returned by ListChildren: the child's component name
// on the tree being listed, and its counterpart path on the opposite tree
// (only meaningful if the child itself is valid).
type Child struct {
	Name  string
	Valid bool
	Other string
}

// ListChildren returns the immediate children of virtual (or real, for
// Reverse) among nodes that are themselves valid or host valid
// descendants, in deterministic case-folded order.
func (s *Store) ListChildren(path string, dir Direction) []Child {
	t := s.forward
	if dir == Reverse {
		t = s.reverse
	}

	parts := vpath.Split(vpath.Clean(path))
	nodes := t.children2(parts)

	out := make([]Child, 0, len(nodes))
	for _, n := range nodes {
		if !n.valid && n.children.Len() == 0 {
			continue
		}
		out = append(out, Child{Name: n.name, Valid: n.valid, Other: n.payload})
	}
	return out
}
