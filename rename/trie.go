package rename

import (
	"github.com/mwantia/unionfs/vpath"
	"github.com/tidwall/btree"
)

// node is one level of a path trie. Interior nodes exist solely to host
// descendants; a node is "valid" only once an entry is recorded at it.
// children is keyed by the case-folded component so lookups respect the
// mount's case-sensitivity flag while name preserves the casing the
// component was first inserted with (per spec.md §3: "casing of the
// stored form is preserved on insertion").
type node struct {
	name     string
	children *btree.Map[string, *node]
	valid    bool
	payload  string
}

func newNode(name string) *node {
	return &node{name: name, children: btree.NewMap[string, *node](0)}
}

// trie is one side (forward or reverse) of a RenameStore.
type trie struct {
	root          *node
	caseSensitive bool
}

func newTrie(caseSensitive bool) *trie {
	return &trie{root: newNode(""), caseSensitive: caseSensitive}
}

func (t *trie) fold(component string) string {
	return vpath.FoldComponent(component, t.caseSensitive)
}

// get performs an exact lookup, never creating nodes.
func (t *trie) get(parts []string) (*node, bool) {
	cur := t.root
	for _, p := range parts {
		child, ok := cur.children.Get(t.fold(p))
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// getOrCreate walks parts, creating interior nodes as needed.
func (t *trie) getOrCreate(parts []string) *node {
	cur := t.root
	for _, p := range parts {
		key := t.fold(p)
		child, ok := cur.children.Get(key)
		if !ok {
			child = newNode(p)
			cur.children.Set(key, child)
		}
		cur = child
	}
	return cur
}

// longestValidAncestor walks parts and returns the deepest valid node
// found along the way together with how many components were consumed to
// reach it. If no node along the path (including the root) is valid, ok
// is false.
func (t *trie) longestValidAncestor(parts []string) (n *node, depth int, ok bool) {
	cur := t.root
	if cur.valid {
		n, depth, ok = cur, 0, true
	}

	for i, p := range parts {
		child, exists := cur.children.Get(t.fold(p))
		if !exists {
			break
		}
		cur = child
		if cur.valid {
			n, depth, ok = cur, i+1, true
		}
	}

	return n, depth, ok
}

// descendant is a valid node found during a subtree walk, identified by
// its path suffix relative to the walk's starting point.
type descendant struct {
	suffix  []string
	payload string
}

// collectValid walks the subtree rooted at start (inclusive) and returns
// every valid node, along with its path suffix relative to start.
func collectValid(start *node) []descendant {
	var out []descendant
	var walk func(n *node, suffix []string)
	walk = func(n *node, suffix []string) {
		if n.valid {
			cp := append([]string(nil), suffix...)
			out = append(out, descendant{suffix: cp, payload: n.payload})
		}
		n.children.Scan(func(key string, child *node) bool {
			walk(child, append(suffix, child.name))
			return true
		})
	}
	walk(start, nil)
	return out
}

// removeExact invalidates the node at parts (if any) and prunes interior
// nodes left with no valid descendants. Returns true if a valid node was
// removed.
func (t *trie) removeExact(parts []string) bool {
	path := make([]*node, 0, len(parts)+1)
	path = append(path, t.root)

	cur := t.root
	for _, p := range parts {
		child, ok := cur.children.Get(t.fold(p))
		if !ok {
			return false
		}
		path = append(path, child)
		cur = child
	}

	if !cur.valid {
		return false
	}
	cur.valid = false
	cur.payload = ""

	// Prune bottom-up: drop any trailing node with no children and no
	// validity, starting from the leaf.
	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		if n.valid || n.children.Len() > 0 {
			break
		}
		parent := path[i-1]
		parent.children.Delete(t.fold(n.name))
	}

	return true
}

// children2 returns the immediate child entries of the node at parts, in
// case-folded key order, or nil if parts does not name an existing node.
func (t *trie) children2(parts []string) []*node {
	n, ok := t.get(parts)
	if !ok {
		return nil
	}

	out := make([]*node, 0, n.children.Len())
	n.children.Scan(func(_ string, child *node) bool {
		out = append(out, child)
		return true
	})
	return out
}
