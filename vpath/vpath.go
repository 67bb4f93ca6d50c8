// Package vpath implements the virtual-path primitives shared by the
// rename store, resolver, and composite mount: splitting into components,
// case-sensitive/insensitive comparison, and prefix arithmetic.
//
// The wire form uses '/' as the separator (idiomatic for Go io/fs-style
// consumers); the spec's '\'-separated form is a presentation detail of
// the original bridge, not a semantic requirement, so components and
// casing-preservation behave identically either way.
package vpath

import "strings"

const Separator = "/"

// Clean normalizes a virtual path: collapses repeated separators, trims
// a trailing separator, and ensures there is no leading separator (the
// internal representation is always relative to the mount root, which is
// the empty string per the spec's "root is the empty tail").
func Clean(path string) string {
	if path == "" {
		return ""
	}

	parts := Split(path)
	return strings.Join(parts, Separator)
}

// Split breaks a virtual path into its non-empty name components.
func Split(path string) []string {
	raw := strings.Split(path, Separator)
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Join reassembles components into a cleaned virtual path.
func Join(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, p := range parts {
		filtered = append(filtered, Split(p)...)
	}
	return strings.Join(filtered, Separator)
}

// Base returns the last component of path, or "" for the root.
func Base(path string) string {
	parts := Split(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Dir returns the parent of path, or "" for the root or a top-level name.
func Dir(path string) string {
	parts := Split(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], Separator)
}

// FoldComponent normalizes a single path component for comparison purposes
// according to the mount's case-sensitivity flag. The original casing must
// still be preserved wherever the component is stored (see rename.Store) —
// FoldComponent is for the comparison key only.
func FoldComponent(component string, caseSensitive bool) string {
	if caseSensitive {
		return component
	}
	return strings.ToLower(component)
}

// HasPrefix reports whether path lies at or beneath prefix, treated as a
// sequence of components (so "ab" is not a prefix of "abc").
func HasPrefix(path, prefix string, caseSensitive bool) bool {
	if prefix == "" {
		return true
	}

	pathParts := Split(path)
	prefixParts := Split(prefix)
	if len(prefixParts) > len(pathParts) {
		return false
	}

	for i, p := range prefixParts {
		if FoldComponent(p, caseSensitive) != FoldComponent(pathParts[i], caseSensitive) {
			return false
		}
	}
	return true
}

// TrimPrefix removes the leading `prefix` components from path and returns
// what remains, joined back into a cleaned virtual path. Assumes
// HasPrefix(path, prefix, ...) is true.
func TrimPrefix(path, prefix string) string {
	pathParts := Split(path)
	prefixParts := Split(prefix)
	if len(prefixParts) > len(pathParts) {
		return ""
	}
	return strings.Join(pathParts[len(prefixParts):], Separator)
}
