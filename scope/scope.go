// Package scope implements the fixed catalog of permission strings the server
// recognizes and the set operations grants are built from.
//
// Scopes compose via set semantics: requested, allowed, and granted are all
// sets, granted = requested ∩ allowed, and an empty intersection is an error
// surfaced by the caller as invalid_scope.
package scope

import (
	"sort"
	"strings"
)

// Wildcard grants access to every scope when present on a token.
// It is only meaningful during token verification, never at registration.
const Wildcard = "*"

// Catalog is the fixed set of valid scope strings, built once from
// configuration and read-only afterwards.
type Catalog struct {
	scopes  []string
	members map[string]struct{}
}

// NewCatalog builds a catalog from the configured scope list.
// Duplicates are collapsed; order of first appearance is preserved.
func NewCatalog(scopes []string) *Catalog {
	c := &Catalog{
		members: make(map[string]struct{}, len(scopes)),
	}
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := c.members[s]; ok {
			continue
		}
		c.members[s] = struct{}{}
		c.scopes = append(c.scopes, s)
	}
	return c
}

// Parse splits a space-separated scope string into its scope tokens.
// An empty or whitespace-only input yields an empty set.
func Parse(s string) []string {
	return strings.Fields(s)
}

// Join renders a scope set back to its space-separated wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Contains reports whether a single scope is in the catalog.
func (c *Catalog) Contains(scope string) bool {
	_, ok := c.members[scope]
	return ok
}

// Filter returns requested ∩ catalog, preserving the order of the requested
// set and dropping duplicates. Unknown scopes are dropped silently; the
// caller decides whether an empty result is an error.
func (c *Catalog) Filter(requested []string) []string {
	granted := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, s := range requested {
		if !c.Contains(s) {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		granted = append(granted, s)
	}
	return granted
}

// All returns the full catalog in registration order. The returned slice is a
// copy; callers may not mutate catalog state through it.
func (c *Catalog) All() []string {
	out := make([]string, len(c.scopes))
	copy(out, c.scopes)
	return out
}

// Intersect returns a ∩ b, preserving the order of a.
func Intersect(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, s := range b {
		inB[s] = struct{}{}
	}
	out := make([]string, 0, len(a))
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		if _, ok := inB[s]; !ok {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Subset reports whether every scope in sub is present in super.
// An empty sub is a subset of anything.
func Subset(sub, super []string) bool {
	inSuper := make(map[string]struct{}, len(super))
	for _, s := range super {
		inSuper[s] = struct{}{}
	}
	for _, s := range sub {
		if _, ok := inSuper[s]; !ok {
			return false
		}
	}
	return true
}

// Has reports whether a granted scope set satisfies a required scope,
// honoring the wildcard marker.
func Has(granted []string, required string) bool {
	for _, s := range granted {
		if s == required || s == Wildcard {
			return true
		}
	}
	return false
}

// Canonical returns a sorted, deduplicated copy, useful for stable
// comparisons in logs and tests.
func Canonical(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
