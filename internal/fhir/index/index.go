// Package index resolves typed resources and intra-bundle references in a
// FHIR message bundle.
package index

import (
	"fmt"

	"github.com/drfirst/go-eps/internal/fhir/r4"
)

// MalformedBundleError reports a broken reference or a singleton resource
// that is missing or duplicated.
type MalformedBundleError struct {
	Bundle  string
	Field   string
	Message string
}

func (e *MalformedBundleError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed bundle %s: %s: %s", e.Bundle, e.Field, e.Message)
	}
	return fmt.Sprintf("malformed bundle %s: %s", e.Bundle, e.Message)
}

// Index is a read-only view over a bundle snapshot. The bundle must not be
// mutated while the index is in use.
type Index struct {
	bundle    *r4.Bundle
	byFullURL map[string]r4.Resource
	byType    map[string][]r4.Resource
}

// New indexes the bundle in a single pass over its entries.
func New(b *r4.Bundle) (*Index, error) {
	if b == nil {
		return nil, &MalformedBundleError{Message: "nil bundle"}
	}
	idx := &Index{
		bundle:    b,
		byFullURL: make(map[string]r4.Resource, len(b.Entry)),
		byType:    make(map[string][]r4.Resource),
	}
	for i, e := range b.Entry {
		if e.Resource == nil {
			return nil, idx.malformed(fmt.Sprintf("entry[%d]", i), "entry has no resource")
		}
		if e.FullURL != "" {
			if _, dup := idx.byFullURL[e.FullURL]; dup {
				return nil, idx.malformed(fmt.Sprintf("entry[%d].fullUrl", i), "duplicate fullUrl "+e.FullURL)
			}
			idx.byFullURL[e.FullURL] = e.Resource
		}
		t := e.Resource.GetResourceType()
		idx.byType[t] = append(idx.byType[t], e.Resource)
	}
	return idx, nil
}

// Bundle returns the indexed bundle.
func (idx *Index) Bundle() *r4.Bundle { return idx.bundle }

// FullURLs returns the number of addressable entries.
func (idx *Index) FullURLs() int { return len(idx.byFullURL) }

// Resolve looks up a reference by its fullUrl. A miss is a broken
// reference, never "no such resource".
func (idx *Index) Resolve(ref r4.Reference) (r4.Resource, error) {
	r, ok := idx.byFullURL[ref.Reference]
	if !ok {
		return nil, idx.malformed("reference", fmt.Sprintf("%q does not resolve", ref.Reference))
	}
	return r, nil
}

// All returns the resources of a type in bundle entry order.
func (idx *Index) All(resourceType string) []r4.Resource {
	return idx.byType[resourceType]
}

// FindFirst returns the first resource of a type, failing when there is none.
func (idx *Index) FindFirst(resourceType string) (r4.Resource, error) {
	rs := idx.byType[resourceType]
	if len(rs) == 0 {
		return nil, idx.malformed(resourceType, "no resource of this type")
	}
	return rs[0], nil
}

// FindOne returns the only resource of a type, failing when there are zero
// or several.
func (idx *Index) FindOne(resourceType string) (r4.Resource, error) {
	rs := idx.byType[resourceType]
	switch len(rs) {
	case 1:
		return rs[0], nil
	case 0:
		return nil, idx.malformed(resourceType, "expected exactly one, found none")
	default:
		return nil, idx.malformed(resourceType, fmt.Sprintf("expected exactly one, found %d", len(rs)))
	}
}

func (idx *Index) malformed(field, msg string) *MalformedBundleError {
	return &MalformedBundleError{Bundle: idx.bundle.BundleIdentifier(), Field: field, Message: msg}
}
