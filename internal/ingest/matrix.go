package ingest

import "sort"

// Matrix is the category → keywords plan one ingestion run walks.
// Immutable after construction; categories iterate in sorted slug order
// so runs are deterministic regardless of config map ordering.
type Matrix struct {
	slugs    []string
	keywords map[string][]string
}

// NewMatrix copies categories into an immutable matrix. Empty slugs and
// blank keywords are dropped; a category with no usable keywords is
// dropped entirely.
func NewMatrix(categories map[string][]string) Matrix {
	m := Matrix{keywords: make(map[string][]string, len(categories))}
	for slug, kws := range categories {
		if slug == "" {
			continue
		}
		kept := make([]string, 0, len(kws))
		for _, kw := range kws {
			if kw != "" {
				kept = append(kept, kw)
			}
		}
		if len(kept) == 0 {
			continue
		}
		m.keywords[slug] = kept
		m.slugs = append(m.slugs, slug)
	}
	sort.Strings(m.slugs)
	return m
}

// Categories returns the category slugs in iteration order.
func (m Matrix) Categories() []string {
	out := make([]string, len(m.slugs))
	copy(out, m.slugs)
	return out
}

// Keywords returns the keywords of one category.
func (m Matrix) Keywords(slug string) []string {
	kws := m.keywords[slug]
	out := make([]string, len(kws))
	copy(out, kws)
	return out
}

// Empty reports whether the matrix has no categories.
func (m Matrix) Empty() bool { return len(m.slugs) == 0 }
