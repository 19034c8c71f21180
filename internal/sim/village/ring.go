package village

import "strings"

// Ring is a bounded most-recent-first list of short summaries.
type Ring struct {
	items []string
	cap   int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{cap: capacity}
}

// Push prepends s and drops the oldest entries beyond capacity.
func (r *Ring) Push(s string) {
	r.items = append([]string{s}, r.items...)
	r.Truncate(r.cap)
}

// Truncate keeps at most n entries.
func (r *Ring) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if len(r.items) > n {
		r.items = r.items[:n]
	}
}

func (r *Ring) Len() int { return len(r.items) }

// Items returns a copy, most recent first.
func (r *Ring) Items() []string { return append([]string{}, r.items...) }

// Digest trims whitespace, drops empty and repeated entries and keeps at
// most limit items, preserving order.
func Digest(items []string, limit int) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, it := range items {
		if len(out) >= limit {
			break
		}
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
