package realtime

import (
	"net/url"
	"sort"
	"strings"
)

// Record is anything the layer can cache and match against a query.
type Record interface {
	RecordID() string
	Field(name string) string
}

// Query selects records of one collection by exact field matches.
type Query struct {
	Collection string
	Filters    map[string]string
}

// Key identifies the subscription shared by every consumer of an equal query.
func (q Query) Key() string {
	if len(q.Filters) == 0 {
		return q.Collection
	}
	names := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(q.Collection)
	for i, k := range names {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.Filters[k]))
	}
	return b.String()
}

// Matches reports whether r belongs in the query's result set.
func (q Query) Matches(r Record) bool {
	for k, v := range q.Filters {
		if r.Field(k) != v {
			return false
		}
	}
	return true
}

// mayMatch is Matches for a change that only carries some fields; unknown
// fields are assumed to match.
func (q Query) mayMatch(fields map[string]string) bool {
	for k, v := range q.Filters {
		if got, ok := fields[k]; ok && got != v {
			return false
		}
	}
	return true
}
