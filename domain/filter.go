package domain

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Filter narrows a table to the records whose fields equal the given
// values. An empty filter matches everything.
type Filter map[string]string

// Validate rejects fields that cannot be filtered on.
func (f Filter) Validate() error {
	for k := range f {
		switch k {
		case FieldProjectID, FieldStatus, FieldAssigneeID, FieldPriority:
		default:
			return fmt.Errorf("%w: cannot filter on %q", ErrUnknownField, k)
		}
	}
	return nil
}

// Match reports whether t satisfies every condition. An empty assigneeId
// condition matches unassigned records.
func (f Filter) Match(t Task) bool {
	for k, v := range f {
		var got string
		switch k {
		case FieldProjectID:
			got = t.ProjectID
		case FieldStatus:
			got = t.Status
		case FieldAssigneeID:
			got = t.Assignee()
		case FieldPriority:
			got = t.Priority
		default:
			return false
		}
		if got != v {
			return false
		}
	}
	return true
}

// Key is a canonical encoding of the filter, stable across map order.
func (f Filter) Key() string {
	if len(f) == 0 {
		return "*"
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(f[k]))
	}
	return sb.String()
}

// Query encodes the filter as URL query values.
func (f Filter) Query() url.Values {
	q := url.Values{}
	for k, v := range f {
		q.Set(k, v)
	}
	return q
}

// FilterFromQuery builds a filter from URL query values, ignoring the keys
// listed in skip.
func FilterFromQuery(q url.Values, skip ...string) (Filter, error) {
	f := Filter{}
	for k, vs := range q {
		if contains(skip, k) || len(vs) == 0 {
			continue
		}
		f[k] = vs[0]
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
