package domain

import (
	"fmt"
	"sort"
)

// Field names as they appear in patches, filters and on the wire.
const (
	FieldTitle      = "title"
	FieldPriority   = "priority"
	FieldProjectID  = "projectId"
	FieldStatus     = "status"
	FieldAssigneeID = "assigneeId"
	FieldDone       = "done"
	FieldRank       = "rank"
)

// Fields is a partial record: the named fields are overwritten, the rest are
// left as they are. A nil assigneeId clears the assignee.
type Fields map[string]any

// Names returns the field names in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate rejects unknown fields and values of the wrong type.
func (f Fields) Validate() error {
	for k, v := range f {
		switch k {
		case FieldTitle, FieldPriority, FieldProjectID, FieldStatus, FieldRank:
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%s: expected string, got %T", k, v)
			}
		case FieldAssigneeID:
			switch v.(type) {
			case nil, string, *string:
			default:
				return fmt.Errorf("%s: expected string or null, got %T", k, v)
			}
		case FieldDone:
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("%s: expected bool, got %T", k, v)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
	}
	return nil
}

// Apply overwrites the fields named in f on t.
func (t *Task) Apply(f Fields) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for k, v := range f {
		switch k {
		case FieldTitle:
			t.Title = v.(string)
		case FieldPriority:
			t.Priority = v.(string)
		case FieldProjectID:
			t.ProjectID = v.(string)
		case FieldStatus:
			t.Status = v.(string)
		case FieldRank:
			t.Rank = v.(string)
		case FieldDone:
			t.Done = v.(bool)
		case FieldAssigneeID:
			t.AssigneeID = assigneeValue(v)
		}
	}
	return nil
}

func assigneeValue(v any) *string {
	switch a := v.(type) {
	case string:
		if a == "" {
			return nil
		}
		return &a
	case *string:
		if a == nil || *a == "" {
			return nil
		}
		s := *a
		return &s
	}
	return nil
}
