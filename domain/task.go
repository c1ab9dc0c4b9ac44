package domain

import "time"

// Task is a single card on a board. The same record type backs issues,
// member boards and roadmap phase items.
type Task struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Priority   string    `json:"priority,omitempty"`
	ProjectID  string    `json:"projectId,omitempty"`
	Status     string    `json:"status,omitempty"`
	AssigneeID *string   `json:"assigneeId,omitempty"`
	Done       bool      `json:"done"`
	Rank       string    `json:"rank,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.AssigneeID != nil {
		a := *t.AssigneeID
		t.AssigneeID = &a
	}
	return t
}

// Assignee returns the assignee id or "" when unassigned.
func (t Task) Assignee() string {
	if t.AssigneeID == nil {
		return ""
	}
	return *t.AssigneeID
}

// Equal reports whether both records carry the same values.
func (t Task) Equal(o Task) bool {
	return t.ID == o.ID &&
		t.Title == o.Title &&
		t.Priority == o.Priority &&
		t.ProjectID == o.ProjectID &&
		t.Status == o.Status &&
		t.Assignee() == o.Assignee() &&
		t.Done == o.Done &&
		t.Rank == o.Rank &&
		t.UpdatedAt.Equal(o.UpdatedAt)
}
