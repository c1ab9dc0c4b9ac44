package domain

import (
	"errors"
	"fmt"
)

// Classification names the record field a board partitions on.
type Classification string

const (
	ByStatus     Classification = "status"
	ByAssignee   Classification = "assignee"
	ByCompletion Classification = "completion"
)

// Reserved bucket ids.
const (
	Unassigned       = "unassigned"
	BucketComplete   = "complete"
	BucketIncomplete = "incomplete"
)

// Bucket is one column of a board.
type Bucket struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// Board describes how the records of one table are laid out in columns.
// The bucket set is fixed once the board is built.
type Board struct {
	Name     string
	Table    string
	Field    Classification
	Buckets  []Bucket
	Fallback string
}

// NewBoard validates the definition and returns the board. The fallback
// bucket receives records whose classification value matches no bucket; it
// defaults to "unassigned" on assignee boards, "incomplete" on completion
// boards and the first bucket otherwise.
func NewBoard(name, table string, field Classification, buckets []Bucket, fallback string) (Board, error) {
	if table == "" {
		return Board{}, errors.New("board: table is required")
	}
	if len(buckets) == 0 {
		return Board{}, fmt.Errorf("board %s: at least one bucket is required", name)
	}
	seen := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		if b.ID == "" {
			return Board{}, fmt.Errorf("board %s: bucket id is required", name)
		}
		if _, dup := seen[b.ID]; dup {
			return Board{}, fmt.Errorf("board %s: duplicate bucket %q", name, b.ID)
		}
		seen[b.ID] = struct{}{}
	}

	switch field {
	case ByStatus:
	case ByAssignee:
		if _, ok := seen[Unassigned]; !ok {
			return Board{}, fmt.Errorf("board %s: assignee boards need an %q bucket", name, Unassigned)
		}
		if fallback == "" {
			fallback = Unassigned
		}
	case ByCompletion:
		_, c := seen[BucketComplete]
		_, i := seen[BucketIncomplete]
		if !c || !i || len(buckets) != 2 {
			return Board{}, fmt.Errorf("board %s: completion boards have exactly %q and %q", name, BucketComplete, BucketIncomplete)
		}
		if fallback == "" {
			fallback = BucketIncomplete
		}
	default:
		return Board{}, fmt.Errorf("board %s: unknown classification %q", name, field)
	}

	if fallback == "" {
		fallback = buckets[0].ID
	}
	if _, ok := seen[fallback]; !ok {
		return Board{}, fmt.Errorf("board %s: fallback %w %q", name, ErrUnknownBucket, fallback)
	}

	return Board{
		Name:     name,
		Table:    table,
		Field:    field,
		Buckets:  append([]Bucket(nil), buckets...),
		Fallback: fallback,
	}, nil
}

// HasBucket reports whether id is one of the board's buckets.
func (b Board) HasBucket(id string) bool {
	for _, bk := range b.Buckets {
		if bk.ID == id {
			return true
		}
	}
	return false
}

// BucketOf returns the bucket a record belongs to. Every record maps to
// exactly one bucket.
func (b Board) BucketOf(t Task) string {
	var v string
	switch b.Field {
	case ByStatus:
		v = t.Status
	case ByAssignee:
		v = t.Assignee()
		if v == "" {
			v = Unassigned
		}
	case ByCompletion:
		v = BucketIncomplete
		if t.Done {
			v = BucketComplete
		}
	}
	if b.HasBucket(v) {
		return v
	}
	return b.Fallback
}

// InBucket reports whether the record's own classification value is bucket.
// Unlike BucketOf it ignores the fallback, so a record assigned to a member
// without a column is not in "unassigned".
func (b Board) InBucket(t Task, bucket string) bool {
	switch b.Field {
	case ByStatus:
		return t.Status == bucket
	case ByAssignee:
		if bucket == Unassigned {
			return t.Assignee() == ""
		}
		return t.Assignee() == bucket
	case ByCompletion:
		return t.Done == (bucket == BucketComplete)
	}
	return false
}

// PatchFor returns the fields that move a record into bucket.
func (b Board) PatchFor(bucket string) (Fields, error) {
	if !b.HasBucket(bucket) {
		return nil, fmt.Errorf("%w %q on board %s", ErrUnknownBucket, bucket, b.Name)
	}
	switch b.Field {
	case ByStatus:
		return Fields{FieldStatus: bucket}, nil
	case ByAssignee:
		if bucket == Unassigned {
			return Fields{FieldAssigneeID: nil}, nil
		}
		return Fields{FieldAssigneeID: bucket}, nil
	case ByCompletion:
		return Fields{FieldDone: bucket == BucketComplete}, nil
	}
	return nil, fmt.Errorf("board %s: unknown classification %q", b.Name, b.Field)
}
