// Package viewstate holds the local, in-memory copy of one board's records.
// Local optimistic patches and remote change events are merged here, and
// renderers read columns from it.
package viewstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

// Fetcher loads the full set of records for a table.
type Fetcher interface {
	FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error)
}

// Column is one bucket with its records in display order.
type Column struct {
	Bucket domain.Bucket `json:"bucket"`
	Tasks  []domain.Task `json:"tasks"`
}

// State is the local view of one (table, filter) pair. All mutations are
// serialized and readers receive copies.
type State struct {
	board   domain.Board
	filter  domain.Filter
	fetcher Fetcher

	mu      sync.RWMutex
	records map[string]domain.Task
	loaded  bool
	version uint64

	broker *broker
}

// New returns an empty view. Call Load to populate it.
func New(board domain.Board, filter domain.Filter, fetcher Fetcher) *State {
	return &State{
		board:   board,
		filter:  filter,
		fetcher: fetcher,
		records: make(map[string]domain.Task),
		broker:  newBroker(),
	}
}

// Board returns the board the view partitions on.
func (s *State) Board() domain.Board { return s.board }

// Filter returns the filter the view was created with.
func (s *State) Filter() domain.Filter { return s.filter }

// Load replaces the view with a fresh fetch. On error the previous snapshot
// is kept.
func (s *State) Load(ctx context.Context) error {
	tasks, err := s.fetcher.FetchMany(ctx, s.board.Table, s.filter)
	if err != nil {
		return fmt.Errorf("load %s: %w", s.board.Table, err)
	}
	next := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			continue
		}
		next[t.ID] = t.Clone()
	}

	s.mu.Lock()
	s.records = next
	s.loaded = true
	s.version++
	s.mu.Unlock()

	s.broker.notify()
	return nil
}

// ApplyLocalPatch overwrites fields on the record with the given id. It
// returns false when the record is not in the view. The remote store is
// never touched.
func (s *State) ApplyLocalPatch(id string, fields domain.Fields) (bool, error) {
	if err := fields.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	t, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	t = t.Clone()
	if err := t.Apply(fields); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.records[id] = t
	s.version++
	s.mu.Unlock()

	s.broker.notify()
	return true, nil
}

// ApplyRemoteEvent merges a change notification into the view and reports
// whether the view changed. Applying the same event twice leaves the view
// as it was after the first application.
func (s *State) ApplyRemoteEvent(ev domain.ChangeEvent) bool {
	id := ev.Record.ID
	if id == "" {
		return false
	}

	s.mu.Lock()
	cur, present := s.records[id]
	changed := false
	switch ev.Type {
	case domain.EventInsert:
		if !present && s.filter.Match(ev.Record) {
			s.records[id] = ev.Record.Clone()
			changed = true
		}
	case domain.EventUpdate:
		switch {
		case s.filter.Match(ev.Record):
			if !present || !cur.Equal(ev.Record) {
				s.records[id] = ev.Record.Clone()
				changed = true
			}
		case present:
			delete(s.records, id)
			changed = true
		}
	case domain.EventDelete:
		if present {
			delete(s.records, id)
			changed = true
		}
	}
	if changed {
		s.version++
	}
	s.mu.Unlock()

	if changed {
		s.broker.notify()
	}
	return changed
}

// Get returns a copy of the record with the given id.
func (s *State) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.records[id]
	return t.Clone(), ok
}

// BucketOf returns the bucket the record currently belongs to.
func (s *State) BucketOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.records[id]
	if !ok {
		return "", false
	}
	return s.board.BucketOf(t), true
}

// Len returns the number of records in the view.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Loaded reports whether at least one Load succeeded.
func (s *State) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Version increases on every change to the view.
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Records returns every record in display order.
func (s *State) Records() []domain.Task {
	s.mu.RLock()
	out := make([]domain.Task, 0, len(s.records))
	for _, t := range s.records {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	domain.SortByRank(out)
	return out
}

// Column returns the records of one bucket in display order.
func (s *State) Column(bucket string) []domain.Task {
	s.mu.RLock()
	var out []domain.Task
	for _, t := range s.records {
		if s.board.BucketOf(t) == bucket {
			out = append(out, t.Clone())
		}
	}
	s.mu.RUnlock()
	domain.SortByRank(out)
	return out
}

// Columns partitions the view by bucket, in board order. Every record
// appears in exactly one column.
func (s *State) Columns() []Column {
	cols := make([]Column, len(s.board.Buckets))
	idx := make(map[string]int, len(cols))
	for i, b := range s.board.Buckets {
		cols[i] = Column{Bucket: b, Tasks: []domain.Task{}}
		idx[b.ID] = i
	}

	s.mu.RLock()
	for _, t := range s.records {
		i := idx[s.board.BucketOf(t)]
		cols[i].Tasks = append(cols[i].Tasks, t.Clone())
	}
	s.mu.RUnlock()

	for i := range cols {
		domain.SortByRank(cols[i].Tasks)
	}
	return cols
}

// Watch returns a channel that receives a signal after the view changes and
// a func to stop watching. Signals are coalesced: a slow reader sees one
// pending signal, not one per change.
func (s *State) Watch() (<-chan struct{}, func()) {
	ch := s.broker.subscribe()
	return ch, func() { s.broker.unsubscribe(ch) }
}
