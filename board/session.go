// Package board ties a view, a drag controller, a reconciliation channel
// and a realtime subscription into one session per open board.
package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/drag"
	"github.com/Qualiasolutions/qualia-erp-sub000/reconcile"
	"github.com/Qualiasolutions/qualia-erp-sub000/viewstate"
)

// Store is the remote CRUD store a session reads and writes.
type Store interface {
	FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error)
	UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error)
}

// Feed opens realtime subscriptions.
type Feed interface {
	Subscribe(ctx context.Context, table string, filter domain.Filter) (domain.Subscription, error)
}

// Options configures Open. Feed may be nil for a session without realtime
// updates.
type Options struct {
	Board  domain.Board
	Filter domain.Filter
	Store  Store
	Feed   Feed
	Logger *log.Logger
}

// Session is one open board. It must be closed to release the feed.
type Session struct {
	board   domain.Board
	view    *viewstate.State
	drag    *drag.Controller
	channel *reconcile.Channel
	logger  *log.Entry

	sub    domain.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Open subscribes to the feed, loads the initial state and starts merging
// remote events. The subscription is opened before the fetch so no change
// between the two is lost.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("board: store is required")
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	view := viewstate.New(opts.Board, opts.Filter, opts.Store)
	s := &Session{
		board:   opts.Board,
		view:    view,
		drag:    drag.NewController(opts.Board, view),
		channel: reconcile.New(opts.Board, view, opts.Store, logger),
		logger:  logger.WithField("board", opts.Board.Name),
	}

	if opts.Feed != nil {
		sub, err := opts.Feed.Subscribe(ctx, opts.Board.Table, opts.Filter)
		if err != nil {
			return nil, err
		}
		s.sub = sub
	}
	if err := view.Load(ctx); err != nil {
		if s.sub != nil {
			_ = s.sub.Close()
		}
		return nil, err
	}

	if s.sub != nil {
		pumpCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go s.pump(pumpCtx)
	}
	return s, nil
}

func (s *Session) pump(ctx context.Context) {
	defer s.wg.Done()
	events := s.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == domain.EventResync {
				if err := s.view.Load(ctx); err != nil && ctx.Err() == nil {
					s.logger.WithError(err).Warn("resync failed")
				}
				continue
			}
			s.view.ApplyRemoteEvent(ev)
		}
	}
}

// Board returns the board definition.
func (s *Session) Board() domain.Board { return s.board }

// View returns the session's local state.
func (s *Session) View() *viewstate.State { return s.view }

// Columns returns the current partition of the view.
func (s *Session) Columns() []viewstate.Column { return s.view.Columns() }

// Watch signals after every change to the view.
func (s *Session) Watch() (<-chan struct{}, func()) { return s.view.Watch() }

// BeginDrag starts a gesture on the record.
func (s *Session) BeginDrag(id string) bool { return s.drag.Start(id) }

// Hover records the target under the pointer.
func (s *Session) Hover(t drag.DropTarget) { s.drag.Hover(t) }

// CancelDrag aborts the gesture.
func (s *Session) CancelDrag() { s.drag.Cancel() }

// Drop ends the gesture and, when it resolves to a different bucket, sends
// the move. The returned bool reports whether a move was attempted.
func (s *Session) Drop(ctx context.Context, t drag.DropTarget) (drag.Intent, bool, error) {
	in, ok := s.drag.Drop(t)
	if !ok {
		return drag.Intent{}, false, nil
	}
	return in, true, s.channel.ReclassifyBefore(ctx, in.RecordID, in.To, in.Anchor)
}

// Move sends a move without a gesture, appending to the bucket.
func (s *Session) Move(ctx context.Context, id, bucket string) error {
	return s.channel.Reclassify(ctx, id, bucket)
}

// MoveBefore sends a move placing the record ahead of anchor.
func (s *Session) MoveBefore(ctx context.Context, id, bucket, anchor string) error {
	return s.channel.ReclassifyBefore(ctx, id, bucket, anchor)
}

// Refresh reloads the view from the store.
func (s *Session) Refresh(ctx context.Context) error { return s.view.Load(ctx) }

// Close stops the event pump and releases the subscription. It is safe to
// call more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.drag.Cancel()
		if s.cancel != nil {
			s.cancel()
		}
		if s.sub != nil {
			err = s.sub.Close()
		}
		s.wg.Wait()
	})
	return err
}
