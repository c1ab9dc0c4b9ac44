// Package drag turns pointer gestures over a board into move intents.
package drag

import (
	"sync"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

// DropTarget is what the pointer is over: a column or another card.
type DropTarget interface {
	dropTarget()
}

// OnBucket targets a column directly.
type OnBucket struct {
	ID string
}

// OnSibling targets a card. The drop lands in that card's current column.
type OnSibling struct {
	RecordID string
}

func (OnBucket) dropTarget()  {}
func (OnSibling) dropTarget() {}

// Resolver looks up a record on the board.
type Resolver interface {
	Get(id string) (domain.Task, bool)
}

// Phase is the controller state.
type Phase int

const (
	Idle Phase = iota
	Dragging
)

func (p Phase) String() string {
	if p == Dragging {
		return "dragging"
	}
	return "idle"
}

// Intent is a move the controller decided on. Anchor is the card the record
// was dropped on, if any.
type Intent struct {
	RecordID string
	From     string
	To       string
	Anchor   string
}

type session struct {
	active string
	hover  DropTarget
}

// Controller tracks at most one drag gesture at a time.
type Controller struct {
	board domain.Board
	view  Resolver

	mu   sync.Mutex
	sess *session
}

// NewController returns an idle controller for the board.
func NewController(board domain.Board, view Resolver) *Controller {
	return &Controller{board: board, view: view}
}

// Start begins dragging the record with the given id. It returns false and
// stays idle when the record is not on the board. Starting while a gesture
// is in progress replaces it.
func (c *Controller) Start(id string) bool {
	if _, ok := c.view.Get(id); !ok {
		return false
	}
	c.mu.Lock()
	c.sess = &session{active: id}
	c.mu.Unlock()
	return true
}

// Hover records the target under the pointer. It is ignored when idle.
func (c *Controller) Hover(t DropTarget) {
	c.mu.Lock()
	if c.sess != nil {
		c.sess.hover = t
	}
	c.mu.Unlock()
}

// Hovered returns the last hovered target.
func (c *Controller) Hovered() (DropTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.sess.hover == nil {
		return nil, false
	}
	return c.sess.hover, true
}

// Active returns the id being dragged.
func (c *Controller) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return "", false
	}
	return c.sess.active, true
}

// Phase returns Dragging while a gesture is in progress.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return Idle
	}
	return Dragging
}

// Cancel ends the gesture without an intent.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.sess = nil
	c.mu.Unlock()
}

// Resolve maps a drop target to a bucket id.
func (c *Controller) Resolve(t DropTarget) (string, bool) {
	switch v := t.(type) {
	case OnBucket:
		if c.board.HasBucket(v.ID) {
			return v.ID, true
		}
	case OnSibling:
		if rec, ok := c.view.Get(v.RecordID); ok {
			return c.board.BucketOf(rec), true
		}
	}
	return "", false
}

// Drop ends the gesture. A nil target falls back to the last hovered one.
// It returns an intent unless the record already holds the target bucket's
// value. A record shown in the fallback bucket still moves when dropped
// there. The session is cleared either way.
func (c *Controller) Drop(t DropTarget) (Intent, bool) {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess == nil {
		return Intent{}, false
	}
	if t == nil {
		t = sess.hover
	}
	if t == nil {
		return Intent{}, false
	}
	rec, ok := c.view.Get(sess.active)
	if !ok {
		return Intent{}, false
	}
	to, ok := c.Resolve(t)
	if !ok || c.board.InBucket(rec, to) {
		return Intent{}, false
	}

	in := Intent{RecordID: sess.active, From: c.board.BucketOf(rec), To: to}
	if s, ok := t.(OnSibling); ok && s.RecordID != sess.active {
		in.Anchor = s.RecordID
	}
	return in, true
}
