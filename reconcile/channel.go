// Package reconcile applies moves optimistically and brings the local view
// back in line with the store when a write fails.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

const tracerName = "github.com/Qualiasolutions/qualia-erp-sub000/reconcile"

// ErrUnknownRecord is returned when the record to move is not in the view.
var ErrUnknownRecord = errors.New("record not in view")

// Updater writes a partial record to the remote store.
type Updater interface {
	UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error)
}

// View is the local state the channel patches and reloads.
type View interface {
	Get(id string) (domain.Task, bool)
	Column(bucket string) []domain.Task
	ApplyLocalPatch(id string, fields domain.Fields) (bool, error)
	Load(ctx context.Context) error
}

// MutationError reports a rejected remote write. By the time it is
// returned the view has been reloaded, unless ReloadErr is set.
type MutationError struct {
	ID        string
	Bucket    string
	Err       error
	ReloadErr error
}

func (e *MutationError) Error() string {
	msg := fmt.Sprintf("move %s to %s: %v", e.ID, e.Bucket, e.Err)
	if e.ReloadErr != nil {
		msg += fmt.Sprintf(" (reload: %v)", e.ReloadErr)
	}
	return msg
}

func (e *MutationError) Unwrap() []error {
	if e.ReloadErr != nil {
		return []error{e.Err, e.ReloadErr}
	}
	return []error{e.Err}
}

// Channel sends reclassifications for one board.
type Channel struct {
	board  domain.Board
	view   View
	store  Updater
	logger *log.Entry
}

// New returns a channel writing to store and patching view.
func New(board domain.Board, view View, store Updater, logger *log.Logger) *Channel {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Channel{
		board:  board,
		view:   view,
		store:  store,
		logger: logger.WithFields(log.Fields{"board": board.Name, "table": board.Table}),
	}
}

// Reclassify moves the record into bucket, appended after the bucket's last
// card.
func (c *Channel) Reclassify(ctx context.Context, id, bucket string) error {
	return c.ReclassifyBefore(ctx, id, bucket, "")
}

// ReclassifyBefore moves the record into bucket directly ahead of the card
// anchor. An empty or unknown anchor appends. The view is patched before
// the remote write starts; if the write fails the view is reloaded and a
// *MutationError is returned. Moving a record into the bucket whose value
// it already holds is a no-op.
func (c *Channel) ReclassifyBefore(ctx context.Context, id, bucket, anchor string) error {
	cur, ok := c.view.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecord, id)
	}
	fields, err := c.board.PatchFor(bucket)
	if err != nil {
		return err
	}
	if c.board.InBucket(cur, bucket) {
		return nil
	}
	if rank, ok := c.placement(id, bucket, anchor); ok {
		fields[domain.FieldRank] = rank
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "board.reclassify")
	defer span.End()
	span.SetAttributes(
		attribute.String("board.name", c.board.Name),
		attribute.String("board.table", c.board.Table),
		attribute.String("board.record_id", id),
		attribute.String("board.bucket", bucket),
	)

	if _, err := c.view.ApplyLocalPatch(id, fields); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if _, err := c.store.UpdateOne(ctx, c.board.Table, id, fields); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote update failed")
		merr := &MutationError{ID: id, Bucket: bucket, Err: err}
		// the caller's context may already be done; the reload still has to run
		merr.ReloadErr = c.view.Load(context.WithoutCancel(ctx))
		entry := c.logger.WithError(err).WithFields(log.Fields{"id": id, "bucket": bucket})
		if merr.ReloadErr != nil {
			entry = entry.WithField("reload_error", merr.ReloadErr.Error())
		}
		entry.Error("reclassify failed")
		return merr
	}

	span.SetStatus(codes.Ok, "")
	c.logger.WithFields(log.Fields{"id": id, "bucket": bucket}).Debug("reclassified")
	return nil
}

func (c *Channel) placement(id, bucket, anchor string) (string, bool) {
	col := c.view.Column(bucket)
	others := col[:0]
	for _, t := range col {
		if t.ID != id {
			others = append(others, t)
		}
	}
	rank, err := domain.PlaceRank(others, anchor)
	if err != nil {
		c.logger.WithError(err).WithField("id", id).Warn("no rank for placement")
		return "", false
	}
	return rank, true
}
