package feed

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

const defaultPollInterval = time.Second

type queueReader interface {
	Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error)
	Delete(ctx context.Context, id, receipt string) error
}

type azureQueue struct {
	client *azqueue.QueueClient
}

// Dequeue retrieves a single message, or nil when the queue is empty.
func (q azureQueue) Dequeue(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

func (q azureQueue) Delete(ctx context.Context, id, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, id, receipt, nil)
	return err
}

// Relay drains a change queue written by QueueSink and republishes each
// envelope to the realtime feed.
type Relay struct {
	queue    queueReader
	target   Publisher
	logger   *log.Logger
	interval time.Duration
}

// NewRelay creates a relay reading the named queue.
func NewRelay(connStr, queueName string, target Publisher, logger *log.Logger) (*Relay, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return nil, err
	}
	return newRelay(azureQueue{client: q}, target, logger), nil
}

func newRelay(q queueReader, target Publisher, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{queue: q, target: target, logger: logger, interval: defaultPollInterval}
}

// Run relays messages until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	for {
		handled, err := r.Step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.logger.WithError(err).Error("relay: receive")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.interval):
		}
	}
}

// Step handles at most one message and reports whether one was taken.
// Empty and undecodable messages are dropped. A message whose publish fails is left
// on the queue and becomes visible again after its visibility timeout.
func (r *Relay) Step(ctx context.Context) (bool, error) {
	msg, err := r.queue.Dequeue(ctx)
	if err != nil || msg == nil {
		return false, err
	}
	if msg.MessageID == nil || msg.PopReceipt == nil {
		r.logger.Warn("relay: message without id or pop receipt")
		return true, nil
	}

	var env Envelope
	if msg.MessageText == nil {
		r.logger.WithField("message_id", *msg.MessageID).Warn("relay: drop empty message")
	} else if err := sonic.UnmarshalString(*msg.MessageText, &env); err != nil {
		r.logger.WithError(err).WithField("message_id", *msg.MessageID).Warn("relay: drop undecodable message")
	} else if err := r.target.Publish(ctx, env.Tenant, env.Event); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"tenant": env.Tenant, "table": env.Event.Table}).Error("relay: publish")
		return true, nil
	}
	if err := r.queue.Delete(ctx, *msg.MessageID, *msg.PopReceipt); err != nil {
		r.logger.WithError(err).Warn("relay: delete message")
	}
	return true, nil
}
