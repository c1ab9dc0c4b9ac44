package feed

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Envelope is the queue message body.
type Envelope struct {
	Tenant string             `json:"tenant"`
	Event  domain.ChangeEvent `json:"event"`
}

// QueueSink appends change events to an Azure storage queue for downstream
// consumers that need a durable log.
type QueueSink struct {
	queue queueClient
}

// NewQueueSink creates a sink for the named queue.
func NewQueueSink(connStr, queueName string) (*QueueSink, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueSink{queue: q}, nil
}

// Publish enqueues ev.
func (s *QueueSink) Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(Envelope{Tenant: tenant, Event: ev})
	if err != nil {
		return err
	}
	_, err = s.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Multi publishes to every publisher, returning the joined errors.
type Multi []Publisher

// Publish sends ev to all publishers.
func (m Multi) Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, tenant, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Hub sends publishes to pub and serves subscriptions from the Redis feed.
type Hub struct {
	pub Publisher
	sub *Redis
}

// NewHub pairs a publisher with the Redis feed subscribers read from.
func NewHub(pub Publisher, sub *Redis) *Hub {
	return &Hub{pub: pub, sub: sub}
}

// Publish forwards ev to the hub's publisher.
func (h *Hub) Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error {
	return h.pub.Publish(ctx, tenant, ev)
}

// Subscribe opens a Redis subscription.
func (h *Hub) Subscribe(ctx context.Context, tenant, table string, filter domain.Filter) (domain.Subscription, error) {
	return h.sub.Subscribe(ctx, tenant, table, filter)
}
