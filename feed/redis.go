// Package feed carries record change events between writers and the
// sessions watching a table.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

// Publisher sends change events for a tenant.
type Publisher interface {
	Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error
}

// Channel returns the pub/sub channel for a tenant's table.
func Channel(tenant, table string) string {
	return consts.ChangesChannelPrefix + tenant + ":" + table
}

// Redis publishes and subscribes to change events over Redis pub/sub.
type Redis struct {
	rc        *redis.Client
	logger    *log.Logger
	buffer    int
	reconnect time.Duration
}

// NewRedis returns a feed backed by rc.
func NewRedis(rc *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Redis{rc: rc, logger: logger, buffer: 64, reconnect: time.Second}
}

// Publish sends ev on the tenant's table channel.
func (r *Redis) Publish(ctx context.Context, tenant string, ev domain.ChangeEvent) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, Channel(tenant, ev.Table), data).Err()
}

// Subscribe listens for events on the tenant's table. Events whose record
// does not match filter are dropped, except deletes which carry no fields.
// The subscription is active when Subscribe returns.
func (r *Redis) Subscribe(ctx context.Context, tenant, table string, filter domain.Filter) (domain.Subscription, error) {
	ch := Channel(tenant, table)
	ps := r.rc.Subscribe(ctx, ch)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &redisSubscription{
		events: make(chan domain.ChangeEvent, r.buffer),
		cancel: cancel,
		done:   make(chan struct{}),
		ps:     ps,
	}
	go r.run(runCtx, s, ch, filter)
	return s, nil
}

// ForTenant binds the feed to one tenant.
func (r *Redis) ForTenant(tenant string) *Scoped {
	return &Scoped{feed: r, tenant: tenant}
}

func (r *Redis) run(ctx context.Context, s *redisSubscription, channel string, filter domain.Filter) {
	defer close(s.done)
	defer close(s.events)
	logger := r.logger.WithField("channel", channel)

	for {
		msgs := s.pubsub().Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					break recv
				}
				var ev domain.ChangeEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
					logger.WithError(err).Error("unable to parse change event")
					continue
				}
				// updates pass through so the receiver can evict records
				// that stopped matching
				if ev.Type == domain.EventInsert && !filter.Match(ev.Record) {
					continue
				}
				if !s.send(ctx, ev) {
					return
				}
			}
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.reconnect):
		}
		ps := r.rc.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			logger.WithError(err).Error("resubscribe failed")
			continue
		}
		s.swap(ps)
		// anything published while disconnected is lost
		if !s.send(ctx, domain.ChangeEvent{Type: domain.EventResync}) {
			return
		}
	}
}

type redisSubscription struct {
	events chan domain.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu sync.Mutex
	ps *redis.PubSub
}

func (s *redisSubscription) Events() <-chan domain.ChangeEvent { return s.events }

func (s *redisSubscription) pubsub() *redis.PubSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps
}

func (s *redisSubscription) swap(ps *redis.PubSub) {
	s.mu.Lock()
	old := s.ps
	s.ps = ps
	s.mu.Unlock()
	_ = old.Close()
}

func (s *redisSubscription) send(ctx context.Context, ev domain.ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops delivery and waits for the reader to exit.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub().Close()
		<-s.done
	})
	if errors.Is(err, redis.ErrClosed) {
		err = nil
	}
	return err
}

// Scoped is a Redis feed bound to one tenant.
type Scoped struct {
	feed   *Redis
	tenant string
}

// Subscribe listens for events on one of the tenant's tables.
func (s *Scoped) Subscribe(ctx context.Context, table string, filter domain.Filter) (domain.Subscription, error) {
	return s.feed.Subscribe(ctx, s.tenant, table, filter)
}

// Publish sends ev for the bound tenant.
func (s *Scoped) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	return s.feed.Publish(ctx, s.tenant, ev)
}
