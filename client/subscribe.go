package client

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

const maxEventSize = 1 << 20

type subscription struct {
	events chan domain.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Events() <-chan domain.ChangeEvent { return s.events }

// Close ends the stream and waits for the reader to exit.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe opens the table's change stream. The first connection is made
// before returning so a bad token or table fails here. Dropped streams are
// reopened with exponential backoff, and each reopen is announced with a
// resync event since changes may have been missed in between.
func (c *Client) Subscribe(ctx context.Context, table string, filter domain.Filter) (domain.Subscription, error) {
	target := c.streamURL(table, filter)
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	resp, err := c.connect(streamCtx, target)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &subscription{
		events: make(chan domain.ChangeEvent, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	logger := c.logger.WithFields(log.Fields{"table": table, "filter": filter.Key()})
	go c.run(streamCtx, s, table, target, resp, logger)
	return s, nil
}

func (c *Client) connect(ctx context.Context, target string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) run(ctx context.Context, s *subscription, table, target string, resp *http.Response, logger *log.Entry) {
	defer close(s.done)
	defer close(s.events)

	backoff := c.minBackoff
	for {
		err := c.read(ctx, s, resp)
		resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("change stream dropped")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			resp, err = c.connect(ctx, target)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("change stream reconnect failed")
		}
		backoff = c.minBackoff
		logger.Info("change stream reconnected")
		if !send(ctx, s.events, domain.NewChangeEvent(table, domain.EventResync, domain.Task{})) {
			return
		}
	}
}

// read forwards events until the stream ends. Events are separated by a
// blank line; comment lines are heartbeats.
func (c *Client) read(ctx context.Context, s *subscription, resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev domain.ChangeEvent
			if err := sonic.UnmarshalString(data.String(), &ev); err != nil {
				c.logger.WithError(err).Warn("decode change event")
			} else if !send(ctx, s.events, ev) {
				return ctx.Err()
			}
			data.Reset()
		case strings.HasPrefix(line, consts.SSECommentPrefix):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}

func send(ctx context.Context, ch chan<- domain.ChangeEvent, ev domain.ChangeEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
