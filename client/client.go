// Package client talks to the board API over HTTP. A Client is both the
// remote store and the realtime feed of a board session.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Qualiasolutions/qualia-erp-sub000/domain"
	"github.com/Qualiasolutions/qualia-erp-sub000/internal/consts"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 5 * time.Second
	maxErrorBody      = 4 << 10
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %d %s", e.Code, e.Body)
}

// Unwrap maps well-known statuses to the domain errors.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	}
	return nil
}

// Client wraps http.Client with the board API's routes.
type Client struct {
	baseURL    string
	bearer     string
	http       *http.Client
	logger     *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used by subscriptions.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBackoff bounds the delay between stream reconnects.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = limit
	}
}

// New creates a Client for the API at baseURL.
func New(baseURL, bearer string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bearer:     bearer,
		http:       &http.Client{},
		logger:     log.StandardLogger(),
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type recordsResponse struct {
	Records []domain.Task `json:"records"`
}

// FetchMany returns the records of table matching filter.
func (c *Client) FetchMany(ctx context.Context, table string, filter domain.Filter) ([]domain.Task, error) {
	var out recordsResponse
	if err := c.do(ctx, http.MethodGet, c.recordsPath(table, "", filter.Query()), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// UpdateOne patches a record and returns it as stored. Each call carries a
// fresh idempotency key.
func (c *Client) UpdateOne(ctx context.Context, table, id string, fields domain.Fields) (domain.Task, error) {
	var out domain.Task
	hdr := http.Header{}
	hdr.Set(consts.HeaderIdempotencyKey, uuid.NewString())
	err := c.do(ctx, http.MethodPatch, c.recordsPath(table, id, nil), hdr, fields, &out)
	return out, err
}

// InsertOne creates a record.
func (c *Client) InsertOne(ctx context.Context, table string, rec domain.Task) (domain.Task, error) {
	var out domain.Task
	err := c.do(ctx, http.MethodPost, c.recordsPath(table, "", nil), nil, rec, &out)
	return out, err
}

// DeleteOne removes a record.
func (c *Client) DeleteOne(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, c.recordsPath(table, id, nil), nil, nil, nil)
}

func (c *Client) recordsPath(table, id string, q url.Values) string {
	p := c.baseURL + "/api/tables/" + url.PathEscape(table) + "/records"
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	if len(q) > 0 {
		p += "?" + q.Encode()
	}
	return p
}

func (c *Client) streamURL(table string, filter domain.Filter) string {
	p := c.baseURL + "/api/tables/" + url.PathEscape(table) + "/stream"
	if q := filter.Query(); len(q) > 0 {
		p += "?" + q.Encode()
	}
	return p
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, target string, hdr http.Header, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}
