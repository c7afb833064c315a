// Package logstream is the HTTP client for a shared action log service.
// It implements the same append/subscribe contract as the in-process
// log, so a session can point at a remote log without changing anything
// else: appends are delivered to local subscribers immediately as
// pending, and arrive again as confirmed once the server has
// timestamped them.
package logstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/tallyworks/tally/internal/broadcast"
	"github.com/tallyworks/tally/internal/types"
)

// ErrClosed is returned by operations on a shut-down client.
var ErrClosed = errors.New("logstream: client is closed")

// Config configures a Client.
type Config struct {
	// BaseURL is the log service root, e.g. "http://127.0.0.1:7345".
	BaseURL string
	// APIKey authenticates every request as a bearer token.
	APIKey string
	// WaitInterval is how long each poll asks the server to hold an
	// empty response. Zero means 10s.
	WaitInterval time.Duration
	// PageLimit caps actions per poll. Zero means the server default.
	PageLimit int
	// HTTPClient overrides the default client when set.
	HTTPClient *http.Client
}

// Client talks to the log service. It satisfies broadcast.Log.
type Client struct {
	config   Config
	http     *http.Client
	clientID string

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

var _ broadcast.Log = (*Client)(nil)

// New creates a client. The BaseURL is required.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("logstream: BaseURL is required")
	}
	if config.WaitInterval == 0 {
		config.WaitInterval = 10 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.WaitInterval + 15*time.Second}
	}
	return &Client{
		config:   config,
		http:     httpClient,
		clientID: uuid.NewString(),
		subs:     make(map[int]*subscriber),
	}, nil
}

// Append assigns an id when the action has none, hands the pending
// action to local subscribers, then posts it to the service. The
// confirmed copy arrives later through the poll loop under the same id,
// which is what lets sessions dedup the re-delivery.
func (c *Client) Append(ctx context.Context, a types.Action) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if a.ID == "" {
		a.ID = ulid.Make().String()
	}
	pending := a
	pending.Timestamp = nil
	subs := c.snapshotSubs()
	c.mu.Unlock()

	for _, sub := range subs {
		sub.deliverPending(pending)
	}

	var result appendResult
	if err := c.post(ctx, "/api/v1/actions", appendRequest{Actions: []types.Action{pending}}, &result); err != nil {
		return a.ID, err
	}
	if result.Accepted == 0 {
		return a.ID, fmt.Errorf("logstream: action rejected: %v", result.Errors)
	}
	return a.ID, nil
}

// Ping checks connectivity to the log service.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logstream: health check failed: %d", resp.StatusCode)
	}
	return nil
}

// Close stops all subscriptions and rejects further appends.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, sub := range c.subs {
		sub.cancel()
	}
	c.subs = make(map[int]*subscriber)
}

func (c *Client) snapshotSubs() []*subscriber {
	subs := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	return subs
}

type appendRequest struct {
	Actions []types.Action `json:"actions"`
}

type appendResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	IDs      []string `json:"ids"`
	Errors   []string `json:"errors,omitempty"`
}

type actionsResponse struct {
	Actions      []types.CachedAction `json:"actions"`
	LatestMillis int64                `json:"latest_millis"`
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logstream: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("logstream: %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", c.clientID)
}
