// Package notifyclient follows the notifications of one user: live over the websocket stream,
// falling back to polling the unread backlog when the stream cannot be reached.
package notifyclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/notification"
)

const maxSeen = 10000

type Options struct {
	BaseURL string // e.g. https://api.academia.sn
	Token   string // bearer JWT

	// MaxRetries bounds the stream connection attempts before degrading to polling.
	MaxRetries int
	// Backoff is the delay before the first retry, doubled on each attempt.
	Backoff      time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client

	// OnDegraded receives a *core.DeliveryDegradedError each time the stream is given up for a polling round.
	OnDegraded func(err error)
}

type Client struct {
	opts Options

	mu   sync.Mutex
	seen map[string]struct{}
}

func New(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	return &Client{opts: opts, seen: make(map[string]struct{})}
}

// Run hands every new message to handle, once, until ctx is done.
func (c *Client) Run(ctx context.Context, handle func(notification.Message)) error {
	for {
		conn, err := c.connect(ctx)
		if err == nil {
			err = c.consume(ctx, conn, handle)
			_ = conn.CloseNow()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			continue
		}

		c.degraded(err)
		if pErr := c.poll(ctx, handle); pErr != nil && ctx.Err() == nil {
			c.degraded(pErr)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.PollInterval):
		}
	}
}

func (c *Client) degraded(err error) {
	if c.opts.OnDegraded != nil {
		c.opts.OnDegraded(core.NewDeliveryDegradedError("", err))
	}
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.opts.BaseURL + "/v1/notifications/stream")
	if err != nil {
		return "", errors.Wrap(err, "parsing base url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// connect dials the stream with bounded, exponentially spaced attempts.
func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.streamURL()
	if err != nil {
		return nil, err
	}

	wait := c.opts.Backoff
	for attempt := 1; ; attempt++ {
		conn, res, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
			HTTPClient: c.opts.HTTPClient,
			HTTPHeader: http.Header{"Authorization": {"Bearer " + c.opts.Token}},
		})
		if err == nil {
			return conn, nil
		}
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(err, "connecting to notification stream")
		}
		if attempt >= c.opts.MaxRetries {
			return nil, errors.Wrapf(err, "connecting to notification stream after %d attempts", attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Client) consume(ctx context.Context, conn *websocket.Conn, handle func(notification.Message)) error {
	for {
		var msg notification.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return errors.Wrap(err, "reading notification stream")
		}
		c.handleOnce(msg, handle)
	}
}

func (c *Client) handleOnce(msg notification.Message, handle func(notification.Message)) {
	c.mu.Lock()
	if _, dup := c.seen[msg.ID]; dup {
		c.mu.Unlock()
		return
	}
	if len(c.seen) >= maxSeen {
		c.seen = make(map[string]struct{})
	}
	c.seen[msg.ID] = struct{}{}
	c.mu.Unlock()

	handle(msg)
}

func (c *Client) poll(ctx context.Context, handle func(notification.Message)) error {
	msgs, err := c.ListUnread(ctx)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		c.handleOnce(msg, handle)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Accept", "application/json")

	res, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		var body struct {
			Error interface{} `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&body)
		return errors.Errorf("%s %s: %d %v", method, path, res.StatusCode, body.Error)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(res.Body).Decode(out), "decoding response")
}

// ListUnread fetches the unread backlog in creation order.
func (c *Client) ListUnread(ctx context.Context) ([]notification.Message, error) {
	var msgs []notification.Message
	if err := c.do(ctx, http.MethodGet, "/v1/notifications/unread", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/notifications/%s/read", url.PathEscape(id)), nil)
}
