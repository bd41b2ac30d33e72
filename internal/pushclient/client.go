// Package pushclient keeps a websocket subscription to the backend's log push
// endpoint open, reconnecting after a fixed delay whenever it drops.
package pushclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultReconnectDelay is the pause between connection attempts.
	DefaultReconnectDelay = 5 * time.Second

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
)

var errClosed = errors.New("push channel closed")

// Handler receives one raw push payload.
type Handler func(payload []byte)

// StatusFunc observes connection state changes.
type StatusFunc func(schema.PushStatus)

// Config configures a Client.
type Config struct {
	URL            string
	ReconnectDelay time.Duration
}

// Client reads push payloads until its context ends.
type Client struct {
	url    string
	delay  time.Duration
	dialer *websocket.Dialer
	handle Handler
	status StatusFunc
	log    pslog.Logger
}

// New validates cfg and constructs a client.
func New(cfg Config, handler Handler, status StatusFunc, logger pslog.Logger) (*Client, error) {
	if handler == nil {
		return nil, errors.New("push handler is required")
	}
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("push url must use ws or wss, got %q", cfg.URL)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if status == nil {
		status = func(schema.PushStatus) {}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{
		url:   u.String(),
		delay: cfg.ReconnectDelay,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		handle: handler,
		status: status,
		log:    logger.With("url", u.Redacted()),
	}, nil
}

// Run connects and reconnects until ctx is canceled. It returns nil on
// cancellation.
func (c *Client) Run(ctx context.Context) error {
	backoff := retry.NewConstant(c.delay)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c.status(schema.PushConnecting)
		err := c.session(ctx)
		c.status(schema.PushDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errClosed
		}
		c.log.Warn("push channel lost; reconnecting", "err", err, "delay", c.delay)
		return retry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Client) session(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}
	defer conn.Close()
	c.status(schema.PushConnected)
	c.log.Info("push channel connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errClosed
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		for _, payload := range SplitFrame(frame) {
			c.handle(payload)
		}
	}
}

// SplitFrame separates a frame holding several concatenated JSON values.
// Values decoded before a malformed tail are kept and the tail is returned
// as one final element.
func SplitFrame(frame []byte) [][]byte {
	dec := json.NewDecoder(bytes.NewReader(frame))
	var out [][]byte
	for {
		start := dec.InputOffset()
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if rest := bytes.TrimSpace(frame[start:]); len(rest) > 0 || len(out) == 0 {
				out = append(out, rest)
			}
			return out
		}
		out = append(out, raw)
	}
	if len(out) == 0 {
		return [][]byte{frame}
	}
	return out
}

// DeriveURL maps a backend API base URL to its log push endpoint.
func DeriveURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/logs/ws"
	u.RawQuery = ""
	return u.String(), nil
}
