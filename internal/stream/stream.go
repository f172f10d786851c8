// Package stream connects to the gateway's websocket event stream. Every
// text or binary frame is one raw event record.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// maxFrameBytes bounds a single event; media arrives inline as data URLs.
const maxFrameBytes = 32 << 20

// URL builds the websocket URL from the gateway base URL and stream path.
// http and https map to ws and wss.
func URL(baseURL, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("gateway url has no host")
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

// Dialer opens event stream connections.
type Dialer struct {
	url    string
	logger *zap.Logger
}

// NewDialer creates a dialer for the stream at baseURL + path.
func NewDialer(baseURL, path string, logger *zap.Logger) (*Dialer, error) {
	u, err := URL(baseURL, path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{url: u, logger: logger}, nil
}

// URL returns the websocket URL the dialer connects to.
func (d *Dialer) URL() string { return d.url }

// Dial connects to the stream.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	ws, resp, err := websocket.Dial(ctx, d.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	ws.SetReadLimit(maxFrameBytes)
	d.logger.Debug("event stream dialed", zap.String("url", d.url))
	return &Conn{ws: ws}, nil
}

// Conn is one open event stream.
type Conn struct {
	ws *websocket.Conn
}

// Next blocks for the next frame. Cancelling ctx closes the connection.
func (c *Conn) Next(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if status := websocket.CloseStatus(err); status != -1 {
			return nil, fmt.Errorf("stream closed by gateway (%s): %w", status, err)
		}
		return nil, err
	}
	return data, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	err := c.ws.Close(websocket.StatusNormalClosure, "bye")
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
