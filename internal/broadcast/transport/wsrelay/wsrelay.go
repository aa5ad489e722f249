// Package wsrelay is a broadcast transport backed by a websocket connection
// to a relay hub.
package wsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/broadcast/relay"
	"sessionkit/internal/sentinel"
)

const (
	minBackoff = 250 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Transport keeps one lazily dialed connection shared by Publish and Subscribe.
type Transport struct {
	endpoint string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ broadcast.Transport = (*Transport)(nil)

// New targets the relay at baseURL (ws:// or wss://) on channel.
func New(baseURL, channel string, logger *slog.Logger) (*Transport, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("relay url scheme %q: %w", u.Scheme, sentinel.ErrInvalidInput)
	}
	q := u.Query()
	q.Set(relay.ChannelParam, channel)
	u.RawQuery = q.Encode()
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{endpoint: u.String(), logger: logger}, nil
}

func (t *Transport) Name() string {
	return "wsrelay"
}

func (t *Transport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, t.endpoint, &websocket.DialOptions{
		Subprotocols: []string{relay.Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	t.conn = conn
	return conn, nil
}

func (t *Transport) drop(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
	_ = conn.CloseNow()
}

func (t *Transport) Publish(ctx context.Context, env broadcast.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.drop(conn)
		return fmt.Errorf("relay write: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

// Subscribe requires the first dial to succeed. After that a broken
// connection is redialed with backoff until stop.
func (t *Transport) Subscribe(ctx context.Context, h broadcast.Handler) (func(), error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go t.readLoop(ctx, conn, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			t.mu.Lock()
			c := t.conn
			t.conn = nil
			t.mu.Unlock()
			if c != nil {
				_ = c.Close(websocket.StatusNormalClosure, "bye")
			}
		})
	}, nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, h broadcast.Handler) {
	backoff := minBackoff
	for {
		mt, data, err := conn.Read(ctx)
		if err == nil {
			backoff = minBackoff
			if mt != websocket.MessageText {
				continue
			}
			env, err := broadcast.DecodeEnvelope(data)
			if err != nil {
				t.logger.Debug("dropping malformed envelope", "transport", t.Name(), "error", err)
				continue
			}
			h(env)
			continue
		}

		t.drop(conn)
		if ctx.Err() != nil {
			return
		}
		t.logger.Debug("relay connection lost, redialing", "error", err, "backoff_ms", backoff.Milliseconds())

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := t.connect(ctx)
			if err == nil {
				conn = next
				break
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}
}
