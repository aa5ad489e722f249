// Package relay is a websocket fan-out hub: every frame a connection sends is
// forwarded to the other connections joined to the same channel. It gives tabs
// in separate processes a broadcast primary without a broker.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"sessionkit/internal/broadcast"
)

const (
	// Subprotocol must be offered by clients.
	Subprotocol = "sessionkit.broadcast.v1"
	// ChannelParam is the query parameter naming the channel to join.
	ChannelParam = "channel"

	maxFrameBytes       = 16 << 10
	defaultSendQueue    = 64
	defaultWriteTimeout = 5 * time.Second
	heartbeatEvery      = 30 * time.Second
	heartbeatTimeout    = 10 * time.Second
	maxPingFailures     = 3
)

type peer struct {
	id        uint64
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close signals the peer goroutines to stop. send is never closed so
// concurrent fan-outs cannot panic.
func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Hub tracks joined peers per channel.
type Hub struct {
	log            *slog.Logger
	originPatterns []string
	insecure       bool

	mu       sync.RWMutex
	channels map[string]map[uint64]*peer
	nextID   uint64
}

// Option configures a Hub.
type Option func(*Hub)

// WithOriginPatterns authorizes cross-origin browser clients.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.originPatterns = append(h.originPatterns, patterns...)
	}
}

// WithInsecureSkipVerify disables origin checks. Development only.
func WithInsecureSkipVerify() Option {
	return func(h *Hub) {
		h.insecure = true
	}
}

func NewHub(log *slog.Logger, opts ...Option) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{log: log, channels: make(map[string]map[uint64]*peer)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Peers returns the number of connections on channel.
func (h *Hub) Peers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) join(channel string) *peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	p := &peer{id: h.nextID, send: make(chan []byte, defaultSendQueue), done: make(chan struct{})}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[uint64]*peer)
	}
	h.channels[channel][p.id] = p
	return p
}

func (h *Hub) leave(channel string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels[channel], p.id)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) fanout(channel string, from *peer, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, p := range h.channels[channel] {
		if id == from.id {
			continue
		}
		select {
		case p.send <- frame:
		case <-p.done:
		default:
			h.log.Info("relay.send.drop", "channel", channel, "peer", id)
		}
	}
}

// ServeHTTP upgrades the request and relays frames until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get(ChannelParam)
	if channel == "" {
		http.Error(w, "channel required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: h.insecure,
	})
	if err != nil {
		h.log.Error("relay.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	p := h.join(channel)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			h.leave(channel, p)
			p.close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	h.log.Debug("relay.join", "channel", channel, "peer", p.id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case frame := <-p.send:
				wctx, wcancel := context.WithTimeout(ctx, defaultWriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, frame)
				wcancel()
				if err != nil {
					h.log.Info("relay.write.fail", "peer", p.id, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()
				if err != nil {
					failures++
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	for {
		mt, data, err := conn.Read(ctx)
		if err != nil {
			if !isClosed(err) {
				h.log.Info("relay.read.fail", "peer", p.id, "err", err)
			}
			break
		}
		if mt != websocket.MessageText {
			continue
		}
		if _, err := broadcast.DecodeEnvelope(data); err != nil {
			h.log.Debug("relay.frame.invalid", "peer", p.id, "err", err)
			continue
		}
		h.fanout(channel, p, data)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
}

func isClosed(err error) bool {
	return websocket.CloseStatus(err) != -1 ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF)
}
