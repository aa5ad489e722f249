// Package memory is an in-process origin: several tabs in one process share
// its keys through per-tab handles, and each handle observes the others' writes.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"sessionkit/internal/credentials"
)

// watchBuffer bounds undelivered changes per watcher. Overflow is dropped,
// matching the best-effort delivery of browser storage events.
const watchBuffer = 256

// Origin holds the shared key space.
type Origin struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[*watcher]struct{}
	logger   *slog.Logger
}

// Option configures an Origin.
type Option func(*Origin)

// WithLogger sets the logger used when a watcher falls behind.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Origin) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrigin constructs an empty origin.
func NewOrigin(opts ...Option) *Origin {
	o := &Origin{
		data:     make(map[string]string),
		watchers: make(map[*watcher]struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tab returns a new handle onto the origin. Writes through a handle are
// observed by every other handle's watchers, never its own.
func (o *Origin) Tab() *Handle {
	return &Handle{origin: o}
}

// Handle is one tab's view of the origin.
type Handle struct {
	origin *Origin
}

var (
	_ credentials.Storage   = (*Handle)(nil)
	_ credentials.Watchable = (*Handle)(nil)
)

func (h *Handle) Get(_ context.Context, key string) (string, bool, error) {
	h.origin.mu.RLock()
	defer h.origin.mu.RUnlock()
	v, ok := h.origin.data[key]
	return v, ok, nil
}

func (h *Handle) Set(_ context.Context, key, value string) error {
	h.origin.write(h, credentials.Change{Key: key, Value: value, Present: true})
	return nil
}

func (h *Handle) Delete(_ context.Context, key string) error {
	h.origin.write(h, credentials.Change{Key: key})
	return nil
}

// Watch delivers other handles' changes to fn on a dedicated goroutine, in
// write order, until stop is called or ctx is done.
func (h *Handle) Watch(ctx context.Context, fn func(credentials.Change)) (func(), error) {
	w := &watcher{
		owner: h,
		ch:    make(chan credentials.Change, watchBuffer),
		done:  make(chan struct{}),
	}
	h.origin.mu.Lock()
	h.origin.watchers[w] = struct{}{}
	h.origin.mu.Unlock()

	go w.run(ctx, fn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			h.origin.mu.Lock()
			delete(h.origin.watchers, w)
			h.origin.mu.Unlock()
			close(w.done)
		})
	}
	return stop, nil
}

func (o *Origin) write(writer *Handle, change credentials.Change) {
	o.mu.Lock()
	prev, existed := o.data[change.Key]
	if change.Present {
		if existed && prev == change.Value {
			o.mu.Unlock()
			return
		}
		o.data[change.Key] = change.Value
	} else {
		if !existed {
			o.mu.Unlock()
			return
		}
		delete(o.data, change.Key)
	}
	targets := make([]*watcher, 0, len(o.watchers))
	for w := range o.watchers {
		if w.owner != writer {
			targets = append(targets, w)
		}
	}
	o.mu.Unlock()

	for _, w := range targets {
		select {
		case w.ch <- change:
		default:
			o.logger.Warn("storage watcher overflow, dropping change", "key", change.Key)
		}
	}
}

type watcher struct {
	owner *Handle
	ch    chan credentials.Change
	done  chan struct{}
}

func (w *watcher) run(ctx context.Context, fn func(credentials.Change)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case change := <-w.ch:
			fn(change)
		}
	}
}
