// Package file is an origin backed by a directory: one JSON document per key,
// shared by every process pointed at the same directory. Other processes'
// writes are observed through fsnotify.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"sessionkit/internal/credentials"
	"sessionkit/internal/sentinel"
)

const (
	fileExt     = ".json"
	tmpPrefix   = ".tmp-"
	watchBuffer = 256
)

// record is the on-disk document. Deletes are written as tombstones so the
// deleting tab can recognise and skip its own removal.
type record struct {
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
	Writer  string `json:"writer"`
}

// Storage is one tab's handle onto an origin directory.
type Storage struct {
	dir    string
	writer string
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used by watchers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWriterID fixes the identity stamped on writes. Defaults to a random uuid.
func WithWriterID(id string) Option {
	return func(s *Storage) {
		if id != "" {
			s.writer = id
		}
	}
}

var (
	_ credentials.Storage   = (*Storage)(nil)
	_ credentials.Watchable = (*Storage)(nil)
)

// New opens (creating if needed) the directory for origin under root.
func New(root, origin string, opts ...Option) (*Storage, error) {
	if origin == "" || strings.ContainsAny(origin, `/\`) {
		return nil, fmt.Errorf("origin %q: %w", origin, sentinel.ErrInvalidInput)
	}
	dir := filepath.Join(root, origin)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create origin dir: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	s := &Storage{
		dir:    dir,
		writer: uuid.NewString(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the origin directory.
func (s *Storage) Dir() string {
	return s.dir
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	rec, ok, err := s.read(s.path(key))
	if err != nil {
		return "", false, err
	}
	if !ok || rec.Deleted {
		return "", false, nil
	}
	return rec.Value, true, nil
}

func (s *Storage) Set(_ context.Context, key, value string) error {
	return s.write(key, record{Value: value, Writer: s.writer})
}

func (s *Storage) Delete(_ context.Context, key string) error {
	rec, ok, err := s.read(s.path(key))
	if err != nil {
		return err
	}
	if !ok || rec.Deleted {
		return nil
	}
	return s.write(key, record{Deleted: true, Writer: s.writer})
}

// Watch observes writes made by other handles on the same directory.
func (s *Storage) Watch(ctx context.Context, fn func(credentials.Change)) (func(), error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if err := fsw.Add(s.dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, errors.Join(sentinel.ErrUnavailable, err))
	}

	w := &dirWatcher{
		storage: s,
		fsw:     fsw,
		seen:    s.snapshot(),
		ch:      make(chan credentials.Change, watchBuffer),
		done:    make(chan struct{}),
	}
	go w.loop(ctx)
	go w.deliver(ctx, fn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(w.done)
			_ = fsw.Close()
		})
	}
	return stop, nil
}

func (s *Storage) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

func (s *Storage) read(path string) (record, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("read %s: %w", filepath.Base(path), errors.Join(sentinel.ErrUnavailable, err))
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode %s: %w", filepath.Base(path), errors.Join(sentinel.ErrUnavailable, err))
	}
	return rec, true, nil
}

// write replaces the key atomically via rename so readers never see a torn file.
func (s *Storage) write(key string, rec record) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("key %q: %w", key, sentinel.ErrInvalidInput)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit %s: %w", key, errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *Storage) snapshot() map[string]record {
	seen := make(map[string]record)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return seen
	}
	for _, entry := range entries {
		key, ok := keyOf(entry.Name())
		if !ok {
			continue
		}
		if rec, ok, err := s.read(filepath.Join(s.dir, entry.Name())); err == nil && ok {
			seen[key] = rec
		}
	}
	return seen
}

func keyOf(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(name, fileExt), true
}

type dirWatcher struct {
	storage *Storage
	fsw     *fsnotify.Watcher
	seen    map[string]record
	ch      chan credentials.Change
	done    chan struct{}
}

func (w *dirWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.storage.logger.Warn("storage watcher error", "dir", w.storage.dir, "error", err)
		}
	}
}

func (w *dirWatcher) handle(event fsnotify.Event) {
	key, ok := keyOf(filepath.Base(event.Name))
	if !ok {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) {
		return
	}

	rec, exists, err := w.storage.read(event.Name)
	if err != nil {
		w.storage.logger.Debug("storage watcher read failed", "key", key, "error", err)
		return
	}
	if !exists {
		// Removed out of band. Treat as a foreign delete.
		rec = record{Deleted: true}
	}

	prev, hadPrev := w.seen[key]
	w.seen[key] = rec
	if hadPrev && prev == rec {
		return
	}
	if rec.Writer == w.storage.writer {
		return
	}
	if rec.Deleted && (!hadPrev || prev.Deleted) {
		return
	}

	change := credentials.Change{Key: key, Value: rec.Value, Present: !rec.Deleted}
	select {
	case w.ch <- change:
	default:
		w.storage.logger.Warn("storage watcher overflow, dropping change", "key", key)
	}
}

func (w *dirWatcher) deliver(ctx context.Context, fn func(credentials.Change)) {
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
