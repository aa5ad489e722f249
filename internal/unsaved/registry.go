// Package unsaved tracks in-progress work items (forms, editors) and whether
// each has changes that would be lost on a session change.
package unsaved

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	dErrors "sessionkit/pkg/domain-errors"
)

// SaveFunc persists one work item.
type SaveFunc func(ctx context.Context) error

type item struct {
	label   string
	save    SaveFunc
	dirty   bool
	order   int
	version uint64
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	items map[string]*item
	seq   int
}

func New() *Registry {
	return &Registry{items: make(map[string]*item)}
}

// Register adds or replaces a work item. save may be nil for items that can
// only be discarded.
func (r *Registry) Register(id, label string, save SaveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if label == "" {
		label = id
	}
	if existing, ok := r.items[id]; ok {
		existing.label = label
		existing.save = save
		return
	}
	r.seq++
	r.items[id] = &item{label: label, save: save, order: r.seq}
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
}

// SetDirty marks a registered item. Unknown ids report false.
func (r *Registry) SetDirty(id string, dirty bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return false
	}
	it.dirty = dirty
	it.version++
	return true
}

func (r *Registry) HasUnsavedWork() bool {
	return r.UnsavedCount() > 0
}

func (r *Registry) UnsavedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.dirty {
			n++
		}
	}
	return n
}

// Summary is e.g. "2 unsaved items: Profile, Billing", in registration order.
// Empty when nothing is dirty.
func (r *Registry) Summary() string {
	labels := r.dirtyLabels()
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return "1 unsaved item: " + labels[0]
	default:
		return fmt.Sprintf("%d unsaved items: %s", len(labels), strings.Join(labels, ", "))
	}
}

// SaveAll runs every dirty item's save concurrently. Items are marked clean
// only when every save succeeds; on any failure no flag changes and the first
// error is returned.
func (r *Registry) SaveAll(ctx context.Context) error {
	type job struct {
		id      string
		label   string
		save    SaveFunc
		version uint64
	}

	r.mu.Lock()
	var jobs []job
	for id, it := range r.items {
		if !it.dirty {
			continue
		}
		if it.save == nil {
			r.mu.Unlock()
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s cannot be saved automatically", it.label))
		}
		jobs = append(jobs, job{id: id, label: it.label, save: it.save, version: it.version})
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			if err := j.save(gctx); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("save %s", j.label))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		// An item edited again while saving stays dirty.
		if it, ok := r.items[j.id]; ok && it.version == j.version {
			it.dirty = false
		}
	}
	return nil
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]*item)
}

func (r *Registry) dirtyLabels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	dirty := make([]*item, 0, len(r.items))
	for _, it := range r.items {
		if it.dirty {
			dirty = append(dirty, it)
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].order < dirty[j].order })
	labels := make([]string, len(dirty))
	for i, it := range dirty {
		labels[i] = it.label
	}
	return labels
}
