package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/oklog/ulid/v2"

	"sessionkit/internal/authclient"
	"sessionkit/internal/broadcast"
	"sessionkit/internal/credentials"
	"sessionkit/internal/platform/tracer"
	"sessionkit/internal/session"
	"sessionkit/internal/unsaved"
	"sessionkit/pkg/platform/circuit"
)

var errSaveRejected = errors.New("save rejected")

// tab is one simulated browser tab. Its key-value handle, bus and REST client
// survive reloads; the coordinator and the unsaved work do not.
type tab struct {
	id    string
	label string
	env   *environment

	creds  *credentials.Store
	api    *authclient.Client
	bus    *broadcast.Bus
	nav    *navigator
	prompt *prompter

	work  *unsaved.Registry
	coord *session.Coordinator

	mu      sync.Mutex
	failing map[string]bool
	saves   map[string]unsaved.SaveFunc
}

func newTab(ctx context.Context, env *environment, con *console, index int) (*tab, error) {
	id := ulid.Make().String()
	label := fmt.Sprintf("[tab %d]", index)
	log := env.log.With("tab", index, "tab_id", id)

	storage, err := env.storage(id)
	if err != nil {
		return nil, fmt.Errorf("open credential storage: %w", err)
	}
	creds := credentials.New(storage, credentials.WithLogger(log))

	api := authclient.New(env.cfg.API.BaseURL, creds,
		authclient.WithHTTPClient(&http.Client{Timeout: env.cfg.API.Timeout}),
		authclient.WithTracer(tracer.NewOTel()),
		authclient.WithDefaultTTL(env.cfg.Session.DefaultTokenTTL),
		authclient.WithLogger(log),
	)

	fallback, err := broadcast.NewStorageTransport(storage)
	if err != nil {
		return nil, fmt.Errorf("storage fallback transport: %w", err)
	}
	opts := []broadcast.Option{
		broadcast.WithLogger(log),
		broadcast.WithMetrics(env.busMetrics),
		broadcast.WithPublishTimeout(env.cfg.Broadcast.PublishTimeout),
		broadcast.WithBreaker(circuit.New("broadcast-" + id)),
	}
	primary, err := env.primary(id)
	if err != nil {
		return nil, fmt.Errorf("primary transport: %w", err)
	}
	if primary != nil {
		opts = append(opts, broadcast.WithPrimary(primary))
	}
	bus, err := broadcast.NewBus(id, fallback, opts...)
	if err != nil {
		return nil, err
	}

	t := &tab{
		id:      id,
		label:   label,
		env:     env,
		creds:   creds,
		api:     api,
		bus:     bus,
		nav:     newNavigator(con, label),
		prompt:  &prompter{con: con, label: label},
		failing: make(map[string]bool),
		saves:   make(map[string]unsaved.SaveFunc),
	}
	if err := t.start(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// start builds a fresh coordinator and resolves it from the shared store.
func (t *tab) start(ctx context.Context) error {
	t.work = unsaved.New()
	t.mu.Lock()
	t.saves = make(map[string]unsaved.SaveFunc)
	t.mu.Unlock()
	coord, err := session.New(session.Deps{
		TabID:       t.id,
		API:         t.api,
		Credentials: t.creds,
		Bus:         t.bus,
		Unsaved:     t.work,
		Navigator:   t.nav,
		Prompter:    t.prompt,
	},
		session.WithRenewalBuffer(t.env.cfg.Session.RenewalBuffer),
		session.WithRenewalJitter(t.env.cfg.Session.RenewalJitter),
		session.WithLogger(t.env.log.With("tab_id", t.id)),
		session.WithAuditPublisher(t.env.audit),
		session.WithMetrics(t.env.sessionMetrics),
	)
	if err != nil {
		return err
	}
	if err := coord.Init(ctx); err != nil {
		coord.Dispose()
		return fmt.Errorf("init session: %w", err)
	}
	t.coord = coord
	return nil
}

// reloadIfRequested restarts the tab when the coordinator asked for it.
func (t *tab) reloadIfRequested(ctx context.Context) error {
	if !t.nav.takeReload() {
		return nil
	}
	t.coord.Dispose()
	return t.start(ctx)
}

// edit registers a dirty work item. Its save fails while failing is set.
func (t *tab) edit(id, label string, failing bool) {
	save := func(context.Context) error {
		t.mu.Lock()
		fail := t.failing[id]
		t.mu.Unlock()
		if fail {
			return errSaveRejected
		}
		t.prompt.con.event(t.label, "saved %s", label)
		return nil
	}

	t.mu.Lock()
	t.failing[id] = failing
	t.saves[id] = save
	t.mu.Unlock()

	t.work.Register(id, label, save)
	t.work.SetDirty(id, true)
}

// save persists one work item and marks it clean.
func (t *tab) save(ctx context.Context, id string) error {
	t.mu.Lock()
	save, ok := t.saves[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no work item %q", id)
	}
	if err := save(ctx); err != nil {
		return fmt.Errorf("save %s: %w", id, err)
	}
	t.work.SetDirty(id, false)
	return nil
}

func (t *tab) close() {
	t.coord.Dispose()
	t.bus.Wait()
}
