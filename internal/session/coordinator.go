// Package session owns one tab's authenticated-session state. The Coordinator
// applies local login and logout, keeps credentials renewed, and reconciles
// the changes other tabs broadcast without discarding unsaved work.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"sessionkit/internal/identity"
	"sessionkit/internal/platform/clock"
	"sessionkit/internal/renewal"
	dErrors "sessionkit/pkg/domain-errors"
)

// Deps are the collaborators every coordinator needs.
type Deps struct {
	// TabID identifies this tab on the bus and in audit events. Generated when empty.
	TabID       string
	API         AuthAPI
	Credentials Credentials
	Bus         Bus
	Unsaved     UnsavedWork
	Navigator   Navigator
	Prompter    Prompter
}

// Coordinator is the session state machine for one tab. Create it with New,
// call Init once and Dispose when the tab goes away.
type Coordinator struct {
	tabID   string
	api     AuthAPI
	creds   Credentials
	bus     Bus
	unsaved UnsavedWork
	nav     Navigator
	prompt  Prompter

	clock     clock.Clock
	buffer    time.Duration
	jitter    time.Duration
	scheduler *renewal.Scheduler
	logger    *slog.Logger
	audit     AuditPublisher
	metrics   *Metrics
	refreshes singleflight.Group

	// writeMu serializes identity mutations and the credential writes that go
	// with them. It is held across storage I/O, never across network, save or
	// UI calls. Lock order: writeMu before mu.
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	session     Session
	pending     *PendingAuthChange
	resume      State
	epoch       uint64
	initialized bool
	disposed    bool
	unsubscribe func()
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithRenewalBuffer sets how long before expiry renewal fires.
func WithRenewalBuffer(d time.Duration) Option {
	return func(co *Coordinator) {
		if d >= 0 {
			co.buffer = d
		}
	}
}

// WithRenewalJitter lets the renewal timer fire up to d earlier, spreading
// the renewals of tabs that share one pair.
func WithRenewalJitter(d time.Duration) Option {
	return func(co *Coordinator) {
		if d >= 0 {
			co.jitter = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(co *Coordinator) {
		if logger != nil {
			co.logger = logger
		}
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(co *Coordinator) {
		co.audit = p
	}
}

func WithMetrics(m *Metrics) Option {
	return func(co *Coordinator) {
		co.metrics = m
	}
}

// New wires a coordinator. It starts in StateInitializing and does no I/O.
func New(deps Deps, opts ...Option) (*Coordinator, error) {
	switch {
	case deps.API == nil:
		return nil, errors.New("session: auth API is required")
	case deps.Credentials == nil:
		return nil, errors.New("session: credential store is required")
	case deps.Bus == nil:
		return nil, errors.New("session: broadcast bus is required")
	case deps.Unsaved == nil:
		return nil, errors.New("session: unsaved-work registry is required")
	case deps.Navigator == nil:
		return nil, errors.New("session: navigator is required")
	case deps.Prompter == nil:
		return nil, errors.New("session: prompter is required")
	}

	c := &Coordinator{
		tabID:   deps.TabID,
		api:     deps.API,
		creds:   deps.Credentials,
		bus:     deps.Bus,
		unsaved: deps.Unsaved,
		nav:     deps.Navigator,
		prompt:  deps.Prompter,
		clock:   clock.New(),
		buffer:  renewal.DefaultBuffer,
		logger:  slog.Default(),
		state:   StateInitializing,
		session: Session{IsLoading: true},
	}
	if c.tabID == "" {
		c.tabID = uuid.NewString()
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("tab_id", c.tabID)
	c.scheduler = renewal.New(c.creds, c.clock, c.onRenewalDue,
		renewal.WithBuffer(c.buffer),
		renewal.WithJitter(c.jitter),
		renewal.WithLogger(c.logger),
	)
	return c, nil
}

// Init subscribes to the bus and resolves the initial state from the shared
// credential store. A current-user lookup rejected as unauthorized clears the
// credentials; any other lookup failure leaves them for the other tabs.
func (c *Coordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.initialized {
		c.mu.Unlock()
		return invalidState("session already initialized")
	}
	c.initialized = true
	epoch := c.epoch
	c.mu.Unlock()

	// the subscription lives until Dispose, not until ctx ends
	unsubscribe, err := c.bus.Subscribe(context.WithoutCancel(ctx), c.onRemote)
	if err != nil {
		return fmt.Errorf("subscribe to session changes: %w", err)
	}
	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	if _, ok := c.creds.Read(ctx); !ok || c.creds.IsExpired(ctx) {
		c.resolveInit(ctx, epoch, nil)
		return nil
	}

	user, err := c.api.Me(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "current user lookup failed during init", "error", err)
		// Only a rejection invalidates the shared pair. Clearing on a network
		// error would read as a logout in every other tab.
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			c.writeMu.Lock()
			if c.epochIs(epoch) {
				if clearErr := c.creds.Clear(ctx); clearErr != nil {
					c.logger.WarnContext(ctx, "failed to clear credentials", "error", clearErr)
				}
			}
			c.writeMu.Unlock()
		}
		c.resolveInit(ctx, epoch, nil)
		return nil
	}
	c.resolveInit(ctx, epoch, &user)
	return nil
}

// resolveInit leaves Initializing unless a remote change already moved the tab.
func (c *Coordinator) resolveInit(ctx context.Context, epoch uint64, user *identity.User) {
	c.writeMu.Lock()
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateInitializing {
		c.mu.Unlock()
		c.writeMu.Unlock()
		c.logger.DebugContext(ctx, "init result superseded by a remote change")
		return
	}
	if user == nil {
		c.session = Session{}
		c.transitionLocked(StateUnauthenticated)
	} else {
		c.session = Session{User: user, IsAuthenticated: true}
		c.transitionLocked(StateAuthenticated)
	}
	c.mu.Unlock()
	c.writeMu.Unlock()

	if user != nil {
		c.scheduler.Schedule(ctx)
		c.logger.InfoContext(ctx, "session restored", "user_id", user.ID)
	}
}

// Dispose unsubscribes from the bus and disarms renewal. Idempotent.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	c.scheduler.Cancel()
}

func (c *Coordinator) TabID() string {
	return c.tabID
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session.
func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Pending returns the change behind the open conflict prompt, if any.
func (c *Coordinator) Pending() (PendingAuthChange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingAuthChange{}, false
	}
	return *c.pending, true
}

// RenewalDue returns when the armed renewal timer fires.
func (c *Coordinator) RenewalDue() (time.Time, bool) {
	return c.scheduler.Armed()
}

func (c *Coordinator) transitionLocked(to State) {
	from := c.state
	c.state = to
	if from != to {
		c.metrics.observeTransition(from, to)
		c.logger.Debug("session state changed", "from", from.String(), "to", to.String())
	}
}

func (c *Coordinator) epochIs(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// snapshot returns the state and epoch, or ErrDisposed.
func (c *Coordinator) snapshot() (State, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return c.state, c.epoch, ErrDisposed
	}
	return c.state, c.epoch, nil
}

func (c *Coordinator) setLoading(loading bool, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.IsLoading = loading
	c.session.Error = errMsg
}

// hasLiveCredentials reports whether the shared store holds an unexpired pair.
func (c *Coordinator) hasLiveCredentials(ctx context.Context) bool {
	if _, ok := c.creds.Read(ctx); !ok {
		return false
	}
	return !c.creds.IsExpired(ctx)
}

func (c *Coordinator) navigate(route string) {
	if c.nav.Current() == route {
		return
	}
	c.nav.Navigate(route)
}

// enterApp navigates to the main surface unless the tab is already on it.
func (c *Coordinator) enterApp() {
	current := c.nav.Current()
	if current == RouteApp || strings.HasPrefix(current, RouteApp+"/") {
		return
	}
	c.nav.Navigate(RouteApp)
}
