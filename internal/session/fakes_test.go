package session_test

import (
	"context"
	"sync"

	"sessionkit/internal/broadcast"
	"sessionkit/internal/session"
)

// fakeNavigator records navigations for tests that drive tabs from bus
// goroutines, where gomock expectations are awkward to assert on.
type fakeNavigator struct {
	mu       sync.Mutex
	route    string
	history  []string
	reloaded int
}

func (n *fakeNavigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

func (n *fakeNavigator) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.route = route
	n.history = append(n.history, route)
}

func (n *fakeNavigator) Reload() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reloaded++
}

func (n *fakeNavigator) navigations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.history...)
}

type fakePrompter struct {
	mu      sync.Mutex
	confirm bool
	shown   []session.PendingAuthChange
	hidden  int
	alerts  []string
}

func (p *fakePrompter) Confirm(context.Context, string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirm
}

func (p *fakePrompter) ShowConflict(change session.PendingAuthChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, change)
}

func (p *fakePrompter) HideConflict() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden++
}

func (p *fakePrompter) Alert(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, message)
}

func (p *fakePrompter) conflicts() []session.PendingAuthChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.PendingAuthChange(nil), p.shown...)
}

// captureBus hands the subscription back to the test and records publishes.
type captureBus struct {
	mu        sync.Mutex
	fn        func(broadcast.Message)
	published []broadcast.Message
}

func (b *captureBus) Publish(_ context.Context, msg broadcast.Message) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
	return "env"
}

func (b *captureBus) Subscribe(_ context.Context, fn func(broadcast.Message)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fn = fn
	return func() {}, nil
}

func (b *captureBus) deliver(msg broadcast.Message) {
	b.mu.Lock()
	fn := b.fn
	b.mu.Unlock()
	fn(msg)
}

func (n *fakeNavigator) reloads() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reloaded
}
