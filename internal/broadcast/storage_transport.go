package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"sessionkit/internal/credentials"
	"sessionkit/internal/identity"
	"sessionkit/internal/sentinel"
)

// StorageTransport infers messages from other tabs' writes to the access
// token key. Publish is a no-op: the credential write itself is the signal.
type StorageTransport struct {
	storage credentials.Storage
	watch   credentials.Watchable
	decode  func(token string) (*credentials.Claims, bool)
}

// NewStorageTransport builds the fallback over storage, which must implement
// credentials.Watchable.
func NewStorageTransport(storage credentials.Storage) (*StorageTransport, error) {
	w, ok := storage.(credentials.Watchable)
	if !ok {
		return nil, fmt.Errorf("storage %T does not report changes: %w", storage, sentinel.ErrUnavailable)
	}
	return &StorageTransport{
		storage: storage,
		watch:   w,
		decode:  func(token string) (*credentials.Claims, bool) { return credentials.DecodePayload(nil, token) },
	}, nil
}

func (t *StorageTransport) Name() string {
	return "storage"
}

func (t *StorageTransport) Publish(context.Context, Envelope) error {
	return nil
}

func (t *StorageTransport) Subscribe(ctx context.Context, h Handler) (func(), error) {
	var mu sync.Mutex
	prev, _, err := t.storage.Get(ctx, credentials.KeyAccessToken)
	if err != nil {
		prev = ""
	}

	return t.watch.Watch(ctx, func(c credentials.Change) {
		if c.Key != credentials.KeyAccessToken {
			return
		}
		mu.Lock()
		before := prev
		if c.Present {
			prev = c.Value
		} else {
			prev = ""
		}
		mu.Unlock()

		msg, ok := t.infer(before, c)
		if !ok {
			return
		}
		h(Envelope{ID: ulid.Make().String(), Message: msg})
	})
}

// infer maps an access token transition to a message. present to absent is a
// logout; a new token is a login, or a company switch when the same user now
// carries a different company.
func (t *StorageTransport) infer(before string, c credentials.Change) (Message, bool) {
	if !c.Present || c.Value == "" {
		if before == "" {
			return nil, false
		}
		return Logout{}, true
	}
	if c.Value == before {
		return nil, false
	}

	claims, ok := t.decode(c.Value)
	if !ok {
		return nil, false
	}
	user := identity.FromClaims(claims)
	if user.IsZero() {
		return nil, false
	}

	if before != "" {
		if oldClaims, ok := t.decode(before); ok {
			old := identity.FromClaims(oldClaims)
			if old.SameIdentity(user) && old.CompanyID != user.CompanyID {
				return CompanySwitch{User: user}, true
			}
		}
	}
	return Login{User: user}, true
}
