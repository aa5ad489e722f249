package credentials

import "context"

// Storage is an origin-scoped string key-value store shared by every tab of one
// origin. Writers fully overwrite; there is no merge.
//
// Error Contract:
// - Get reports a missing key as ok=false with a nil error
// - infrastructure failures are returned wrapped with sentinel.ErrUnavailable
type Storage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Change is one key mutation observed by another tab.
type Change struct {
	Key string
	// Value is the new value. Empty when Present is false.
	Value   string
	Present bool
}

// Watchable is implemented by storages that notify other tabs of writes, the
// way browser storage events do. The writing handle never sees its own changes.
type Watchable interface {
	Watch(ctx context.Context, fn func(Change)) (stop func(), err error)
}
