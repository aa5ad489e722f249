// Package tracer is a small tracing abstraction over OpenTelemetry used by the
// auth API client. Production wires the OTel adapter; tests use the no-op.
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, marking it failed when err is non-nil.
	// End must be called exactly once, typically via defer.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span and returns a context carrying it.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanAuthRefresh,
	//       tracer.String(tracer.AttrHTTPRoute, "/api/auth/refresh"),
	//   )
	//   defer func() { span.End(err) }()
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashEmail returns a short stable digest of a normalized email, so login
// spans can be correlated without carrying the address.
func HashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:8])
}

// Span names.
const (
	SpanAuthLogin         = "auth.login"
	SpanAuthSignup        = "auth.signup"
	SpanAuthRefresh       = "auth.refresh"
	SpanAuthMe            = "auth.me"
	SpanAuthSwitchCompany = "auth.switch_company"
)

// Attribute keys.
const (
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.status_code"
	AttrEmailHash  = "user.email_hash"
	AttrUserID     = "user.id"
	AttrErrorCode  = "error.code"
)
