package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type key string

const (
	requestIDKey     key = "obs_request_id"
	correlationIDKey key = "obs_correlation_id"
	actorRoleKey     key = "obs_actor_role"
	actorRefKey      key = "obs_actor_ref"
	bookingIDKey     key = "obs_booking_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithCorrelationID tags work that spans the HTTP request, the event bus and
// the sweep so their logs can be joined.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if strings.TrimSpace(id) == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, strings.TrimSpace(id))
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// EnsureCorrelationID returns ctx with a correlation id, generating a ULID when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return WithCorrelationID(ctx, id), id
}

func WithActor(ctx context.Context, role, ref string) context.Context {
	ctx = context.WithValue(ctx, actorRoleKey, strings.TrimSpace(role))
	return context.WithValue(ctx, actorRefKey, strings.TrimSpace(ref))
}

func ActorFromContext(ctx context.Context) (string, string) {
	return stringValue(ctx, actorRoleKey), stringValue(ctx, actorRefKey)
}

func WithBookingID(ctx context.Context, bookingID string) context.Context {
	return context.WithValue(ctx, bookingIDKey, strings.TrimSpace(bookingID))
}

func BookingIDFromContext(ctx context.Context) string {
	return stringValue(ctx, bookingIDKey)
}

func stringValue(ctx context.Context, k key) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(k).(string)
	return value
}
