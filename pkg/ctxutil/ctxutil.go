package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

type ctxKey string

const (
	userIDKey    ctxKey = "user_id"
	requestIDKey ctxKey = "request_id"
	tenantIDKey  ctxKey = "tenant_id"
	actorKey     ctxKey = "actor"
)

// WithUserID stores the user ID in the context.
func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromCtx extracts the user ID from the context.
// Returns uuid.Nil and false if the value is missing, nil UUID, or wrong type.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx extracts the request ID from the context.
// Returns an empty string if absent.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTenantID stores the tenant ID in the context. Populated by the
// (out-of-scope) handler layer from X-Tenant-Id before calling into the core.
func WithTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

// TenantIDFromCtx extracts the tenant ID from the context.
// Returns uuid.Nil and false if the value is missing, nil UUID, or wrong type.
func TenantIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// WithActor stores the full mutation actor (tenant, user, ip, user agent)
// in the context. Mutator methods read it explicitly via ActorFromCtx —
// there is no ambient/thread-local fallback.
func WithActor(ctx context.Context, actor domain.ActorContext) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromCtx extracts the ActorContext stored by WithActor.
// Returns the zero value and false if absent.
func ActorFromCtx(ctx context.Context) (domain.ActorContext, bool) {
	actor, ok := ctx.Value(actorKey).(domain.ActorContext)
	return actor, ok
}
