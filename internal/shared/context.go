package shared

import (
	"context"

	"github.com/google/uuid"
)

type ownerContextKey struct{}

// ContextWithOwner stores the authenticated account id in context.
func ContextWithOwner(ctx context.Context, owner uuid.UUID) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext extracts the authenticated account id from context.
func OwnerFromContext(ctx context.Context) (uuid.UUID, bool) {
	owner, ok := ctx.Value(ownerContextKey{}).(uuid.UUID)
	if !ok || owner == uuid.Nil {
		return uuid.Nil, false
	}
	return owner, true
}
