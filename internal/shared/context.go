package shared

import "context"

type organizationContextKey struct{}

type actorContextKey struct{}

// ContextWithOrganization stores the tenant organization id in context.
func ContextWithOrganization(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, organizationContextKey{}, orgID)
}

// OrganizationFromContext extracts the organization id, zero when absent.
func OrganizationFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(organizationContextKey{}).(int64)
	return id
}

// ContextWithActor stores the acting user id in context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorFromContext extracts the acting user id, zero when absent.
func ActorFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(actorContextKey{}).(int64)
	return id
}
