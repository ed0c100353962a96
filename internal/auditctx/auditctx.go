// Package auditctx carries the acting identity through request contexts so
// services can attribute audit entries without threading it through every call.
package auditctx

import "context"

// Actor describes who initiated a request and from where.
type Actor struct {
	UserID    string
	Username  string
	SessionID string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor returns a derived context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// WithClient records only the client address and agent, for requests that
// have not authenticated yet.
func WithClient(ctx context.Context, ipAddress, userAgent string) context.Context {
	actor, _ := FromContext(ctx)
	actor.IPAddress = ipAddress
	actor.UserAgent = userAgent
	return WithActor(ctx, actor)
}

// WithoutUser keeps the client address and agent but drops the user identity,
// for entries about accounts that no longer exist.
func WithoutUser(ctx context.Context) context.Context {
	actor, _ := FromContext(ctx)
	return WithActor(ctx, Actor{IPAddress: actor.IPAddress, UserAgent: actor.UserAgent})
}
