package types

import "context"

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeAgency   ActorType = "agency"
	ActorTypeProvider ActorType = "provider"
	ActorTypeSystem   ActorType = "system"
)

// Actor represents the authenticated entity performing an operation.
// Provider actors are scoped to their ProviderID; agency actors see all
// providers.
type Actor struct {
	ID         string
	Type       ActorType
	ProviderID string
	Scopes     []string
}

// HasScope reports whether the actor carries the given scope. Agency and
// system actors implicitly hold every scope.
func (a Actor) HasScope(scope string) bool {
	if a.Type == ActorTypeAgency || a.Type == ActorTypeSystem {
		return true
	}
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Context keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
