package generic

import "context"

// Role is what an actor may do inside its society.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleResident Role = "resident"
)

// Actor is the authenticated caller, supplied by the identity collaborator.
// Every public billing operation receives it explicitly.
type Actor struct {
	ID        ActorID
	Role      Role
	SocietyID SocietyID
}

func (a Actor) IsAdmin() bool    { return a.Role == RoleAdmin }
func (a Actor) IsResident() bool { return a.Role == RoleResident }

// SystemActor is used by background jobs acting on behalf of a society.
func SystemActor(society SocietyID) Actor {
	return Actor{ID: "system", Role: RoleAdmin, SocietyID: society}
}

// RequireAdmin returns a ForbiddenError unless the actor administers society.
func (a Actor) RequireAdmin(society SocietyID) error {
	if !a.IsAdmin() {
		return &ForbiddenError{ActorID: a.ID, Reason: "admin role required"}
	}
	return a.RequireSociety(society)
}

// RequireSociety returns a ForbiddenError if society is outside the actor's scope.
func (a Actor) RequireSociety(society SocietyID) error {
	if a.SocietyID != society {
		return &ForbiddenError{ActorID: a.ID, Reason: "outside society scope"}
	}
	return nil
}

type actorKey struct{}

// WithActor stores the actor on the context. Used by the HTTP boundary only;
// billing operations take the actor as a parameter.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
