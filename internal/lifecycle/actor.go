package lifecycle

type ActorKind string

const (
	ActorAnonymous ActorKind = "anonymous"
	ActorUser      ActorKind = "user"
	ActorAdmin     ActorKind = "admin"
)

// Actor is the principal performing an operation.
type Actor struct {
	Kind        ActorKind `json:"kind"`
	ID          int64     `json:"id"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

func Anonymous() Actor {
	return Actor{Kind: ActorAnonymous}
}

func UserActor(id int64) Actor {
	return Actor{Kind: ActorUser, ID: id}
}

func AdminActor(id int64, role string, permissions ...string) Actor {
	return Actor{Kind: ActorAdmin, ID: id, Role: role, Permissions: permissions}
}

func (a Actor) IsAdmin() bool {
	return a.Kind == ActorAdmin && a.ID > 0
}

func (a Actor) IsUser() bool {
	return a.Kind == ActorUser && a.ID > 0
}

func (a Actor) Has(permission string) bool {
	if permission == "" {
		return true
	}
	for _, p := range a.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
