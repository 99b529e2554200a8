package model

// ActorType identifies the role an actor plays in a write.
type ActorType string

const (
	ActorLicensedAgent ActorType = "licensed_agent"
	ActorBufferAgent   ActorType = "buffer_agent"
	ActorSystem        ActorType = "system"
)

// Actor is the authenticated caller attributed on every write and audit entry.
// It is passed explicitly to each operation.
type Actor struct {
	ID   string    `json:"id"`
	Type ActorType `json:"type,omitempty"`
	Name string    `json:"name,omitempty"`
}

// Valid reports whether the actor carries an identity.
func (a Actor) Valid() bool {
	return a.ID != ""
}

// SystemActor is used for writes made by background workers.
var SystemActor = Actor{ID: "system", Type: ActorSystem, Name: "verifyd"}
