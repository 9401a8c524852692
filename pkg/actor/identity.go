package actor

import "github.com/google/uuid"

// Identifiers under which the ping handler is published on the mesh.
// Client and server builds must agree on all three so the registry can
// verify the named endpoint is the expected type.
const (
	// RegisteredName is the name the server publishes its handler under.
	RegisteredName = "ping_actor"
	// TypeName identifies the handler type for remote routing.
	TypeName = "ping_pong_app::PingActor"
)

// TypeID is the stable routing identifier of the ping handler type.
var TypeID = uuid.MustParse("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
