package telemetry

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SessionContext carries the bridge-owned session identity stamped onto
// every normalized sample. Payload-supplied session fields are ignored; the
// bridge is the single authority for session membership.
type SessionContext struct {
	ID    string
	Label string
}

// NewSessionContext creates a session with a fresh uuid. An empty label gets
// a generated default derived from the short id. Synthetic sessions carry an
// "M " label prefix so they are recognizable in the catalog.
func NewSessionContext(label string, synthetic bool) SessionContext {
	id := uuid.NewString()
	label = strings.TrimSpace(label)
	if label == "" {
		label = fmt.Sprintf("Session %s", id[:8])
	}
	if synthetic && !strings.HasPrefix(label, "M ") {
		label = "M " + label
	}
	return SessionContext{ID: id, Label: label}
}
