package mongobase

import (
	"github.com/google/uuid"
)

// newContextID generates a UUIDv7 (time-ordered) identifier for a Context.
func newContextID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fall back to UUIDv4 if NewV7 fails (extremely rare)
		id = uuid.New()
	}
	return id.String()
}

// IsValidContextID checks if s could have been returned by Context.ID
func IsValidContextID(s string) bool {
	id, err := uuid.Parse(s)
	return err == nil && (id.Version() == 7 || id.Version() == 4)
}
