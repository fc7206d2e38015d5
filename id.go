package vigil

import "github.com/google/uuid"

// NewID returns a new random identifier (UUID v4).
func NewID() string {
	return uuid.NewString()
}
