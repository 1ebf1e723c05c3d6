// Package ids generates event and entity identifiers.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// NewUUID returns a random UUIDv4 string. Used for event ids and trace ids.
func NewUUID() string {
	return uuid.NewString()
}

// NewEntityID returns a prefixed short id such as "segment_3f2a9c81d04e".
// The 12 hex characters keep ids readable in logs while staying unique
// enough for per-session entities.
func NewEntityID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + hex[:12]
}
