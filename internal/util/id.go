// Package util holds small helpers shared by the HTTP layer and sessions.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random v4 UUID without dashes, prefixed with "prefix_"
// when prefix is set. Used for request ids and token ids.
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
