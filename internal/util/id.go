package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed identifier, e.g. "rfi_1f9c...".
func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
