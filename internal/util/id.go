package util

import (
	"crypto/rand"
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewID returns a lexically sortable identifier, optionally prefixed.
func NewID(prefix string) string {
	id := strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
