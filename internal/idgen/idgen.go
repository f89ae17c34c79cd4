// Package idgen provides random ID generation.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New generates a random UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix generates a prefixed random ID (e.g. "txn_", "req_").
// The UUID dashes are stripped to keep the ID compact.
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
