package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random id carrying a short type prefix, e.g. "shift_3f2c...".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Short returns the first n hex characters of a fresh uuid, uppercased.
// Used for human-facing reference numbers.
func Short(n int) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	if n <= 0 || n > len(id) {
		return id
	}
	return id[:n]
}
