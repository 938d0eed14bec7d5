package models

import (
	"strings"

	"github.com/google/uuid"
)

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://gamecock.dev/ids"))

// StableID derives a name-based UUID from parts, so identical inputs always
// produce identical IDs across runs and processes.
func StableID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}
