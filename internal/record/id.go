package record

import (
	"strings"

	"github.com/google/uuid"
)

// localIDPrefix marks ids generated on-device for records created while
// offline. The remote backend assigns the permanent id on first upload and
// the local row is rekeyed to it.
const localIDPrefix = "local-"

// NewLocalID generates an id for a record created offline.
func NewLocalID() string {
	return localIDPrefix + uuid.New().String()
}

// IsLocalID reports whether id was generated on-device and has not yet been
// replaced by a backend-assigned id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
