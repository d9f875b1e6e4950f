package realtime

import (
	"time"

	"lyceum/cmd/identity/ids"

	"github.com/oklog/ulid/v2"
)

// NewConnectionID returns a ULID used as the connection id.
// It doubles as the device_sessions primary key.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// newEnvelopeID returns a ULID for an outgoing envelope. Envelope ids are only used for
// tracing, so an entropy failure falls back to the package's monotonic source.
func newEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ulid.Make().String()
	}
	return id
}
