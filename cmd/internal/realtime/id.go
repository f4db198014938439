package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps message ids ordered by
// creation time in logs and storage.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewSessionID returns a ULID used as the per-connection session id.
func NewSessionID(now time.Time) (string, error) {
	return NewULID(now)
}

// NewEnvelopeID returns a ULID used as outbound envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return NewULID(now)
}
