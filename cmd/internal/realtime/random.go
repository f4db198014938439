package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns 2*n hex characters from the system CSPRNG. A
// non-positive n yields 32 characters. If the randomness source fails the
// result is empty; callers treat empty as an error-like condition.
func NewRandomHex(n int) string {
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
