// Package uid generates random identifiers: connection/stream UIDs and
// publish tokens. Token-like values use crypto/rand, matching the
// security-sensitive purpose a generated stream key serves.
package uid

import (
	"crypto/rand"
	"encoding/hex"
)

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewID returns a short random identifier suitable for a connection UID.
func NewID() string {
	return RandStringRunes(16)
}

// RandStringRunes returns a random string of n characters drawn from
// letterBytes, suitable for stream keys and publish tokens.
func RandStringRunes(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = letterBytes[int(b)%len(letterBytes)]
	}
	return string(out)
}

// RandHex returns n random bytes hex-encoded, used for publish tokens
// where a fixed-alphabet-free value is preferred.
func RandHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
