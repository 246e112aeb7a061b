package util

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// NewID returns a prefixed row identifier such as case_3f2a...
func NewID(prefix string) string {
	if prefix == "" {
		return RandomHex(16)
	}
	return prefix + "_" + RandomHex(16)
}

// NewToken returns an opaque bearer secret. Only its hash is persisted.
func NewToken(prefix string) string {
	return prefix + "_" + RandomHex(32)
}
