// Package idgen generates the prefixed random IDs used across the engine
// (wal_, esc_, pay_, flg_, txn_...). IDs are 12 random bytes hex encoded,
// so the full form always matches prefix + 24 hex chars.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the host is broken; IDs must never
		// silently collide.
		panic("idgen: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix returns prefix + 24 hex chars, e.g. WithPrefix("esc_").
func WithPrefix(prefix string) string {
	return prefix + randomHex(12)
}

// Slug returns a short URL-safe token for tracking links (16 hex chars).
func Slug() string {
	return randomHex(8)
}
