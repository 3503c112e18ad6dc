// Package changehash gives watchers a cheap way to decide whether a tracked
// entity actually changed before re-emitting it. The hash is chosen for
// collision resistance, not secrecy; nothing here is a security boundary.
package changehash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Hash returns the hex-encoded SHA-256 digest of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashParts hashes an ordered sequence of parts such that the framing itself
// is unambiguous: ["ab", "c"] and ["a", "bc"] always hash differently,
// because each part is prefixed with its own length before concatenation.
func HashParts(parts []string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte(":"))
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
