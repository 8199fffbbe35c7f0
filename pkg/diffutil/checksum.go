// Package diffutil holds the pure helpers behind version comparison:
// content checksums, metadata field diffs and human-readable content diffs.
package diffutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ChecksumPrefix names the digest algorithm inside a checksum string
const ChecksumPrefix = "sha256:"

// Checksum returns the SHA-256 digest of content as "sha256:<hex>"
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether checksum matches content
func VerifyChecksum(content []byte, checksum string) bool {
	if !strings.HasPrefix(checksum, ChecksumPrefix) {
		return false
	}
	return Checksum(content) == checksum
}

// ShortChecksum trims a checksum to its first 12 hex digits for display
func ShortChecksum(checksum string) string {
	hexPart := strings.TrimPrefix(checksum, ChecksumPrefix)
	if len(hexPart) > 12 {
		hexPart = hexPart[:12]
	}
	return hexPart
}
