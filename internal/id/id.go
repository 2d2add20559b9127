// Package id mints the service's opaque identifiers.
//
// An identifier is the bytes of a UUIDv4 encoded as unpadded lowercase
// base32 (RFC 4648) behind a short "ws" marker, so walkthrough ids are
// recognizable in logs and URLs. The total length is 28 characters.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// Marker prefixes every identifier minted by this service.
const Marker = "ws"

// NewID generates a walkthrough identifier: the Marker followed by 26
// lowercase base32 characters of UUIDv4 entropy.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	// RFC 4122 variant and version bits for a v4 UUID.
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
	return Marker + strings.ToLower(encoded), nil
}
