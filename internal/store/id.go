package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Entity id prefixes. IDs are globally unique within (tenant, kind).
const (
	idPrefixEvent    = "evt"
	idPrefixChunk    = "chk"
	idPrefixDecision = "dec"
	idPrefixTask     = "task"
	idPrefixArtifact = "art"
	idPrefixEdit     = "edit"
	idPrefixCapsule  = "cap"
	idPrefixHandoff  = "hand"
)

// generatePrefixedID creates a globally unique ID in the format:
//
//	{prefix}_{unix_nano}_{12_hex_chars}
//
// The 12 hex characters are derived from 6 cryptographically random bytes,
// giving 48 bits of randomness to avoid collisions at the same nanosecond.
// If crypto/rand fails, the ID omits the random suffix and relies on the
// nanosecond timestamp alone.
func generatePrefixedID(prefix string) string {
	timestamp := time.Now().UnixNano()

	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%s_%d", prefix, timestamp)
	}

	return fmt.Sprintf("%s_%d_%s", prefix, timestamp, hex.EncodeToString(b[:]))
}
