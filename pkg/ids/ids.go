// Package ids implements the deterministic/random action-id scheme
// from spec §6/§9: generateActionId("tool"|"llm", idempotencyKey) must
// be deterministic given the key and cryptographically random
// otherwise, so the retry contract holds — same idempotency key,
// same action id, caught by replay protection; new intent, new id.
package ids

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateActionID derives a 16-hex-char id by hashing "kind:key" with
// SHA-256 and truncating, mirroring the content-hash truncation idiom
// in core/pkg/ledger/ledger.go. When idempotencyKey is empty, it
// returns a fresh random id instead (google/uuid), since there is
// nothing stable to derive from.
func GenerateActionID(kind, idempotencyKey string) string {
	if idempotencyKey == "" {
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(kind + ":" + idempotencyKey))
	return hex.EncodeToString(sum[:])[:16]
}

// MustRandom returns a fresh random id, for callers that explicitly
// want a non-deterministic id regardless of an idempotency key (rare;
// factories should prefer GenerateActionID).
func MustRandom() string {
	return uuid.NewString()
}
