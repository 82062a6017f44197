package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Key prefixes distinguish an agent key from a user key before the
// database is ever consulted.
const (
	AgentKeyPrefix = "cav_ak_"
	UserKeyPrefix  = "cav_uk_"
)

// KeyKind is which flavor of API key a token claims to be, from its prefix
// alone.
type KeyKind string

const (
	KeyKindAgent   KeyKind = "agent"
	KeyKindUser    KeyKind = "user"
	KeyKindUnknown KeyKind = "unknown"
)

// ClassifyKey inspects a raw bearer token's prefix.
func ClassifyKey(token string) KeyKind {
	switch {
	case strings.HasPrefix(token, AgentKeyPrefix):
		return KeyKindAgent
	case strings.HasPrefix(token, UserKeyPrefix):
		return KeyKindUser
	default:
		return KeyKindUnknown
	}
}

// HashKey returns the (prefix, sha256 hex digest) pair persisted for an API
// key. prefixLen trims the stored lookup prefix to the first N characters
// of the whole token, kind prefix included, matching spec §6's `(prefix_first_N_chars,
// sha256_hash)` storage shape: the short prefix lets a lookup narrow to a
// handful of candidate rows before the full token is compared.
func HashKey(token string, prefixLen int) (lookupPrefix string, hash string) {
	sum := sha256.Sum256([]byte(token))
	hash = hex.EncodeToString(sum[:])
	if len(token) < prefixLen {
		return token, hash
	}
	return token[:prefixLen], hash
}

// VerifyKey reports whether token hashes to storedHash, in constant time
// with respect to the comparison itself (the lookup that narrowed storedHash
// down by prefix is not constant-time, and does not need to be — the prefix
// is not a secret).
func VerifyKey(token, storedHash string) bool {
	sum := sha256.Sum256([]byte(token))
	candidate := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}
