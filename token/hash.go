package token

import (
	"crypto/sha256"
	"encoding/base64"
)

// oidcHash computes the OIDC half-hash of an input string: the left half of
// its SHA-256 digest, base64url encoded without padding. Used for the
// at_hash, c_hash and s_hash ID token claims.
func oidcHash(input string) string {
	digest := sha256.Sum256([]byte(input))
	return base64.RawURLEncoding.EncodeToString(digest[:len(digest)/2])
}
