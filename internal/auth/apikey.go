package auth

import "crypto/subtle"

// SharedKeyAuthenticator gates every write endpoint behind a single
// shared secret, compared in constant time to avoid timing side-channels.
// There is no per-caller identity or revocation list — that is what the
// optional JWT mode is for.
type SharedKeyAuthenticator struct {
	key []byte
}

// NewSharedKeyAuthenticator builds an authenticator for the configured
// key. An empty key disables the check: Authenticate always succeeds,
// which is the documented behavior for deployments that leave apiKey
// unset and rely on network-level access control instead.
func NewSharedKeyAuthenticator(key string) *SharedKeyAuthenticator {
	return &SharedKeyAuthenticator{key: []byte(key)}
}

// Authenticate reports whether candidate matches the configured key.
func (a *SharedKeyAuthenticator) Authenticate(candidate string) bool {
	if len(a.key) == 0 {
		return true
	}
	if len(candidate) != len(a.key) {
		return false
	}
	return subtle.ConstantTimeCompare(a.key, []byte(candidate)) == 1
}
