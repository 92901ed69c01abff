package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"sync"
)

// LabelerAuthenticator verifies the shared bearer token presented by the AI labeling
// service against a bcrypt hash from config. After the first successful bcrypt match the
// SHA-256 digest of the token is remembered so later callbacks avoid the bcrypt cost.
type LabelerAuthenticator struct {
	hasher *Hasher
	hash   string

	mu       sync.RWMutex
	verified []byte
}

// NewLabelerAuthenticator returns an authenticator for hash. An empty hash rejects every token.
func NewLabelerAuthenticator(hasher *Hasher, hash string) *LabelerAuthenticator {
	if hasher == nil {
		hasher = NewHasher(0)
	}
	return &LabelerAuthenticator{hasher: hasher, hash: hash}
}

// Verify reports whether token matches the configured labeler token.
func (a *LabelerAuthenticator) Verify(token string) bool {
	if a == nil || a.hash == "" || token == "" {
		return false
	}
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	known := a.verified
	a.mu.RUnlock()
	if known != nil {
		return subtle.ConstantTimeCompare(known, digest[:]) == 1
	}

	if err := a.hasher.Compare(a.hash, []byte(token)); err != nil {
		return false
	}
	a.mu.Lock()
	a.verified = digest[:]
	a.mu.Unlock()
	return true
}
