package crmsync

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Credential holds the CRM API key at rest as a bcrypt hash, grounded on
// internal/users/service.go's password hashing, and the plaintext key held
// only in memory for outgoing requests after startup decrypts/loads it from
// configuration.
type Credential struct {
	hash      []byte
	plaintext string
}

// NewCredential hashes apiKey for storage and retains the plaintext in
// memory for use on outgoing delivery requests. Config-derived secrets are
// never logged; callers must use PlaintextForRequest only at the point of
// constructing the outgoing HTTP request.
func NewCredential(apiKey string) (*Credential, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash api key: %w", err)
	}
	return &Credential{hash: hash, plaintext: apiKey}, nil
}

// Verify reports whether candidate matches the stored hash. Used by
// cmd/propwatch's startup rotation check, called on a Credential built from
// a previously stored hash (LoadCredentialHash) with candidate being the
// freshly configured API key.
func (c *Credential) Verify(candidate string) bool {
	return bcrypt.CompareHashAndPassword(c.hash, []byte(candidate)) == nil
}

// PlaintextForRequest returns the API key for use in an outgoing Authorization
// header.
func (c *Credential) PlaintextForRequest() string {
	return c.plaintext
}

// StoredHash returns the bcrypt hash for audit logging or persistence,
// never the plaintext.
func (c *Credential) StoredHash() string {
	return string(c.hash)
}

// LoadCredentialHash wraps a previously stored bcrypt hash (e.g. one written
// by an earlier run's StoredHash) with no known plaintext, so it can still
// be compared against a freshly loaded key via Verify. Used by
// cmd/propwatch's startup rotation check; PlaintextForRequest must never be
// called on the result.
func LoadCredentialHash(hash string) *Credential {
	return &Credential{hash: []byte(hash)}
}
