package postgres

import (
	"fmt"
	"sync"
	"time"

	"cardlens/internal/domain/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// defaultCredentialTTL bounds the validity of a minted dynamic credential
// when the profile does not configure one.
const defaultCredentialTTL = 15 * time.Minute

// StaticCredential adapts a fixed password to the CredentialProvider interface.
type StaticCredential string

// Password returns the static credential.
func (c StaticCredential) Password() (string, error) {
	return string(c), nil
}

// signerKey identifies one cached signer. One signer exists per endpoint
// identity, not per profile, so two profiles pointing at the same endpoint
// share a signer.
type signerKey struct {
	host     string
	port     int
	username string
}

// credentialSigner mints short-lived signed tokens that managed Postgres
// front ends accept in place of a password. The token is an HS256 JWT bound
// to the endpoint and user it was minted for.
type credentialSigner struct {
	key      signerKey
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// Password mints a fresh credential. Each call produces a new token so a
// reconnect minutes later presents a different secret.
func (s *credentialSigner) Password() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   s.key.username,
		Issuer:    "cardlens",
		Audience:  jwt.ClaimStrings{fmt.Sprintf("%s:%d", s.key.host, s.key.port)},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign database credential")
	}

	return token, nil
}

// SignerCache holds one credential signer per (host, port, username).
// Entries are created on first use and shared by every profile targeting the
// same endpoint identity. Safe for concurrent access.
type SignerCache struct {
	mu      sync.Mutex
	signers map[signerKey]*credentialSigner
}

// NewSignerCache creates an empty signer cache.
func NewSignerCache() *SignerCache {
	return &SignerCache{signers: make(map[signerKey]*credentialSigner)}
}

// Provider returns the credential provider for the given endpoint identity,
// creating and caching its signer on first use.
func (c *SignerCache) Provider(host string, port int, username, signingKey string, ttl time.Duration) service.CredentialProvider {
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}

	key := signerKey{host: host, port: port, username: username}

	c.mu.Lock()
	defer c.mu.Unlock()

	if signer, ok := c.signers[key]; ok {
		return signer
	}

	signer := &credentialSigner{
		key:      key,
		secret:   []byte(signingKey),
		tokenTTL: ttl,
		now:      time.Now,
	}
	c.signers[key] = signer

	return signer
}

// Len reports how many signers are cached.
func (c *SignerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.signers)
}
