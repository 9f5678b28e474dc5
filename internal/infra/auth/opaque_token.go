package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"cardlens/internal/domain/service"

	"github.com/pkg/errors"
)

// tokenBytes is the entropy of a minted token. 32 bytes keeps brute force out
// of reach while the base64url form stays header-friendly.
const tokenBytes = 32

// opaqueTokenService mints random bearer tokens and derives their storage
// hashes. SHA-256 is deliberate here: unlike passwords, tokens carry full
// entropy, so a slow hash would add latency without adding security.
type opaqueTokenService struct{}

// NewOpaqueTokenService is the constructor for opaqueTokenService.
func NewOpaqueTokenService() service.TokenService {
	return &opaqueTokenService{}
}

// Generate returns a fresh opaque token and its SHA-256 storage hash.
func (s *opaqueTokenService) Generate() (string, string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", errors.Wrap(err, "failed to read random bytes for token")
	}

	token := base64.RawURLEncoding.EncodeToString(buf)

	return token, s.HashToken(token), nil
}

// HashToken derives the storage hash for a raw token supplied by a client.
func (s *opaqueTokenService) HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}
