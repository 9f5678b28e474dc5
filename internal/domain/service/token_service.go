package service

// TokenService mints and hashes opaque bearer tokens.
//
// Tokens are random identifiers, not self-contained signed tokens: the
// session store is the single source of truth, which is what makes revocation
// synchronous. A leaked token hash is useless without the raw value.
type TokenService interface {
	// Generate returns a fresh opaque token and the hash under which the
	// session store will know it.
	Generate() (token string, hash string, err error)

	// HashToken derives the storage hash for a raw token supplied by a client.
	HashToken(token string) string
}
