package service

// CredentialProvider produces the current password for a database connection.
//
// For profiles flagged dynamic the returned value is a short-lived signed
// credential minted on every call, so a connection opened minutes apart uses
// a fresh secret. Static profiles satisfy the same interface with a constant,
// which keeps the pooling code indifferent to how credentials are derived.
type CredentialProvider interface {
	// Password returns the credential to present on the next connect.
	Password() (string, error)
}
