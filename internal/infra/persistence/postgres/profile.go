// Package postgres contains the concrete persistence layer: resilient
// connection management over GORM/PostgreSQL and the repositories built on it.
package postgres

import (
	"fmt"
	"strings"
	"time"

	"cardlens/config"
	"cardlens/internal/domain/service"

	"github.com/pkg/errors"
)

// managedHostSuffixes lists hostname suffixes of managed database offerings
// where the server always speaks TLS. Connections to these enforce
// certificate verification regardless of the profile's ForceTLS flag.
var managedHostSuffixes = []string{
	".rds.amazonaws.com",
	".supabase.co",
	".neon.tech",
	".digitalocean.com",
}

// ConnectionProfile is a complete, immutable descriptor of one way to reach
// the backing store. The resilience registry switches between profiles only
// by swapping whole descriptors, never by mutating fields in place.
type ConnectionProfile struct {
	Name     string
	Host     string
	Port     int
	Database string
	Username string

	// credential produces the password presented on connect. For dynamic
	// profiles every call mints a fresh short-lived credential.
	credential service.CredentialProvider

	ForceTLS bool
	Replicas []config.ReplicaConfig

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewProfile builds a runtime profile from its configuration. Dynamic
// profiles draw their credential provider from the signer cache so a signer
// is shared across profiles that target the same (host, port, username).
func NewProfile(pc *config.ProfileConfig, signers *SignerCache) (*ConnectionProfile, error) {
	if pc == nil {
		return nil, errors.New("profile config is nil")
	}
	if pc.Host == "" || pc.Database == "" || pc.Username == "" {
		return nil, errors.Errorf("profile %q is missing host, database or username", pc.Name)
	}

	var credential service.CredentialProvider
	if pc.DynamicCredentials {
		if pc.SigningKey == "" {
			return nil, errors.Errorf("profile %q requests dynamic credentials without a signing key", pc.Name)
		}
		credential = signers.Provider(pc.Host, pc.Port, pc.Username, pc.SigningKey, pc.CredentialTTL)
	} else {
		credential = StaticCredential(pc.Password)
	}

	return &ConnectionProfile{
		Name:            pc.Name,
		Host:            pc.Host,
		Port:            pc.Port,
		Database:        pc.Database,
		Username:        pc.Username,
		credential:      credential,
		ForceTLS:        pc.ForceTLS,
		Replicas:        pc.Replicas,
		MaxOpenConns:    pc.MaxOpenConns,
		MaxIdleConns:    pc.MaxIdleConns,
		ConnMaxLifetime: pc.ConnMaxLifetime,
	}, nil
}

// TLSEnforced reports whether connections to this profile must verify TLS.
func (p *ConnectionProfile) TLSEnforced() bool {
	if p.ForceTLS {
		return true
	}

	host := strings.ToLower(p.Host)
	for _, suffix := range managedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}

	return false
}

// DSN renders the profile into a connection string, resolving the current
// credential. Called on every (re)connect so dynamic profiles rotate.
func (p *ConnectionProfile) DSN() (string, error) {
	password, err := p.credential.Password()
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve credential for profile %q", p.Name)
	}

	sslMode := "prefer"
	if p.TLSEnforced() {
		sslMode = "verify-full"
	}

	port := p.Port
	if port == 0 {
		port = 5432
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, port, p.Username, password, p.Database, sslMode,
	), nil
}

// ReplicaDSN renders the connection string for one read replica, reusing the
// profile's credential and TLS policy.
func (p *ConnectionProfile) ReplicaDSN(replica config.ReplicaConfig) (string, error) {
	clone := *p
	clone.Host = replica.Host
	clone.Port = replica.Port

	return clone.DSN()
}
