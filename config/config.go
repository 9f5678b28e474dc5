// Package config loads the service configuration from YAML files with
// environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const defaultPath = "."

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port     int `json:"port" yaml:"port"`
		Timeouts struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	// Postgres carries the primary connection profile plus an optional
	// secondary the resilience layer may fail over to on authentication
	// failures. Exactly one profile is active at a time.
	Postgres struct {
		Primary   *ProfileConfig `json:"primary" yaml:"primary"`
		Secondary *ProfileConfig `json:"secondary" yaml:"secondary"`
	} `json:"postgres" yaml:"postgres"`

	Resilience  *ResilienceConfig  `json:"resilience" yaml:"resilience"`
	Auth        *AuthConfig        `json:"auth" yaml:"auth"`
	Idempotency *IdempotencyConfig `json:"idempotency" yaml:"idempotency"`
}

// ProfileConfig describes one named endpoint for the backing store.
type ProfileConfig struct {
	Name     string `json:"name" yaml:"name"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`

	// Password is the static credential. Ignored when DynamicCredentials is set.
	Password string `json:"password" yaml:"password"`

	// DynamicCredentials switches the profile to short-lived signed passwords
	// minted per connect instead of the static Password above.
	DynamicCredentials bool `json:"dynamicCredentials" yaml:"dynamicCredentials"`

	// SigningKey is the secret backing the dynamic-credential signer.
	SigningKey string `json:"signingKey" yaml:"signingKey"`

	// CredentialTTL bounds the validity of a minted dynamic credential.
	CredentialTTL time.Duration `json:"credentialTtl" yaml:"credentialTtl"`

	// ForceTLS overrides hostname-based TLS detection. TLS is always enforced
	// for managed-database hostnames regardless of this flag.
	ForceTLS bool `json:"forceTls" yaml:"forceTls"`

	// Replicas lists read-replica hosts resolved through dbresolver.
	Replicas []ReplicaConfig `json:"replicas" yaml:"replicas"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}

// ReplicaConfig describes a read replica belonging to a profile.
type ReplicaConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// ResilienceConfig tunes the retry/backoff policy of the data-access layer.
type ResilienceConfig struct {
	// MaxAttempts caps how many times a transient failure is retried.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	// BaseDelay is multiplied by the attempt number between retries.
	BaseDelay time.Duration `json:"baseDelay" yaml:"baseDelay"`
}

// AuthConfig defines authentication-related configuration.
type AuthConfig struct {
	BcryptCost      int           `json:"bcryptCost" yaml:"bcryptCost"`
	AccessTokenTTL  time.Duration `json:"accessTokenTtl" yaml:"accessTokenTtl"`
	RefreshTokenTTL time.Duration `json:"refreshTokenTtl" yaml:"refreshTokenTtl"`
}

// IdempotencyConfig tunes the request replay cache.
type IdempotencyConfig struct {
	TTL           time.Duration `json:"ttl" yaml:"ttl"`
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// LoadWithEnv loads .yaml files through koanf.
func LoadWithEnv[T any](currEnv string, configPath ...string) (*T, error) {
	cfg := new(T)
	koanfInstance := koanf.New(".")

	// Build list of paths to search for config file
	searchPaths := []string{defaultPath}
	if len(configPath) != 0 {
		pwd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "os.Getwd")
		}
		for _, path := range configPath {
			searchPaths = append(searchPaths, filepath.Join(pwd, path))
		}
	}

	// Try to find and load the config file
	var configFile string
	var found bool
	for _, path := range searchPaths {
		candidate := filepath.Join(path, currEnv+".yaml")
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
			found = true

			break
		}
	}

	if !found {
		return nil, errors.Errorf("config file %s.yaml not found in any search path", currEnv)
	}

	// Load YAML config file
	if err := koanfInstance.Load(file.Provider(configFile), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "read %s config failed", currEnv)
	}

	// Load environment variables: POSTGRES_PRIMARY_HOST -> postgres.primary.host
	if err := koanfInstance.Load(env.Provider(".", env.Opt{
		TransformFunc: func(k, v string) (string, any) {
			return strings.ReplaceAll(strings.ToLower(k), "_", "."), v
		},
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load env variables failed")
	}

	// Unmarshal into the config struct (case-insensitive to match env vars)
	if err := koanfInstance.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
			MatchName: func(mapKey, fieldName string) bool {
				// Case-insensitive matching for env var overrides
				return strings.EqualFold(mapKey, fieldName)
			},
		},
	}); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s config failed", currEnv)
	}

	return cfg, nil
}

// New loads the service configuration and applies defaults for every tunable
// the YAML leaves unset.
func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Env.ServiceName == "" {
		cfg.Env.ServiceName = "cardlens"
	}

	if cfg.Resilience == nil {
		cfg.Resilience = &ResilienceConfig{}
	}
	if cfg.Resilience.MaxAttempts <= 0 {
		cfg.Resilience.MaxAttempts = 10
	}
	if cfg.Resilience.BaseDelay <= 0 {
		cfg.Resilience.BaseDelay = 100 * time.Millisecond
	}

	if cfg.Auth == nil {
		cfg.Auth = &AuthConfig{}
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		cfg.Auth.AccessTokenTTL = time.Hour
	}
	if cfg.Auth.RefreshTokenTTL <= 0 {
		cfg.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}

	if cfg.Idempotency == nil {
		cfg.Idempotency = &IdempotencyConfig{}
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.SweepInterval <= 0 {
		cfg.Idempotency.SweepInterval = time.Minute
	}
}
