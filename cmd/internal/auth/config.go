package auth

import (
	"os"
	"time"
)

// Config defines the runtime configuration of access-token verification.
//
// Tokens are issued by an external identity service; Lyceum only needs the signing key to
// verify them. Issue exists for tests, dev seeding and tooling.
type Config struct {
	// Issuer is the value expected in the "iss" claim.
	Issuer string

	// AccessTokenTTL is the lifetime of tokens minted by Issue.
	AccessTokenTTL time.Duration

	// ClockSkew is the tolerance applied during verification.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key for PASETO v4.public.
	PasetoV4SecretKeyHex string

	// HandshakeTimeout bounds the whole authentication step of a connection attempt.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:           "lyceum",
		AccessTokenTTL:   15 * time.Minute,
		ClockSkew:        30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// Required (unless the caller substitutes a dev key):
//   - LYCEUM_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - LYCEUM_AUTH_ISSUER
//   - LYCEUM_AUTH_ACCESS_TTL
//   - LYCEUM_AUTH_CLOCK_SKEW
//   - LYCEUM_AUTH_HANDSHAKE_TIMEOUT
//
// Returns ErrConfig if a value is malformed.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("LYCEUM_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	for key, dst := range map[string]*time.Duration{
		"LYCEUM_AUTH_ACCESS_TTL":        &cfg.AccessTokenTTL,
		"LYCEUM_AUTH_CLOCK_SKEW":        &cfg.ClockSkew,
		"LYCEUM_AUTH_HANDSHAKE_TIMEOUT": &cfg.HandshakeTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		*dst = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("LYCEUM_PASETO_V4_SECRET_KEY_HEX")
	return cfg, nil
}

// Validate checks that cfg can build a token manager.
func (c Config) Validate() error {
	if c.Issuer == "" || c.PasetoV4SecretKeyHex == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.ClockSkew < 0 || c.HandshakeTimeout <= 0 {
		return ErrConfig
	}
	return nil
}
