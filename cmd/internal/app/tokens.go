package app

import (
	"errors"

	"lyceum/cmd/internal/auth"
)

// newTokenManager enforces the token-verification policy at startup.
//
// A missing LYCEUM_PASETO_V4_SECRET_KEY_HEX is fatal, except in dev-seed mode where an ephemeral
// key is generated so the seeded tokens verify. Ephemeral keys do not survive a restart.
func newTokenManager(cfg Config, log Logger) (auth.TokenManager, auth.Config, error) {
	acfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, auth.Config{}, err
	}

	if acfg.PasetoV4SecretKeyHex == "" {
		if !cfg.DevSeed {
			return nil, auth.Config{}, errors.New("security policy: LYCEUM_PASETO_V4_SECRET_KEY_HEX is required")
		}
		acfg.PasetoV4SecretKeyHex = auth.GenerateSecretKeyHex()
		log.Warn("auth.key.ephemeral", "reason", "dev_seed")
	}

	if err := acfg.Validate(); err != nil {
		return nil, auth.Config{}, err
	}
	tm, err := auth.NewPasetoV4PublicManager(acfg)
	if err != nil {
		return nil, auth.Config{}, err
	}
	log.Info("auth.tokens.ready", "issuer", acfg.Issuer, "public_key", tm.PublicKeyHex())
	return tm, acfg, nil
}
