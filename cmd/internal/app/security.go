package app

import (
	"errors"
	"fmt"
)

const minStrongJWTSecretBytes = 32

// ValidateSecurityConfig enforces the relay's security policy at startup.
// Fail-fast: silently accepting a weak or missing verification key in
// production would let anyone mint valid connection tokens.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("security policy: BONDY_JWT_SECRET is required")
	}

	if !cfg.RequireStrongJWTSecret {
		return nil
	}

	// Bytes, not runes: the key is used as raw HMAC key material.
	if len(cfg.JWTSecret) < minStrongJWTSecretBytes {
		return fmt.Errorf("security policy: BONDY_REQUIRE_STRONG_JWT_SECRET=true but BONDY_JWT_SECRET is shorter than %d bytes", minStrongJWTSecretBytes)
	}
	return nil
}
