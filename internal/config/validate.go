package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingJWTSecret is returned when JWT_SECRET is unset outside of
	// DEV_MODE and the memory data store.
	ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")
	// ErrWeakJWTSecret is returned for secrets shorter than MinJWTSecretLen.
	ErrWeakJWTSecret = errors.New("JWT_SECRET is too short")
)

// EphemeralSecret reports whether tokens may be signed with a per-process
// random secret. Memory stores lose their data on restart, so tokens that
// die with the process lose nothing.
func (c Config) EphemeralSecret() bool {
	return c.Auth.JWTSecret == "" && (c.DevMode || c.DataStore == DataStoreMemory || c.DataStore == "")
}

// Validate checks settings the service cannot safely start without.
func (c Config) Validate() error {
	switch {
	case c.EphemeralSecret():
		return nil
	case c.Auth.JWTSecret == "":
		return fmt.Errorf("%w: required for the %s data store unless DEV_MODE is set", ErrMissingJWTSecret, c.DataStore)
	case len(c.Auth.JWTSecret) < MinJWTSecretLen:
		return fmt.Errorf("%w: need at least %d bytes, got %d", ErrWeakJWTSecret, MinJWTSecretLen, len(c.Auth.JWTSecret))
	}
	return nil
}
