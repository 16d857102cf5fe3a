package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sentinel validation errors, checked with errors.Is().
var (
	// ErrInvalidPort indicates the listen port is out of range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidRateBurst indicates a negative rate limiter burst.
	ErrInvalidRateBurst = errors.New("invalid rate burst")

	// ErrInvalidDatabaseURL indicates a malformed storage connection string.
	ErrInvalidDatabaseURL = errors.New("invalid database URL")

	// ErrIncompleteDeveloperAccount indicates only one of the developer
	// username/password pair is set.
	ErrIncompleteDeveloperAccount = errors.New("incomplete developer account configuration")
)

// Validate checks the configuration for serving.
//
// Note that an empty GeminiAPIKeys list is not an error here: the service
// starts and serves auth traffic, and /api/chat reports credential
// exhaustion. Likewise an empty DatabaseURL just selects the memory-only
// fallback.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPort, c.Port)
	}
	if c.RateBurst < 0 {
		return fmt.Errorf("%w: %d (must be >= 0)", ErrInvalidRateBurst, c.RateBurst)
	}
	if c.DatabaseURL != "" {
		u, err := url.Parse(c.DatabaseURL)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDatabaseURL, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
		default:
			return fmt.Errorf("%w: scheme %q (expected postgres or postgresql)", ErrInvalidDatabaseURL, u.Scheme)
		}
	}
	if (c.DeveloperUsername == "") != (c.DeveloperPassword == "") {
		return ErrIncompleteDeveloperAccount
	}
	return nil
}
