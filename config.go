package clerkx

import (
	"errors"
	"net/url"
	"time"
)

const (
	defaultClockSkew       = 5 * time.Second
	defaultRefreshInterval = time.Hour
	defaultMinRefresh      = 5 * time.Minute
	defaultHTTPTimeout     = 5 * time.Second
)

var defaultAlgorithms = []string{"RS256"}

// NoClockSkew disables the skew allowance entirely: a token expired even one
// second ago is rejected. A zero ClockSkew means "unset" and falls back to
// the default allowance.
const NoClockSkew time.Duration = -1

// Config contains the verification policy for a single issuer.
type Config struct {
	// JWKSURL is the issuer's published key set endpoint. Required unless a
	// custom KeySetSource is supplied to NewVerifier.
	JWKSURL string

	// Issuer is the exact value the token's iss claim must carry.
	Issuer string

	// Audience, when set, must be contained in the token's aud claim.
	Audience string

	// AuthorizedParties, when set, restricts the azp claim to the listed
	// origins. Tokens without an azp claim pass this check.
	AuthorizedParties []string

	// AllowedAlgorithms is the signature algorithm allow-list. The header's
	// declared algorithm must appear here and is the algorithm actually used
	// for verification. Defaults to RS256.
	AllowedAlgorithms []string

	// ClockSkew is the allowance applied to exp, nbf, and iat checks.
	// Zero selects the default; use NoClockSkew for a strict zero allowance.
	ClockSkew       time.Duration
	RefreshInterval time.Duration
	MinRefresh      time.Duration
	HTTPTimeout     time.Duration
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	if len(c.AllowedAlgorithms) == 0 {
		c.AllowedAlgorithms = append([]string(nil), defaultAlgorithms...)
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = defaultClockSkew
	} else if c.ClockSkew < 0 {
		c.ClockSkew = 0
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

// validate ensures the configuration is usable. requireJWKSURL is false when
// the caller injects its own key set source.
func (c Config) validate(requireJWKSURL bool) error {
	switch {
	case c.Issuer == "":
		return errors.New("issuer is required")
	case requireJWKSURL && c.JWKSURL == "":
		return errors.New("jwks url is required")
	}
	if c.JWKSURL != "" {
		if _, err := url.ParseRequestURI(c.JWKSURL); err != nil {
			return errors.New("jwks url is not a valid URL")
		}
	}
	return nil
}
