package clerkx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Verifier validates bearer tokens against a remote, rotating key set.
// All methods are safe for concurrent use.
type Verifier struct {
	cfg               Config
	cache             *KeySetCache
	now               func() time.Time
	allowedAlgs       map[jwa.SignatureAlgorithm]struct{}
	authorizedParties map[string]struct{}
}

// VerifierOption customizes construction, mainly so tests can substitute a
// fake key set source and clock.
type VerifierOption func(*verifierOptions)

type verifierOptions struct {
	source KeySetSource
	clock  func() time.Time
}

// WithKeySetSource replaces the default HTTPS JWKS fetcher.
func WithKeySetSource(source KeySetSource) VerifierOption {
	return func(o *verifierOptions) {
		o.source = source
	}
}

// WithClock replaces the time source used for claim validation and cache
// refresh decisions.
func WithClock(now func() time.Time) VerifierOption {
	return func(o *verifierOptions) {
		o.clock = now
	}
}

// NewVerifier builds a verifier from the given configuration.
func NewVerifier(cfg Config, opts ...VerifierOption) (*Verifier, error) {
	var options verifierOptions
	for _, opt := range opts {
		opt(&options)
	}

	cfg.normalize()
	if err := cfg.validate(options.source == nil); err != nil {
		return nil, err
	}

	now := options.clock
	if now == nil {
		now = time.Now
	}

	source := options.source
	if source == nil {
		source = &HTTPKeySetSource{
			URL: cfg.JWKSURL,
			Client: &http.Client{
				Timeout: cfg.HTTPTimeout,
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
				},
			},
		}
	}

	cache, err := NewKeySetCache(KeySetCacheConfig{
		Source:          source,
		RefreshInterval: cfg.RefreshInterval,
		MinRefresh:      cfg.MinRefresh,
		Clock:           now,
	})
	if err != nil {
		return nil, err
	}

	allowed := make(map[jwa.SignatureAlgorithm]struct{}, len(cfg.AllowedAlgorithms))
	for _, alg := range cfg.AllowedAlgorithms {
		allowed[jwa.SignatureAlgorithm(strings.ToUpper(strings.TrimSpace(alg)))] = struct{}{}
	}

	return &Verifier{
		cfg:               cfg,
		cache:             cache,
		now:               now,
		allowedAlgs:       allowed,
		authorizedParties: toSet(cfg.AuthorizedParties),
	}, nil
}

// Warmup fetches the key set ahead of the first request.
func (v *Verifier) Warmup(ctx context.Context) error {
	refreshCtx := ctx
	if v.cfg.HTTPTimeout > 0 {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(ctx, v.cfg.HTTPTimeout)
		defer cancel()
	}
	return v.cache.Refresh(refreshCtx)
}

// KeySetStats exposes the cache contents for diagnostics endpoints.
func (v *Verifier) KeySetStats() KeySetStats {
	return v.cache.Stats()
}

// Verify validates the token's signature and claims and returns the
// normalized claims, or a typed *Error rejection.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrCodeMalformedToken, errors.New("token is empty"))
	}

	// Header only: no payload claim is trusted before the signature checks out.
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, newError(ErrCodeMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, newError(ErrCodeMalformedToken, fmt.Errorf("expected 1 signature, got %d", len(sigs)))
	}
	headers := sigs[0].ProtectedHeaders()

	alg := headers.Algorithm()
	if _, ok := v.allowedAlgs[alg]; !ok {
		return nil, newError(ErrCodeAlgorithmNotAllowed, fmt.Errorf("algorithm %q not in allow-list", alg))
	}

	key, err := v.cache.Lookup(ctx, headers.KeyID())
	if err != nil {
		return nil, err
	}

	// Verify with the allow-listed header algorithm, never one inferred from
	// the key, so an attacker-controlled header cannot downgrade the check.
	if _, err := jws.Verify([]byte(token), jws.WithKey(alg, key)); err != nil {
		return nil, newError(ErrCodeBadSignature, err)
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, newError(ErrCodeMalformedToken, err)
	}
	if err := v.validateClaims(parsed); err != nil {
		return nil, err
	}

	claims := extractClaims(parsed)
	if err := v.checkAuthorizedParty(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) validateClaims(parsed jwt.Token) error {
	validateOpts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
		jwt.WithIssuer(v.cfg.Issuer),
	}
	if v.cfg.Audience != "" {
		validateOpts = append(validateOpts, jwt.WithAudience(v.cfg.Audience))
	}
	if err := jwt.Validate(parsed, validateOpts...); err != nil {
		switch {
		case errors.Is(err, jwt.ErrInvalidIssuer()):
			return newError(ErrCodeIssuerMismatch, err)
		case errors.Is(err, jwt.ErrInvalidAudience()):
			return newError(ErrCodeAudienceMismatch, err)
		case errors.Is(err, jwt.ErrTokenExpired()):
			return newError(ErrCodeExpired, err)
		case errors.Is(err, jwt.ErrTokenNotYetValid()):
			return newError(ErrCodeNotYetValid, err)
		case errors.Is(err, jwt.ErrInvalidIssuedAt()):
			return newError(ErrCodeNotYetValid, err)
		default:
			return newError(ErrCodeMalformedToken, err)
		}
	}
	return nil
}

func (v *Verifier) checkAuthorizedParty(claims *Claims) error {
	if len(v.authorizedParties) == 0 || claims.AuthorizedParty == "" {
		return nil
	}
	if _, ok := v.authorizedParties[strings.ToLower(claims.AuthorizedParty)]; !ok {
		return newError(ErrCodeAuthorizedPartyMismatch,
			fmt.Errorf("authorized party %q not allowed", claims.AuthorizedParty))
	}
	return nil
}
