package clerkx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultAPIBase = "https://api.clerk.com"

	// Session tokens are short-lived; re-mint well before the nominal minute.
	mintedTokenLifetime = 45 * time.Second
)

// TokenFactory allows callers to override how session tokens are minted.
type TokenFactory func(context.Context, ProviderParams) (oauth2.TokenSource, error)

// ProviderConfig defines how tokens should be minted by default.
type ProviderConfig struct {
	// APIBase is the provider's backend API root. Defaults to the hosted API.
	APIBase string

	// SecretKey authenticates against the backend API when the default
	// factory is used.
	SecretKey string

	// DefaultTemplate is used when a Token call does not select one.
	DefaultTemplate string

	HTTPTimeout  time.Duration
	TokenFactory TokenFactory
}

// ProviderParams select the session and token template to mint from.
type ProviderParams struct {
	SessionID string
	Template  string
}

// TokenOption customizes the behaviour for a single Token call.
type TokenOption func(*ProviderParams)

// WithSessionID selects the session the token is minted for.
func WithSessionID(id string) TokenOption {
	return func(p *ProviderParams) {
		p.SessionID = id
	}
}

// WithTemplate selects a named token template.
func WithTemplate(name string) TokenOption {
	return func(p *ProviderParams) {
		p.Template = name
	}
}

// Provider mints short-lived session tokens through the provider's backend
// API, caching one reusable token source per (session, template) pair.
type Provider struct {
	mu       sync.RWMutex
	factory  TokenFactory
	entries  map[providerKey]*tokenSourceEntry
	defaults ProviderParams
}

type providerKey struct {
	SessionID string
	Template  string
}

type tokenSourceEntry struct {
	source oauth2.TokenSource
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg ProviderConfig) *Provider {
	factory := cfg.TokenFactory
	if factory == nil {
		factory = sessionTokenFactory(cfg)
	}
	return &Provider{
		factory:  factory,
		entries:  make(map[providerKey]*tokenSourceEntry),
		defaults: ProviderParams{Template: cfg.DefaultTemplate},
	}
}

// Token returns a session token for the given session.
func (p *Provider) Token(ctx context.Context, opts ...TokenOption) (string, error) {
	params := p.defaults
	for _, opt := range opts {
		opt(&params)
	}
	if strings.TrimSpace(params.SessionID) == "" {
		return "", errors.New("session id is required")
	}

	key := providerKey{SessionID: params.SessionID, Template: params.Template}
	entry, err := p.getOrCreate(ctx, key, params)
	if err != nil {
		return "", err
	}

	tok, err := entry.source.Token()
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty token returned")
	}
	return tok.AccessToken, nil
}

func (p *Provider) getOrCreate(ctx context.Context, key providerKey, params ProviderParams) (*tokenSourceEntry, error) {
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()
	if ok {
		return entry, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok = p.entries[key]; ok {
		return entry, nil
	}

	ts, err := p.factory(persistentContext(ctx), params)
	if err != nil {
		return nil, err
	}
	entry = &tokenSourceEntry{source: oauth2.ReuseTokenSource(nil, ts)}
	p.entries[key] = entry
	return entry, nil
}

// sessionTokenFactory builds token sources against the backend API's
// session-token endpoint.
func sessionTokenFactory(cfg ProviderConfig) TokenFactory {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return func(ctx context.Context, params ProviderParams) (oauth2.TokenSource, error) {
		if cfg.SecretKey == "" {
			return nil, errors.New("secret key is required to mint session tokens")
		}
		return &sessionTokenSource{
			ctx:       ctx,
			endpoint:  sessionTokenEndpoint(base, params),
			secretKey: cfg.SecretKey,
			client:    &http.Client{Timeout: timeout},
		}, nil
	}
}

func sessionTokenEndpoint(base string, params ProviderParams) string {
	endpoint := fmt.Sprintf("%s/v1/sessions/%s/tokens", base, params.SessionID)
	if params.Template != "" {
		endpoint += "/" + params.Template
	}
	return endpoint
}

type sessionTokenSource struct {
	ctx       context.Context
	endpoint  string
	secretKey string
	client    *http.Client
}

type sessionTokenResponse struct {
	JWT string `json:"jwt"`
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("session token endpoint returned %s", resp.Status)
	}
	var body sessionTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if body.JWT == "" {
		return nil, errors.New("response did not include jwt")
	}
	return &oauth2.Token{
		AccessToken: body.JWT,
		Expiry:      time.Now().Add(mintedTokenLifetime),
	}, nil
}

// persistentContext detaches the cached token source from the first caller's
// deadline so a canceled request cannot poison later refreshes.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if _, ok := ctx.(*detachedContext); ok {
		return ctx
	}
	return &detachedContext{parent: ctx}
}

type detachedContext struct {
	parent context.Context
}

func (d *detachedContext) Deadline() (time.Time, bool) {
	return time.Time{}, false
}

func (d *detachedContext) Done() <-chan struct{} {
	return nil
}

func (d *detachedContext) Err() error {
	return nil
}

func (d *detachedContext) Value(key any) any {
	if d.parent == nil {
		return nil
	}
	return d.parent.Value(key)
}
