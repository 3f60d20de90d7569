package clerkx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "api"
)

func newSigningKey(t *testing.T, kid string) (*rsa.PrivateKey, jwk.Key) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	return key, pub
}

func keySetOf(t *testing.T, keys ...jwk.Key) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for _, key := range keys {
		if err := set.AddKey(key); err != nil {
			t.Fatalf("add key: %v", err)
		}
	}
	return set
}

func newJWKSServer(t *testing.T, set jwk.Set) string {
	t.Helper()
	payload, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server.URL
}

func signToken(t *testing.T, builder *jwt.Builder, key *rsa.PrivateKey, kid string, alg jwa.SignatureAlgorithm) string {
	t.Helper()
	token, err := builder.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	jwkPriv, err := jwk.FromRaw(key)
	if err != nil {
		t.Fatalf("private key jwk: %v", err)
	}
	if err := jwkPriv.Set(jwk.AlgorithmKey, alg); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	if kid != "" {
		if err := jwkPriv.Set(jwk.KeyIDKey, kid); err != nil {
			t.Fatalf("set kid: %v", err)
		}
	}
	signed, err := jwt.Sign(token, jwt.WithKey(alg, jwkPriv))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func baseBuilder(now time.Time) *jwt.Builder {
	return jwt.NewBuilder().
		Issuer(testIssuer).
		Subject("user_2x7f9q").
		Audience([]string{testAudience}).
		IssuedAt(now).
		NotBefore(now.Add(-time.Minute)).
		Expiration(now.Add(time.Hour)).
		JwtID("token-1")
}

func expectCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if e.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, e.Code, err)
	}
}

func tamperSignature(t *testing.T, token string) string {
	t.Helper()
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)
	return strings.Join(parts, ".")
}

func TestVerifier_EndToEnd(t *testing.T) {
	key, pub := newSigningKey(t, "k1")
	jwksURL := newJWKSServer(t, keySetOf(t, pub))

	cfg := Config{
		JWKSURL:     jwksURL,
		Issuer:      testIssuer,
		Audience:    testAudience,
		ClockSkew:   10 * time.Second,
		HTTPTimeout: time.Second,
	}
	verifier, err := NewVerifier(cfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	ctx := context.Background()
	if err := verifier.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if stats := verifier.KeySetStats(); stats.KeyCount != 1 {
		t.Fatalf("unexpected key set stats: %+v", stats)
	}

	now := time.Now().UTC()
	token := signToken(t, baseBuilder(now).
		Claim("email", "User@Example.com").
		Claim("sid", "sess_29sFg").
		Claim("azp", "https://app.example.com").
		Claim("org_id", "org_28xm4").
		Claim("org_role", "admin").
		Claim("org_slug", "acme"),
		key, "k1", jwa.RS256)

	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user_2x7f9q" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "user@example.com" {
		t.Fatalf("unexpected email: %s", claims.Email)
	}
	if claims.SessionID != "sess_29sFg" {
		t.Fatalf("unexpected session id: %s", claims.SessionID)
	}
	if claims.OrgID != "org_28xm4" || claims.OrgRole != "admin" || claims.OrgSlug != "acme" {
		t.Fatalf("unexpected org claims: %+v", claims)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != testAudience {
		t.Fatalf("unexpected audience: %v", claims.Audience)
	}
	if !Authorize(claims, "admin") {
		t.Fatal("expected org_role admin to authorize")
	}

	// Same token against a verifier expecting a different audience.
	otherCfg := cfg
	otherCfg.Audience = "other"
	other, err := NewVerifier(otherCfg)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	_, err = other.Verify(ctx, token)
	expectCode(t, err, ErrCodeAudienceMismatch)
}

func newFakeVerifier(t *testing.T, cfg Config, source KeySetSource, clock *fakeClock) *Verifier {
	t.Helper()
	opts := []VerifierOption{WithKeySetSource(source)}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	verifier, err := NewVerifier(cfg, opts...)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier
}

func TestVerifier_BadSignature(t *testing.T) {
	key, pub := newSigningKey(t, "k1")
	source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
	verifier := newFakeVerifier(t, Config{Issuer: testIssuer, Audience: testAudience}, source, nil)

	token := signToken(t, baseBuilder(time.Now()), key, "k1", jwa.RS256)
	_, err := verifier.Verify(context.Background(), tamperSignature(t, token))
	expectCode(t, err, ErrCodeBadSignature)
}

func TestVerifier_ExpiryAndSkew(t *testing.T) {
	key, pub := newSigningKey(t, "k1")

	t.Run("expired beyond allowance", func(t *testing.T) {
		source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
		verifier := newFakeVerifier(t, Config{Issuer: testIssuer, ClockSkew: 5 * time.Second}, source, nil)

		now := time.Now()
		token := signToken(t, jwt.NewBuilder().
			Issuer(testIssuer).
			Subject("user-1").
			IssuedAt(now.Add(-time.Hour)).
			Expiration(now.Add(-time.Minute)),
			key, "k1", jwa.RS256)
		_, err := verifier.Verify(context.Background(), token)
		expectCode(t, err, ErrCodeExpired)
	})

	t.Run("expired one second with no allowance", func(t *testing.T) {
		source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
		verifier := newFakeVerifier(t, Config{Issuer: testIssuer, ClockSkew: NoClockSkew}, source, nil)

		now := time.Now()
		token := signToken(t, jwt.NewBuilder().
			Issuer(testIssuer).
			Subject("user-1").
			IssuedAt(now.Add(-time.Hour)).
			Expiration(now.Add(-time.Second)),
			key, "k1", jwa.RS256)
		_, err := verifier.Verify(context.Background(), token)
		expectCode(t, err, ErrCodeExpired)
	})

	t.Run("expired within allowance", func(t *testing.T) {
		source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
		verifier := newFakeVerifier(t, Config{Issuer: testIssuer, ClockSkew: 5 * time.Second}, source, nil)

		now := time.Now()
		token := signToken(t, jwt.NewBuilder().
			Issuer(testIssuer).
			Subject("user-1").
			IssuedAt(now.Add(-time.Hour)).
			Expiration(now.Add(-time.Second)),
			key, "k1", jwa.RS256)
		if _, err := verifier.Verify(context.Background(), token); err != nil {
			t.Fatalf("expected skew to absorb 1s expiry: %v", err)
		}
	})

	t.Run("not yet valid", func(t *testing.T) {
		source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
		verifier := newFakeVerifier(t, Config{Issuer: testIssuer}, source, nil)

		now := time.Now()
		token := signToken(t, jwt.NewBuilder().
			Issuer(testIssuer).
			Subject("user-1").
			IssuedAt(now).
			NotBefore(now.Add(time.Hour)).
			Expiration(now.Add(2*time.Hour)),
			key, "k1", jwa.RS256)
		_, err := verifier.Verify(context.Background(), token)
		expectCode(t, err, ErrCodeNotYetValid)
	})
}

func TestVerifier_IssuerMismatch(t *testing.T) {
	key, pub := newSigningKey(t, "k1")
	source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
	verifier := newFakeVerifier(t, Config{Issuer: testIssuer}, source, nil)

	token := signToken(t, jwt.NewBuilder().
		Issuer("https://other-issuer.test").
		Subject("user-1").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)),
		key, "k1", jwa.RS256)
	_, err := verifier.Verify(context.Background(), token)
	expectCode(t, err, ErrCodeIssuerMismatch)
}

func TestVerifier_AlgorithmNotAllowed(t *testing.T) {
	key, pub := newSigningKey(t, "k1")
	source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
	verifier := newFakeVerifier(t, Config{Issuer: testIssuer}, source, nil)

	// Same RSA key, but a header algorithm outside the allow-list.
	token := signToken(t, baseBuilder(time.Now()), key, "k1", jwa.RS512)
	_, err := verifier.Verify(context.Background(), token)
	expectCode(t, err, ErrCodeAlgorithmNotAllowed)

	if got := source.fetchCount(); got != 0 {
		t.Fatalf("allow-list must reject before any key fetch, got %d fetches", got)
	}
}

func TestVerifier_UnknownKey(t *testing.T) {
	_, pub := newSigningKey(t, "k1")
	otherKey, _ := newSigningKey(t, "k2")
	source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
	verifier := newFakeVerifier(t, Config{Issuer: testIssuer}, source, nil)

	token := signToken(t, baseBuilder(time.Now()), otherKey, "k2", jwa.RS256)
	_, err := verifier.Verify(context.Background(), token)
	expectCode(t, err, ErrCodeUnknownKey)
	if got := source.fetchCount(); got != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", got)
	}
}

func TestVerifier_MalformedToken(t *testing.T) {
	_, pub := newSigningKey(t, "k1")
	source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
	verifier := newFakeVerifier(t, Config{Issuer: testIssuer}, source, nil)

	for _, token := range []string{"", "   ", "not-a-token", "a.b"} {
		_, err := verifier.Verify(context.Background(), token)
		expectCode(t, err, ErrCodeMalformedToken)
	}
}

func TestVerifier_AuthorizedParty(t *testing.T) {
	key, pub := newSigningKey(t, "k1")
	source := &fakeKeySetSource{sets: []jwk.Set{keySetOf(t, pub)}}
	verifier := newFakeVerifier(t, Config{
		Issuer:            testIssuer,
		AuthorizedParties: []string{"https://app.example.com"},
	}, source, nil)

	ctx := context.Background()

	token := signToken(t, baseBuilder(time.Now()).Claim("azp", "https://evil.example.com"), key, "k1", jwa.RS256)
	_, err := verifier.Verify(ctx, token)
	expectCode(t, err, ErrCodeAuthorizedPartyMismatch)

	token = signToken(t, baseBuilder(time.Now()).Claim("azp", "https://app.example.com"), key, "k1", jwa.RS256)
	if _, err := verifier.Verify(ctx, token); err != nil {
		t.Fatalf("Verify with allowed azp: %v", err)
	}

	// Tokens without azp pass the check.
	token = signToken(t, baseBuilder(time.Now()), key, "k1", jwa.RS256)
	if _, err := verifier.Verify(ctx, token); err != nil {
		t.Fatalf("Verify without azp: %v", err)
	}
}

func TestVerifier_KeySetUnavailable(t *testing.T) {
	key, _ := newSigningKey(t, "k1")
	source := &fakeKeySetSource{}
	source.setErr(errors.New("connection refused"))
	verifier := newFakeVerifier(t, Config{Issuer: testIssuer}, source, nil)

	token := signToken(t, baseBuilder(time.Now()), key, "k1", jwa.RS256)
	_, err := verifier.Verify(context.Background(), token)
	expectCode(t, err, ErrCodeKeySetUnavailable)
}

func TestNewVerifier_ConfigValidation(t *testing.T) {
	if _, err := NewVerifier(Config{JWKSURL: "https://issuer.test/jwks"}); err == nil {
		t.Fatal("expected error for missing issuer")
	}
	if _, err := NewVerifier(Config{Issuer: testIssuer}); err == nil {
		t.Fatal("expected error for missing jwks url")
	}
	// A custom source lifts the JWKS URL requirement.
	if _, err := NewVerifier(Config{Issuer: testIssuer}, WithKeySetSource(&fakeKeySetSource{})); err != nil {
		t.Fatalf("NewVerifier with source: %v", err)
	}
}
