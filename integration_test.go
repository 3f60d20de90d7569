package clerkx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func TestLiveJWKSIntegration(t *testing.T) {
	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("RUN_INTEGRATION_TESTS not set to true")
	}

	issuer := strings.TrimSpace(os.Getenv("CLERK_ISSUER"))
	if issuer == "" {
		t.Fatal("CLERK_ISSUER environment variable required")
	}
	jwksURL := strings.TrimSpace(os.Getenv("CLERK_JWKS_URL"))
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}

	resp, err := http.Get(jwksURL)
	if err != nil {
		t.Fatalf("fetch JWKS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("JWKS endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var jwks map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		t.Fatalf("decode JWKS: %v", err)
	}
	keys, ok := jwks["keys"].([]any)
	if !ok || len(keys) == 0 {
		t.Fatalf("JWKS has no keys: %v", jwks)
	}

	verifier, err := NewVerifier(Config{
		JWKSURL:     jwksURL,
		Issuer:      issuer,
		Audience:    os.Getenv("CLERK_AUDIENCE"),
		HTTPTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := verifier.Warmup(ctx); err != nil {
		t.Fatalf("Warmup: %v", err)
	}

	if token := strings.TrimSpace(os.Getenv("CLERK_JWT")); token != "" {
		claims, err := verifier.Verify(ctx, token)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if claims.Subject == "" {
			t.Fatal("claims.Subject empty")
		}
	}
}
