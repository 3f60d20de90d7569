// Command clerk-validate verifies a session token against an issuer's JWKS
// and prints the resulting claims. When no token is supplied it mints a fresh
// one through the backend API using the configured secret key and session id.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	clerkx "github.com/bionicotaku/lingo-utils-clerkx"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: load .env: %v", err)
	}

	var (
		jwksURL   = flag.String("jwks-url", os.Getenv("CLERK_JWKS_URL"), "JWKS URL (env CLERK_JWKS_URL)")
		issuer    = flag.String("issuer", os.Getenv("CLERK_ISSUER"), "Expected issuer (env CLERK_ISSUER)")
		audience  = flag.String("audience", os.Getenv("CLERK_AUDIENCE"), "Expected audience, optional (env CLERK_AUDIENCE)")
		azp       = flag.String("authorized-parties", os.Getenv("CLERK_AUTHORIZED_PARTIES"), "Comma-separated azp allow-list (env CLERK_AUTHORIZED_PARTIES)")
		secretKey = flag.String("secret-key", os.Getenv("CLERK_SECRET_KEY"), "Backend API secret key for minting (env CLERK_SECRET_KEY)")
		sessionID = flag.String("session-id", os.Getenv("CLERK_SESSION_ID"), "Session id to mint a token for (env CLERK_SESSION_ID)")
		template  = flag.String("template", os.Getenv("CLERK_JWT_TEMPLATE"), "Token template name, optional (env CLERK_JWT_TEMPLATE)")
		token     = flag.String("token", os.Getenv("CLERK_JWT"), "Token to verify (env CLERK_JWT)")
		timeout   = flag.Duration("timeout", 5*time.Second, "HTTP timeout for JWKS and mint requests")
	)
	flag.Parse()

	if *issuer == "" {
		flag.Usage()
		log.Fatal("issuer is required")
	}
	if *jwksURL == "" {
		*jwksURL = strings.TrimRight(*issuer, "/") + "/.well-known/jwks.json"
	}

	if *token == "" {
		if *secretKey == "" || *sessionID == "" {
			flag.Usage()
			log.Fatal("secret-key and session-id required to mint a token")
		}
		provider := clerkx.NewProvider(clerkx.ProviderConfig{
			SecretKey:   *secretKey,
			HTTPTimeout: *timeout,
		})
		minted, err := provider.Token(context.Background(),
			clerkx.WithSessionID(*sessionID),
			clerkx.WithTemplate(*template))
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		*token = minted
		log.Println("minted fresh session token")
	}

	cfg := clerkx.Config{
		JWKSURL:     *jwksURL,
		Issuer:      *issuer,
		Audience:    *audience,
		HTTPTimeout: *timeout,
	}
	if *azp != "" {
		for _, party := range strings.Split(*azp, ",") {
			if party = strings.TrimSpace(party); party != "" {
				cfg.AuthorizedParties = append(cfg.AuthorizedParties, party)
			}
		}
	}

	verifier, err := clerkx.NewVerifier(cfg)
	if err != nil {
		log.Fatalf("create verifier: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := verifier.Warmup(ctx); err != nil {
		log.Printf("warmup warning: %v", err)
	}

	claims, err := verifier.Verify(context.Background(), *token)
	if err != nil {
		log.Fatalf("verification failed (%s): %v", clerkx.CodeOf(err), err)
	}

	printClaims(claims)
}

func printClaims(claims *clerkx.Claims) {
	fmt.Println("== Session Token Verified ==")
	fmt.Printf("subject      : %s\n", claims.Subject)
	fmt.Printf("issuer       : %s\n", claims.Issuer)
	fmt.Printf("audience     : %s\n", claims.Audience)
	if claims.Email != "" {
		fmt.Printf("email        : %s\n", claims.Email)
	}
	if claims.SessionID != "" {
		fmt.Printf("session_id   : %s\n", claims.SessionID)
	}
	if claims.AuthorizedParty != "" {
		fmt.Printf("azp          : %s\n", claims.AuthorizedParty)
	}
	if claims.OrgID != "" {
		fmt.Printf("org          : %s (%s, role %s)\n", claims.OrgID, claims.OrgSlug, claims.OrgRole)
	}
	if !claims.ExpiresAt.IsZero() {
		fmt.Printf("expires_at   : %s\n", claims.ExpiresAt.Format(time.RFC3339))
	}
	if len(claims.Roles) > 0 {
		fmt.Printf("roles        : %s\n", strings.Join(claims.Roles, ", "))
	}
	if len(claims.CustomClaims) > 0 {
		fmt.Println("custom_claims:")
		for k, v := range claims.CustomClaims {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
}
