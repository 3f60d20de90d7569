package clerkx

import (
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Claims represents the normalized claims of a verified session token.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	JWTID     string

	Email           string
	SessionID       string
	AuthorizedParty string
	OrgID           string
	OrgRole         string
	OrgSlug         string

	// Roles aggregates the role-bearing claims (role, roles, org_role,
	// permissions) into one lower-cased capability set for Authorize.
	Roles []string

	CustomClaims map[string]any
}

func extractClaims(token jwt.Token) *Claims {
	private := token.PrivateClaims()
	var audience []string
	if audList := token.Audience(); len(audList) > 0 {
		audience = append([]string(nil), audList...)
	}
	claims := &Claims{
		Subject:   token.Subject(),
		Issuer:    token.Issuer(),
		Audience:  audience,
		ExpiresAt: token.Expiration(),
		NotBefore: token.NotBefore(),
		IssuedAt:  token.IssuedAt(),
		JWTID:     token.JwtID(),
	}

	if len(private) > 0 {
		claims.CustomClaims = make(map[string]any, len(private))
		for k, v := range private {
			claims.CustomClaims[k] = v
		}
	}

	if s := stringClaim(private, "email"); s != "" {
		claims.Email = strings.ToLower(s)
	}
	claims.SessionID = stringClaim(private, "sid")
	claims.AuthorizedParty = stringClaim(private, "azp")
	claims.OrgID = stringClaim(private, "org_id")
	claims.OrgRole = stringClaim(private, "org_role")
	claims.OrgSlug = stringClaim(private, "org_slug")
	claims.Roles = collectRoles(private)

	return claims
}

func stringClaim(private map[string]any, name string) string {
	if v, ok := private[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// collectRoles flattens the role-bearing claims into one normalized set.
func collectRoles(private map[string]any) []string {
	seen := make(map[string]struct{})
	var roles []string
	add := func(values []string) {
		for _, v := range values {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			roles = append(roles, v)
		}
	}
	for _, name := range []string{"role", "roles", "org_role", "permissions"} {
		if v, ok := private[name]; ok {
			add(normalizeStrings(v))
		}
	}
	return roles
}

func normalizeStrings(value any) []string {
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
		return nil
	default:
		return nil
	}
}
