package clerkx

// DevBypassClaims holds attributes used when issuing synthetic claims in dev mode.
type DevBypassClaims struct {
	Subject string
	Email   string
	OrgID   string
	Roles   []string
}

// ToCallerClaims converts the dev bypass configuration into caller claims.
func (d DevBypassClaims) ToCallerClaims() CallerClaims {
	claims := &Claims{
		Subject: d.Subject,
		Issuer:  "clerkx.dev",
		Email:   d.Email,
		OrgID:   d.OrgID,
		Roles:   append([]string(nil), d.Roles...),
	}
	return CallerClaims{
		Claims:    claims,
		DevBypass: true,
	}
}

// DefaultDevBypassClaims returns a baseline identity suitable for local development.
func DefaultDevBypassClaims() DevBypassClaims {
	return DevBypassClaims{
		Subject: "dev-bypass",
		Email:   "dev@localhost",
		Roles:   []string{"admin"},
	}
}
