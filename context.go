package clerkx

import "context"

type callerClaimsKey struct{}

// CallerClaims represents the caller identity stored during verification.
type CallerClaims struct {
	Claims    *Claims
	DevBypass bool
}

// BindCallerClaims stores caller claims inside the context for downstream consumers.
func BindCallerClaims(ctx context.Context, claims CallerClaims) context.Context {
	return context.WithValue(ctx, callerClaimsKey{}, claims)
}

// CallerClaimsFromContext retrieves caller claims previously stored in the context.
func CallerClaimsFromContext(ctx context.Context) (CallerClaims, bool) {
	if ctx == nil {
		return CallerClaims{}, false
	}
	value := ctx.Value(callerClaimsKey{})
	if value == nil {
		return CallerClaims{}, false
	}
	claims, ok := value.(CallerClaims)
	return claims, ok
}

// SubjectFromContext is a convenience accessor for the verified subject.
func SubjectFromContext(ctx context.Context) string {
	caller, ok := CallerClaimsFromContext(ctx)
	if !ok || caller.Claims == nil {
		return ""
	}
	return caller.Claims.Subject
}
