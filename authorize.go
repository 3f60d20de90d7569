package clerkx

import "strings"

// Authorize reports whether the claims carry at least one of the required
// capability tags. Matching is case-insensitive against the claims' role set.
// An empty required set demands nothing and authorizes any verified claims.
// It is a pure policy hook; resource-level authorization belongs to the
// calling application.
func Authorize(claims *Claims, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if claims == nil || len(claims.Roles) == 0 {
		return false
	}
	have := toSet(claims.Roles)
	for _, tag := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}
