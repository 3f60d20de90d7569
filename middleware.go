package clerkx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// sessionCookieName is where the hosted provider's frontend SDK stores the
// session token when no Authorization header is used.
const sessionCookieName = "__session"

// Middleware wires the verifier into an http.Handler chain.
type Middleware struct {
	verifier *Verifier
	logger   *zap.Logger
}

// NewMiddleware builds middleware around a verifier. A nil logger disables logging.
func NewMiddleware(verifier *Verifier, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{verifier: verifier, logger: logger}
}

// RequireAuth verifies the request's bearer token and binds the resulting
// claims into the request context. Rejections are written as JSON with the
// rejection code: 401 for token failures, 403 for authorized-party failures,
// 503 when the key set cannot be fetched.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing bearer token", zap.String("path", r.URL.Path))
			writeRejection(w, http.StatusUnauthorized, ErrCodeMalformedToken)
			return
		}

		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			code := CodeOf(err)
			m.logger.Warn("token rejected",
				zap.String("path", r.URL.Path),
				zap.String("code", string(code)),
				zap.Error(err))
			writeRejection(w, rejectionStatus(err), code)
			return
		}

		m.logger.Debug("token verified",
			zap.String("sub", claims.Subject),
			zap.String("sid", claims.SessionID))

		ctx := BindCallerClaims(r.Context(), CallerClaims{Claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole layers a capability check on top of RequireAuth. It must run
// after RequireAuth in the chain.
func (m *Middleware) RequireRole(required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerClaimsFromContext(r.Context())
			if !ok || caller.Claims == nil {
				m.logger.Error("claims not found in context", zap.String("path", r.URL.Path))
				writeRejection(w, http.StatusUnauthorized, ErrCodeMalformedToken)
				return
			}
			if !caller.DevBypass && !Authorize(caller.Claims, required...) {
				m.logger.Warn("insufficient role",
					zap.String("sub", caller.Claims.Subject),
					zap.Strings("required", required),
					zap.Strings("roles", caller.Claims.Roles))
				writeRejection(w, http.StatusForbidden, ErrCodeInsufficientRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rejectionStatus maps a verification rejection to an HTTP status code.
func rejectionStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusUnauthorized
	}
	switch e.Code {
	case ErrCodeKeySetUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeAuthorizedPartyMismatch, ErrCodeInsufficientRole:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func writeRejection(w http.ResponseWriter, status int, code ErrorCode) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(code)})
}

// extractToken pulls the token from the Authorization bearer header, falling
// back to the provider's session cookie. Non-bearer Authorization schemes
// (e.g. Basic injected by a proxy) are ignored rather than blocking the
// cookie fallback.
func extractToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
