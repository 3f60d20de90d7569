// Command clerk-server runs a small API protected by token verification:
// every /api route requires a verified bearer token, and the admin routes
// additionally require the admin role.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	clerkx "github.com/bionicotaku/lingo-utils-clerkx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		_, _ = os.Stderr.WriteString("warning: load .env: " + err.Error() + "\n")
	}

	var (
		listenAddr = flag.String("listen", ":8080", "Listen address")
		jwksURL    = flag.String("jwks-url", os.Getenv("CLERK_JWKS_URL"), "JWKS URL (env CLERK_JWKS_URL)")
		issuer     = flag.String("issuer", os.Getenv("CLERK_ISSUER"), "Expected issuer (env CLERK_ISSUER)")
		audience   = flag.String("audience", os.Getenv("CLERK_AUDIENCE"), "Expected audience, optional (env CLERK_AUDIENCE)")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if *issuer == "" {
		logger.Fatal("issuer is required")
	}
	if *jwksURL == "" {
		*jwksURL = strings.TrimRight(*issuer, "/") + "/.well-known/jwks.json"
	}

	verifier, err := clerkx.NewVerifier(clerkx.Config{
		JWKSURL:  *jwksURL,
		Issuer:   *issuer,
		Audience: *audience,
	})
	if err != nil {
		logger.Fatal("create verifier", zap.Error(err))
	}

	warmupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := verifier.Warmup(warmupCtx); err != nil {
		logger.Warn("jwks warmup failed, first request will retry", zap.Error(err))
	}

	auth := clerkx.NewMiddleware(verifier, logger)

	mux := chi.NewRouter()
	mux.Use(requestID, requestLogger(logger))

	mux.Get("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Get("/me", handleMe)
		r.With(auth.RequireRole("admin")).Get("/admin/keyset", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, verifier.KeySetStats())
		})
	})

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", *listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := clerkx.CallerClaimsFromContext(r.Context())
	if !ok || caller.Claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthenticated"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject":    caller.Claims.Subject,
		"email":      caller.Claims.Email,
		"session_id": caller.Claims.SessionID,
		"org_id":     caller.Claims.OrgID,
		"roles":      caller.Claims.Roles,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			id, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
