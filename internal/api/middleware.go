package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"

	"cloudshare-backend/internal/models"
	"cloudshare-backend/internal/ratelimit"
)

// contextKey is a private type that avoids key collisions in the context
type contextKey string

const callerContextKey = contextKey("caller")

// callerFrom returns the authenticated caller, or nil for anonymous requests
func callerFrom(ctx context.Context) *models.Caller {
	caller, _ := ctx.Value(callerContextKey).(*models.Caller)
	return caller
}

// resolveCaller validates the bearer token and checks that its user still exists
func (h *Handler) resolveCaller(r *http.Request) (*models.Caller, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, "authorization token not provided"
	}

	// Expect "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil, "invalid token format"
	}

	caller, err := h.tokenService.ValidateToken(parts[1])
	if err != nil {
		return nil, "invalid token"
	}

	user, err := h.userStore.GetUserByID(r.Context(), caller.ID)
	if err != nil {
		return nil, "token user not found"
	}

	return &models.Caller{ID: user.ID, Email: user.Email}, ""
}

// AuthMiddleware rejects requests without a valid JWT
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, reason := h.resolveCaller(r)
		if caller == nil {
			h.respondWithError(w, http.StatusUnauthorized, reason)
			return
		}

		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth resolves the caller when a valid token is sent and otherwise
// lets the request through anonymously
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller, _ := h.resolveCaller(r); caller != nil {
			r = r.WithContext(context.WithValue(r.Context(), callerContextKey, caller))
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit limits requests per client IP. A limiter failure lets the request through.
func (h *Handler) RateLimit(limiter ratelimit.Limiter, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				log.Printf("Rate limiter unavailable: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				h.respondWithError(w, http.StatusTooManyRequests, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
