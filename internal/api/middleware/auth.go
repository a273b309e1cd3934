// Package middleware provides HTTP middleware for the API.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/calm-otter-ops/siren/internal/api/auth"
)

// Context keys for storing request information.
type contextKey string

const actorKey contextKey = "actor"

// ActorFrom returns the authenticated actor from the request context,
// or the empty string if the request was not authenticated.
func ActorFrom(ctx context.Context) string {
	if v := ctx.Value(actorKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// jsonUnauthorized writes an unauthorized error response.
func jsonUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": "invalid or expired token",
		},
	})
}

// bearerToken extracts the bearer token from an Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// JWTAuth returns middleware that validates JWT tokens and stores the
// token subject as the acting operator.
func JWTAuth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				jsonUnauthorized(w)
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				log.Printf("JWT auth failed for %s: %v", r.RemoteAddr, err)
				jsonUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, claims.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProducerAuth returns middleware for the detection ingest endpoint.
// Producers are machines, so a shared static token is accepted in
// place of a JWT; a valid JWT works too.
func ProducerAuth(producerToken string, jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				jsonUnauthorized(w)
				return
			}

			if producerToken != "" &&
				subtle.ConstantTimeCompare([]byte(token), []byte(producerToken)) == 1 {
				ctx := context.WithValue(r.Context(), actorKey, "producer")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				log.Printf("producer auth failed for %s: %v", r.RemoteAddr, err)
				jsonUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), actorKey, claims.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
