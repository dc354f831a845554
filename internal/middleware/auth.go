package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"

	// APIKeyHeader carries the shared key of internal callers
	APIKeyHeader = "X-API-Key"
	// TokenCookie is the cookie browsers send the session token in
	TokenCookie = "jwt"
)

// TokenValidator resolves a bearer token to the user id it was issued for
type TokenValidator interface {
	ValidateAccessToken(token string) (string, error)
}

// AuthMiddleware guards routes with an API key or a user token
type AuthMiddleware struct {
	apiKey string
	tokens TokenValidator
	log    zerolog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(apiKey string, tokens TokenValidator, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		apiKey: apiKey,
		tokens: tokens,
		log:    log,
	}
}

// ValidAPIKey reports whether key matches the configured API key
func (m *AuthMiddleware) ValidAPIKey(key string) bool {
	if m.apiKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) == 1
}

// APIKey rejects requests without the shared X-API-Key
func (m *AuthMiddleware) APIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.ValidAPIKey(r.Header.Get(APIKeyHeader)) {
			m.log.Warn().Str("path", r.URL.Path).Str("ip", ClientIP(r)).Msg("rejected request with invalid api key")
			writeError(w, http.StatusForbidden, "unauthorized access")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Auth validates the user token from the Authorization header or the jwt cookie
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed authorization")
			return
		}

		userID, err := m.tokens.ValidateAccessToken(token)
		if err != nil {
			m.log.Debug().Err(err).Msg("token validation failed")
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		return parts[1], true
	}

	if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// GetUserID extracts user ID from request context
func GetUserID(r *http.Request) string {
	userID, ok := r.Context().Value(UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
