package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/AnshRaj112/safemobile-backend/internal/devicetoken"
	"github.com/AnshRaj112/safemobile-backend/internal/models"
)

type ctxKey int

const (
	userKey ctxKey = iota
	deviceKey
)

// SessionResolver maps a session token to its user.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*models.User, error)
}

// TokenValidator checks a device heartbeat token.
type TokenValidator interface {
	Validate(token string) (*devicetoken.Claims, error)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Query().Get("token")
}

// RequireSession resolves the operator session and stores the user in the request context.
func RequireSession(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, `{"success":false,"message":"Authentication required"}`)
				return
			}
			user, err := sessions.Resolve(r.Context(), token)
			if err != nil || user == nil {
				writeJSONError(w, http.StatusUnauthorized, `{"success":false,"message":"Invalid or expired session"}`)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// RequireAdmin must run after RequireSession. Services re-check the stored role themselves.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok || !u.Role.IsAdmin() {
			writeJSONError(w, http.StatusForbidden, `{"success":false,"message":"Admin access required"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireDevice validates the device token and stores its claims in the request context.
func RequireDevice(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tokens.Validate(bearer(r))
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, `{"success":false,"message":"Invalid device token"}`)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey, claims)))
		})
	}
}

func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey).(*models.User)
	return u, ok
}

// ActorFromContext is the caller as the services see it.
func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return models.Actor{}, false
	}
	return models.Actor{ID: u.ID, Email: u.Email, Role: u.Role}, true
}

func DeviceFromContext(ctx context.Context) (*devicetoken.Claims, bool) {
	c, ok := ctx.Value(deviceKey).(*devicetoken.Claims)
	return c, ok
}
