package middleware

import (
	"context"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// AuthName is the name routes use to require a bearer token.
const AuthName = "authMiddleware"

// Principal is the authenticated caller.
type Principal struct {
	ID     string   `json:"id"`
	Scopes []string `json:"scopes,omitempty"`
}

// Verifier resolves a bearer token to its principal.
type Verifier func(token string) (Principal, error)

// Auth rejects requests without a valid bearer token and stores the caller
// under context key "user".
func Auth(verify Verifier) Middleware {
	return func(_ context.Context, rc *schema.RequestContext) error {
		header := rc.Header("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return apperr.New(codes.Unauthenticated, "missing bearer token")
		}

		p, err := verify(strings.TrimSpace(token))
		if err != nil {
			return apperr.New(codes.Unauthenticated, "invalid token")
		}

		rc.SetContext("user", map[string]any{
			"id":     p.ID,
			"scopes": p.Scopes,
		})
		return nil
	}
}

// UserID returns the authenticated caller stored by Auth, if any.
func UserID(rc *schema.RequestContext) (string, bool) {
	user, ok := rc.Context["user"].(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := user["id"].(string)
	return id, ok && id != ""
}
