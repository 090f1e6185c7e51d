package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/linesense/internal/account"
	"github.com/kiranshivaraju/linesense/internal/api/response"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// Authenticator resolves a bearer token to a live account.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error)
}

// Auth provides bearer-token authentication middleware.
type Auth struct {
	authn Authenticator
}

// NewAuth creates a new Auth middleware.
func NewAuth(a Authenticator) *Auth {
	return &Auth{authn: a}
}

// Authenticate validates the Bearer token, checks that its account still
// exists and is not deleted, and sets the user and claims in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Access token required", nil)
			return
		}

		user, claims, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				response.Error(w, http.StatusUnauthorized,
					"TOKEN_EXPIRED", "Token has expired", nil)
			case errors.Is(err, auth.ErrTokenInvalid):
				response.Error(w, http.StatusForbidden,
					"INVALID_TOKEN", "Invalid or malformed token", nil)
			case errors.Is(err, account.ErrTokenRevoked):
				response.Error(w, http.StatusUnauthorized,
					"TOKEN_REVOKED", "Token has been revoked", nil)
			case errors.Is(err, account.ErrUserNotFound):
				response.Error(w, http.StatusUnauthorized,
					"USER_NOT_FOUND", "User account not found", nil)
			case errors.Is(err, account.ErrAccountDeleted):
				response.Error(w, http.StatusUnauthorized,
					"ACCOUNT_DELETED", "Account has been deleted. Please contact support.", nil)
			default:
				slog.Error("authentication failed", "error", err)
				response.Internal(w, "Authentication error", err, ExposeErrorDetail(r))
			}
			return
		}

		ctx := SetUser(r.Context(), user)
		ctx = SetClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
