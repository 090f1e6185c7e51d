package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

type contextKey string

const (
	userKey        contextKey = "user"
	claimsKey      contextKey = "claims"
	errorDetailKey contextKey = "error_detail"
	userSlotKey    contextKey = "user_slot"
)

// userSlot lets an outer middleware learn who an inner one authenticated.
type userSlot struct {
	id string
}

func withUserSlot(ctx context.Context, s *userSlot) context.Context {
	return context.WithValue(ctx, userSlotKey, s)
}

func SetUser(ctx context.Context, u *models.User) context.Context {
	if s, ok := ctx.Value(userSlotKey).(*userSlot); ok && u != nil {
		s.id = u.ID.String()
	}
	return context.WithValue(ctx, userKey, u)
}

// GetUser returns the user resolved by Authenticate.
func GetUser(r *http.Request) (*models.User, bool) {
	u, ok := r.Context().Value(userKey).(*models.User)
	return u, ok && u != nil
}

func SetClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func GetClaims(r *http.Request) (*auth.Claims, bool) {
	c, ok := r.Context().Value(claimsKey).(*auth.Claims)
	return c, ok && c != nil
}

// ErrorDetail marks whether 500 responses may carry the underlying error.
func ErrorDetail(expose bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), errorDetailKey, expose)))
		})
	}
}

func ExposeErrorDetail(r *http.Request) bool {
	expose, _ := r.Context().Value(errorDetailKey).(bool)
	return expose
}
