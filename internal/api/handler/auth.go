package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/account"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/api/response"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// AccountService defines the account operations the auth handlers depend on.
type AccountService interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.Session, error)
	Login(ctx context.Context, email, password string) (*account.Session, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Me(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, in account.ProfileUpdate) (*models.User, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
	DeleteAccount(ctx context.Context, userID uuid.UUID, confirmation string) error
	Reactivate(ctx context.Context, email, password string) (*account.Session, error)
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

func sessionOf(s *account.Session) sessionResponse {
	return sessionResponse{Token: s.Token, ExpiresAt: s.ExpiresAt, User: s.User}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// NewRegisterHandler returns an http.HandlerFunc for POST /api/auth/register.
func NewRegisterHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := svc.Register(r.Context(), account.RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password})
		if err != nil {
			writeError(w, r, err, "Registration failed")
			return
		}
		response.Created(w, "User registered successfully", sessionOf(sess))
	}
}

// NewLoginHandler returns an http.HandlerFunc for POST /api/auth/login.
func NewLoginHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := svc.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err, "Login failed")
			return
		}
		response.Message(w, "Login successful", sessionOf(sess))
	}
}

func NewLogoutHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := mw.GetClaims(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required", nil)
			return
		}
		if err := svc.Logout(r.Context(), claims); err != nil {
			writeError(w, r, err, "Logout failed")
			return
		}
		response.Message(w, "Logged out successfully", nil)
	}
}

func NewMeHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		me, err := svc.Me(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, err, "Failed to load user")
			return
		}
		response.JSON(w, map[string]any{"user": me})
	}
}

// NewUpdateProfileHandler returns an http.HandlerFunc for PUT /api/auth/profile.
// Omitted fields keep their current value.
func NewUpdateProfileHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req struct {
			Name  *string `json:"name"`
			Email *string `json:"email"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		updated, err := svc.UpdateProfile(r.Context(), user.ID, account.ProfileUpdate{Name: req.Name, Email: req.Email})
		if err != nil {
			writeError(w, r, err, "Profile update failed")
			return
		}
		response.Message(w, "Profile updated successfully", map[string]any{"user": updated})
	}
}

func NewChangePasswordHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req struct {
			CurrentPassword string `json:"currentPassword"`
			NewPassword     string `json:"newPassword"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := svc.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword); err != nil {
			writeError(w, r, err, "Password change failed")
			return
		}
		response.Message(w, "Password changed successfully", nil)
	}
}

// NewDeleteAccountHandler returns an http.HandlerFunc for DELETE /api/auth/account.
// The body must carry {"confirmation":"DELETE"}.
func NewDeleteAccountHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req struct {
			Confirmation string `json:"confirmation"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := svc.DeleteAccount(r.Context(), user.ID, req.Confirmation); err != nil {
			writeError(w, r, err, "Account deletion failed")
			return
		}
		if claims, ok := mw.GetClaims(r); ok {
			// a later reactivation must not revive this token
			if err := svc.Logout(r.Context(), claims); err != nil {
				slog.Warn("token revocation after delete failed", "user_id", user.ID, "error", err)
			}
		}
		response.Message(w, "Account deleted successfully", nil)
	}
}

func NewReactivateHandler(svc AccountService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := svc.Reactivate(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err, "Account reactivation failed")
			return
		}
		response.Message(w, "Account reactivated successfully", sessionOf(sess))
	}
}
