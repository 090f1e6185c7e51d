package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/account"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/api/response"
	"github.com/kiranshivaraju/linesense/internal/apperr"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// writeError renders a service error. Anything unrecognised becomes a 500
// carrying fallback as its message.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *apperr.ValidationError
	var nerr *apperr.NotFoundError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Message, verr.Details)
	case errors.As(err, &nerr):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", nerr.Message, nil)
	case errors.Is(err, account.ErrEmailTaken):
		response.Error(w, http.StatusBadRequest, "EMAIL_TAKEN", "Email already exists", nil)
	case errors.Is(err, account.ErrEmailInUse):
		response.Error(w, http.StatusBadRequest, "EMAIL_TAKEN", "Email already in use by another account", nil)
	case errors.Is(err, account.ErrEmailHeldByDeleted):
		response.Error(w, http.StatusBadRequest, "EMAIL_HELD_BY_DELETED",
			"An account with this email was deleted. Reactivate it to continue.", nil)
	case errors.Is(err, account.ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	case errors.Is(err, account.ErrWrongPassword):
		response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Current password is incorrect", nil)
	case errors.Is(err, account.ErrNoDeletedAccount):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "No deleted account found with this email", nil)
	case errors.Is(err, account.ErrUserNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	default:
		slog.Error(fallback, "method", r.Method, "path", r.URL.Path, "error", err)
		response.Internal(w, fallback, err, mw.ExposeErrorDetail(r))
	}
}

func invalidRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", message, nil)
}

// decodeJSON reads the request body into dst and answers 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		invalidRequest(w, "Invalid JSON body")
		return false
	}
	return true
}

// currentUser returns the authenticated user or answers 401 itself.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	u, ok := mw.GetUser(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required", nil)
		return nil, false
	}
	return u, true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		invalidRequest(w, message)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

// queryDate accepts RFC3339 or a bare date. A bare date used as an upper bound
// covers the whole day.
func queryDate(r *http.Request, key string, endOfDay bool) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
