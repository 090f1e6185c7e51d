package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/account"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/internal/cache"
	"github.com/kiranshivaraju/linesense/internal/cache/cachetest"
	"github.com/kiranshivaraju/linesense/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Stub Authenticator ---

type stubAuthenticator struct {
	user   *models.User
	claims *auth.Claims
	err    error
	token  string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*models.User, *auth.Claims, error) {
	s.token = token
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.user, s.claims, nil
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	return body
}

func withUser(r *http.Request, u *models.User) *http.Request {
	return r.WithContext(mw.SetUser(r.Context(), u))
}

// ========================================
// Auth Middleware Tests
// ========================================

func TestAuth_MissingAuthHeader(t *testing.T) {
	a := mw.NewAuth(&stubAuthenticator{})
	handler := a.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := errBody(t, w)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	assert.Equal(t, "Access token required", body["message"])
}

func TestAuth_InvalidBearerFormat(t *testing.T) {
	stub := &stubAuthenticator{}
	a := mw.NewAuth(stub)
	handler := a.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Basic abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, stub.token)
}

func TestAuth_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"expired", auth.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired"},
		{"malformed", auth.ErrTokenInvalid, http.StatusForbidden, "INVALID_TOKEN", "Invalid or malformed token"},
		{"revoked", account.ErrTokenRevoked, http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked"},
		{"user gone", account.ErrUserNotFound, http.StatusUnauthorized, "USER_NOT_FOUND", "User account not found"},
		{"deleted", account.ErrAccountDeleted, http.StatusUnauthorized, "ACCOUNT_DELETED", "Account has been deleted. Please contact support."},
		{"unexpected", errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR", "Authentication error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mw.NewAuth(&stubAuthenticator{err: tt.err})
			handler := a.Authenticate(okHandler())

			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer some.jwt.token")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			body := errBody(t, w)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
}

func TestAuth_ValidToken(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "ann@example.com"}
	claims := &auth.Claims{UserID: user.ID, Email: user.Email}
	stub := &stubAuthenticator{user: user, claims: claims}
	a := mw.NewAuth(stub)

	var gotUser *models.User
	var gotClaims *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = mw.GetUser(r)
		gotClaims, _ = mw.GetClaims(r)
		w.WriteHeader(http.StatusOK)
	})
	handler := a.Authenticate(inner)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "bearer  abc.def.ghi ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc.def.ghi", stub.token)
	assert.Same(t, user, gotUser)
	assert.Same(t, claims, gotClaims)
}

func TestAuth_UnexpectedErrorDetailExposed(t *testing.T) {
	a := mw.NewAuth(&stubAuthenticator{err: errors.New("db down")})
	handler := mw.ErrorDetail(true)(a.Authenticate(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "db down", errBody(t, w)["detail"])
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	rl := mw.NewRateLimit(cachetest.NewMemory(), 60)
	handler := rl.Limit(okHandler())

	req := withUser(httptest.NewRequest("GET", "/test", nil), &models.User{ID: uuid.New()})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	user := &models.User{ID: uuid.New()}
	mc := cachetest.NewMemory()
	rl := mw.NewRateLimit(mc, 2)
	handler := rl.Limit(okHandler())

	var w *httptest.ResponseRecorder
	for range 3 {
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, withUser(httptest.NewRequest("GET", "/test", nil), user))
	}

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
	assert.True(t, mc.Has(cache.RateLimitKey(user.ID.String())))
}

func TestRateLimit_CountsPerUser(t *testing.T) {
	rl := mw.NewRateLimit(cachetest.NewMemory(), 1)
	handler := rl.Limit(okHandler())

	for range 2 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withUser(httptest.NewRequest("GET", "/test", nil), &models.User{ID: uuid.New()}))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_NoUser_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(cachetest.NewMemory(), 60)
	handler := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_CacheDown_FailsOpen(t *testing.T) {
	mc := cachetest.NewMemory()
	mc.Err = errors.New("redis unavailable")
	rl := mw.NewRateLimit(mc, 1)
	handler := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest("GET", "/test", nil), &models.User{ID: uuid.New()}))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_DefaultLimit(t *testing.T) {
	rl := mw.NewRateLimit(cachetest.NewMemory(), 0)
	handler := rl.Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withUser(httptest.NewRequest("GET", "/test", nil), &models.User{ID: uuid.New()}))

	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := errBody(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.Nil(t, body["detail"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger_RecordsUserAndSize(t *testing.T) {
	logs := captureLogs(t)
	user := &models.User{ID: uuid.New()}

	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = mw.SetUser(r.Context(), user)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))

	req := httptest.NewRequest("GET", "/api/history/x", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, user.ID.String(), line["user_id"])
	assert.Equal(t, float64(7), line["bytes"])
	assert.Equal(t, float64(404), line["status"])
}

func TestLogger_AnonymousServerError(t *testing.T) {
	logs := captureLogs(t)

	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/health", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.NotContains(t, line, "user_id")
}

// ========================================
// CORS Middleware Tests
// ========================================

func TestCORS_Preflight(t *testing.T) {
	handler := mw.CORS("http://localhost:3000")(okHandler())

	req := httptest.NewRequest("OPTIONS", "/api/history", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "DELETE")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestCORS_UnknownOrigin(t *testing.T) {
	handler := mw.CORS("http://localhost:3000")(okHandler())

	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
