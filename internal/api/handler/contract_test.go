package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/linesense/internal/account"
	"github.com/kiranshivaraju/linesense/internal/analysis"
	"github.com/kiranshivaraju/linesense/internal/analysis/mock"
	"github.com/kiranshivaraju/linesense/internal/api"
	"github.com/kiranshivaraju/linesense/internal/api/handler"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/internal/cache/cachetest"
	"github.com/kiranshivaraju/linesense/internal/config"
	"github.com/kiranshivaraju/linesense/internal/insights"
	"github.com/kiranshivaraju/linesense/internal/jobs"
	"github.com/kiranshivaraju/linesense/internal/notify"
	"github.com/kiranshivaraju/linesense/internal/processing"
	"github.com/kiranshivaraju/linesense/internal/store/storetest"
	"github.com/kiranshivaraju/linesense/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// ─── test server ─────────────────────────────────────────────────────────────

type testServer struct {
	router http.Handler
	proc   *processing.Service
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := storetest.NewMemory()
	ca := cachetest.NewMemory()
	disk, err := upload.NewDisk(t.TempDir())
	require.NoError(t, err)

	uploadCfg := config.UploadConfig{
		MaxFileSize:       1 << 20,
		AllowedExtensions: []string{".txt", ".csv"},
		MaxBatchFiles:     5,
	}
	proc := processing.NewService(st, ca, disk, mock.NewMockAnalyzer(), analysis.NewHeuristic(2, nil),
		notify.Noop{}, processing.Policy{UseExternal: true, FallbackOnFailure: true})
	accounts := account.NewService(st, auth.NewTokenManager("contract-secret", time.Hour), ca,
		account.Options{BcryptCost: bcrypt.MinCost})
	textSvc := jobs.NewService(st, ca, disk, proc, uploadCfg)
	dashboard := insights.NewDashboard(st, ca, time.Minute)
	history := insights.NewHistory(st, ca)
	limits := handler.UploadLimits{MaxFileSize: uploadCfg.MaxFileSize, MaxBatchFiles: uploadCfg.MaxBatchFiles}

	router := api.NewRouter(api.Dependencies{
		Auth:              mw.NewAuth(accounts),
		RateLimit:         mw.NewRateLimit(ca, 1000),
		ExposeErrorDetail: true,

		HealthHandler:         handler.NewHealthHandler(st, ca),
		AnalysisHealthHandler: handler.NewAnalysisHealthHandler(nil),

		RegisterHandler:       handler.NewRegisterHandler(accounts),
		LoginHandler:          handler.NewLoginHandler(accounts),
		LogoutHandler:         handler.NewLogoutHandler(accounts),
		MeHandler:             handler.NewMeHandler(accounts),
		UpdateProfileHandler:  handler.NewUpdateProfileHandler(accounts),
		ChangePasswordHandler: handler.NewChangePasswordHandler(accounts),
		DeleteAccountHandler:  handler.NewDeleteAccountHandler(accounts),
		ReactivateHandler:     handler.NewReactivateHandler(accounts),

		UploadHandler:       handler.NewUploadHandler(textSvc, limits),
		BatchUploadHandler:  handler.NewBatchUploadHandler(textSvc, limits),
		ProcessTextHandler:  handler.NewProcessTextHandler(textSvc, limits),
		JobStatusHandler:    handler.NewJobStatusHandler(textSvc),
		JobResultsHandler:   handler.NewJobResultsHandler(textSvc),
		CancelJobHandler:    handler.NewCancelJobHandler(textSvc),
		BatchStatusHandler:  handler.NewBatchStatusHandler(textSvc),
		BatchResultsHandler: handler.NewBatchResultsHandler(textSvc),

		DashboardStatsHandler: handler.NewDashboardStatsHandler(dashboard),
		RecentJobsHandler:     handler.NewRecentJobsHandler(dashboard),
		QuickStatsHandler:     handler.NewQuickStatsHandler(dashboard),

		HistoryListHandler:   handler.NewHistoryListHandler(history),
		HistorySearchHandler: handler.NewHistorySearchHandler(history),
		HistoryDetailHandler: handler.NewHistoryDetailHandler(history),
		HistoryDeleteHandler: handler.NewHistoryDeleteHandler(history),
		HistoryExportHandler: handler.NewHistoryExportHandler(history),
	})
	return &testServer{router: router, proc: proc}
}

func (ts *testServer) call(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		var envelope map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope), "%s %s: %s", method, path, w.Body.String())
		assert.Equal(t, w.Code < 400, envelope["success"], "%s %s: success flag", method, path)
		if w.Code >= 400 {
			assert.NotEmpty(t, envelope["code"], "%s %s: error code", method, path)
			assert.NotEmpty(t, envelope["message"], "%s %s: error message", method, path)
		}
	}
	return w
}

func (ts *testServer) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.proc.Wait(ctx))
}

// ─── flows ───────────────────────────────────────────────────────────────────

func TestContract_UploadToExport(t *testing.T) {
	ts := newTestServer(t)

	w := ts.call(t, "POST", "/api/auth/register",
		strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"secret1"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ts.token = data(t, w)["token"].(string)

	body, ct := multipartBody(t, part{field: "file", name: "reviews.txt", data: []byte("great food\nslow service")})
	w = ts.call(t, "POST", "/api/text/upload", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	jobID := data(t, w)["jobId"].(string)

	ts.waitIdle(t)

	w = ts.call(t, "GET", "/api/text/status/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", data(t, w)["status"])
	assert.EqualValues(t, 100, data(t, w)["progress"])

	w = ts.call(t, "GET", "/api/text/results/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["results"], 2)

	w = ts.call(t, "GET", "/api/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["history"], 1)

	w = ts.call(t, "GET", "/api/history/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := data(t, w)["detailedResults"].(map[string]any)["processingStats"].(map[string]any)
	assert.Equal(t, "Python ML Workers", stats["parallelWorkers"])

	w = ts.call(t, "GET", "/api/history/search?q=slow", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, w)["results"], 1)

	w = ts.call(t, "GET", "/api/history/export/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "slow service")

	w = ts.call(t, "GET", "/api/dashboard/stats", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, data(t, w)["totalFilesProcessed"])

	w = ts.call(t, "DELETE", "/api/history/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.call(t, "GET", "/api/text/status/"+jobID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContract_DirectTextAndCancel(t *testing.T) {
	ts := newTestServer(t)
	w := ts.call(t, "POST", "/api/auth/register",
		strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"secret1"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	ts.token = data(t, w)["token"].(string)

	w = ts.call(t, "POST", "/api/text/process", strings.NewReader(`{"text":"one\ntwo\nthree"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	jobID := data(t, w)["jobId"].(string)
	ts.waitIdle(t)

	w = ts.call(t, "DELETE", "/api/text/cancel/"+jobID, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.call(t, "GET", "/api/text/results/"+jobID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, data(t, w)["statistics"].(map[string]any)["totalLines"])
}

func TestContract_LogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	w := ts.call(t, "POST", "/api/auth/register",
		strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"secret1"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	ts.token = data(t, w)["token"].(string)

	w = ts.call(t, "GET", "/api/auth/me", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.call(t, "POST", "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.call(t, "GET", "/api/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_REVOKED", decode(t, w)["code"])
}

func TestContract_OtherUsersJobsAreInvisible(t *testing.T) {
	ts := newTestServer(t)
	w := ts.call(t, "POST", "/api/auth/register",
		strings.NewReader(`{"name":"Ann","email":"ann@example.com","password":"secret1"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	ts.token = data(t, w)["token"].(string)

	w = ts.call(t, "POST", "/api/text/process", strings.NewReader(`{"text":"private"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	jobID := data(t, w)["jobId"].(string)
	ts.waitIdle(t)

	ts.token = ""
	w = ts.call(t, "POST", "/api/auth/register",
		strings.NewReader(`{"name":"Bob","email":"bob@example.com","password":"secret1"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)
	ts.token = data(t, w)["token"].(string)

	for _, path := range []string{"/api/text/status/", "/api/text/results/", "/api/history/", "/api/history/export/"} {
		w = ts.call(t, "GET", path+jobID, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestContract_Health(t *testing.T) {
	ts := newTestServer(t)

	w := ts.call(t, "GET", "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.call(t, "GET", "/api/analysis/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
