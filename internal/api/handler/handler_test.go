package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/account"
	mw "github.com/kiranshivaraju/linesense/internal/api/middleware"
	"github.com/kiranshivaraju/linesense/internal/auth"
	"github.com/kiranshivaraju/linesense/internal/cache/cachetest"
	"github.com/kiranshivaraju/linesense/internal/config"
	"github.com/kiranshivaraju/linesense/internal/insights"
	"github.com/kiranshivaraju/linesense/internal/jobs"
	"github.com/kiranshivaraju/linesense/internal/processing"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/internal/store/storetest"
	"github.com/kiranshivaraju/linesense/internal/upload"
	"github.com/kiranshivaraju/linesense/pkg/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingStarter struct {
	mu    sync.Mutex
	tasks []processing.Task
}

func (r *recordingStarter) Start(t processing.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

func (r *recordingStarter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// env wires the real services over in-memory backends.
type env struct {
	store     *storetest.Memory
	cache     *cachetest.Memory
	tokens    *auth.TokenManager
	accounts  *account.Service
	jobs      *jobs.Service
	starter   *recordingStarter
	dashboard *insights.Dashboard
	history   *insights.History
	limits    uploadLimits

	user   *models.User
	claims *auth.Claims
}

type uploadLimits struct {
	maxFileSize   int64
	maxBatchFiles int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	disk, err := upload.NewDisk(t.TempDir())
	require.NoError(t, err)

	e := &env{
		store:   storetest.NewMemory(),
		cache:   cachetest.NewMemory(),
		tokens:  auth.NewTokenManager("handler-secret", time.Hour),
		starter: &recordingStarter{},
		limits:  uploadLimits{maxFileSize: 1024, maxBatchFiles: 3},
	}
	e.accounts = account.NewService(e.store, e.tokens, e.cache, account.Options{BcryptCost: bcrypt.MinCost})
	e.jobs = jobs.NewService(e.store, e.cache, disk, e.starter, config.UploadConfig{
		MaxFileSize:       e.limits.maxFileSize,
		AllowedExtensions: []string{".txt", ".csv"},
		MaxBatchFiles:     e.limits.maxBatchFiles,
	})
	e.dashboard = insights.NewDashboard(e.store, e.cache, time.Minute)
	e.history = insights.NewHistory(e.store, e.cache)

	sess, err := e.accounts.Register(context.Background(), account.RegisterInput{
		Name: "Ann", Email: "ann@example.com", Password: "secret1",
	})
	require.NoError(t, err)
	e.user = sess.User
	e.claims, err = e.tokens.Parse(sess.Token)
	require.NoError(t, err)
	return e
}

// request describes one call routed through chi so URL params resolve.
type request struct {
	method      string
	pattern     string
	path        string
	body        io.Reader
	contentType string
	anonymous   bool
}

func (e *env) serve(h http.HandlerFunc, req request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	if !req.anonymous {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := mw.SetUser(r.Context(), e.user)
				ctx = mw.SetClaims(ctx, e.claims)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
	}
	pattern := req.pattern
	if pattern == "" {
		pattern = req.path
	}
	r.Method(req.method, pattern, h)

	httpReq := httptest.NewRequest(req.method, req.path, req.body)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)
	return w
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

type part struct {
	field string
	name  string
	data  []byte
}

func multipartBody(t *testing.T, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mp.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mp.Close())
	return &buf, mp.FormDataContentType()
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	d, ok := decode(t, w)["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return d
}

// seedCompleted stores a completed job owned by the env user.
func (e *env) seedCompleted(t *testing.T, name string, lines ...string) *models.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	job := &models.Job{
		ID: uuid.New(), UserID: e.user.ID,
		Filename: name, OriginalFilename: name, FileType: ".txt",
		TextContent: "the service was great",
		Status:      models.JobStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.CreateJob(ctx, job))
	require.NoError(t, e.store.TransitionJob(ctx, job.ID, models.JobStatusProcessing))

	out := &models.JobOutput{TotalLines: len(lines), ProcessingTimeMs: 1500, WorkersUsed: 2, AverageSentiment: 30}
	for i, l := range lines {
		out.Results = append(out.Results, models.LineResult{
			LineNumber: i + 1, OriginalText: l, SentimentScore: 30,
			SentimentLabel: models.SentimentPositive, Keywords: []string{"great"},
		})
		out.SentimentDistribution.Positive++
	}
	require.NoError(t, e.store.TransitionJob(ctx, job.ID, models.JobStatusCompleted, store.WithOutput(out)))
	return job
}

// seedPending stores a pending job owned by the env user.
func (e *env) seedPending(t *testing.T, name string) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID: uuid.New(), UserID: e.user.ID,
		Filename: name, OriginalFilename: name, FileType: ".txt",
		Status: models.JobStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, e.store.CreateJob(context.Background(), job))
	return job
}
