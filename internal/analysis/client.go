// Package analysis computes per-line sentiment output for jobs, either through
// the external analysis service or the local heuristic.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/linesense/internal/config"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

const probeTimeout = 5 * time.Second

// HTTPClient calls the external analysis service.
type HTTPClient struct {
	baseURL         string
	databaseURI     string
	retries         int
	initialInterval time.Duration
	client          *http.Client
	schemas         *schemas
}

// NewHTTPClient creates a client for the service at cfg.BaseURL.
func NewHTTPClient(cfg config.AnalysisConfig) (*HTTPClient, error) {
	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &HTTPClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		databaseURI:     cfg.DatabaseURI,
		retries:         cfg.Retries,
		initialInterval: 500 * time.Millisecond,
		client:          &http.Client{Timeout: cfg.Timeout},
		schemas:         s,
	}, nil
}

func (c *HTTPClient) Name() string { return "analysis-service" }

type processRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	JobID    string `json:"jobId"`
	UserID   string `json:"userId"`
	MongoURI string `json:"mongoUri,omitempty"`
}

type envelope struct {
	Success          bool            `json:"success"`
	Error            string          `json:"error"`
	ProcessingResult json.RawMessage `json:"processingResult"`
}

type wireResult struct {
	TotalLines            int                          `json:"totalLines"`
	ProcessingTimeMs      float64                      `json:"processingTimeMs"`
	WorkersUsed           int                          `json:"workersUsed"`
	AverageSentiment      float64                      `json:"averageSentiment"`
	SentimentDistribution models.SentimentDistribution `json:"sentimentDistribution"`
	Results               []models.LineResult          `json:"results"`
}

// Analyze posts the content to /process-content. Transport failures are
// retried with exponential backoff; timeouts and service answers are not.
func (c *HTTPClient) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.JobOutput, error) {
	payload, err := json.Marshal(processRequest{
		Content:  req.Content,
		Filename: req.Filename,
		JobID:    req.JobID.String(),
		UserID:   req.UserID.String(),
		MongoURI: c.databaseURI,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var (
		status int
		body   []byte
	)
	attempt := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-content", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(httpReq)
		if err != nil {
			err = classifyError(err)
			if errors.Is(err, ErrServiceTimeout) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(classifyError(err))
		}
		status = resp.StatusCode
		return nil
	}

	if err := backoff.Retry(attempt, c.backoff(ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if !errors.Is(err, ErrServiceTimeout) {
				err = classifyError(err)
			}
		}
		return nil, err
	}
	return c.decode(status, body)
}

func (c *HTTPClient) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx)
}

func (c *HTTPClient) decode(status int, body []byte) (*models.JobOutput, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status < 200 || status > 299 {
			return nil, fmt.Errorf("%w: status %d", ErrRejected, status)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if status < 200 || status > 299 || !env.Success {
		if env.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrRejected, env.Error)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRejected, status)
	}
	if err := validate(c.schemas.envelope, body); err != nil {
		return nil, err
	}

	raw := json.RawMessage(body)
	if len(env.ProcessingResult) > 0 && string(env.ProcessingResult) != "null" {
		raw = env.ProcessingResult
	}
	if err := validate(c.schemas.result, raw); err != nil {
		return nil, err
	}

	var res wireResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	for i := range res.Results {
		if res.Results[i].Keywords == nil {
			res.Results[i].Keywords = []string{}
		}
		if res.Results[i].PatternsFound == nil {
			res.Results[i].PatternsFound = []string{}
		}
	}
	if res.Results == nil {
		res.Results = []models.LineResult{}
	}

	return &models.JobOutput{
		TotalLines:            res.TotalLines,
		ProcessingTimeMs:      int64(res.ProcessingTimeMs),
		WorkersUsed:           res.WorkersUsed,
		AverageSentiment:      res.AverageSentiment,
		SentimentDistribution: res.SentimentDistribution,
		Results:               res.Results,
	}, nil
}

// HealthStatus is the service's /health answer.
type HealthStatus struct {
	Status         string `json:"status"`
	Service        string `json:"service,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	ModelsLoaded   bool   `json:"models_loaded"`
	MongoConnected bool   `json:"mongo_connected"`
	Error          string `json:"error,omitempty"`
}

// Health queries GET /health with a short timeout.
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	var h HealthStatus
	status, err := c.getJSON(ctx, "/health", &h)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		msg := h.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", status)
		}
		return &h, fmt.Errorf("%w: %s", ErrServiceUnavailable, msg)
	}
	return &h, nil
}

// DatabaseCheck is the service's /test-mongo answer.
type DatabaseCheck struct {
	Success              bool     `json:"success"`
	Database             string   `json:"database"`
	Collections          []string `json:"collections"`
	JobsCollectionExists bool     `json:"processingjobs_exists"`
	Error                string   `json:"error,omitempty"`
}

// CheckDatabase asks the service to verify its own database connection.
func (c *HTTPClient) CheckDatabase(ctx context.Context) (*DatabaseCheck, error) {
	var d DatabaseCheck
	status, err := c.getJSON(ctx, "/test-mongo", &d)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK || !d.Success {
		msg := d.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", status)
		}
		return &d, fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return &d, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, classifyError(err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return resp.StatusCode, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrServiceTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

var _ models.Analyzer = (*HTTPClient)(nil)
