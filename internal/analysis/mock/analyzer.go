package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/kiranshivaraju/linesense/internal/analysis"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// MockAnalyzer satisfies models.Analyzer for testing.
type MockAnalyzer struct {
	Name_       string
	AnalyzeFunc func(ctx context.Context, req models.AnalysisRequest) (*models.JobOutput, error)

	calls atomic.Int32
}

func (m *MockAnalyzer) Name() string { return m.Name_ }

func (m *MockAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.JobOutput, error) {
	m.calls.Add(1)
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return &models.JobOutput{Results: []models.LineResult{}}, nil
}

// Calls returns how many times Analyze has been invoked.
func (m *MockAnalyzer) Calls() int { return int(m.calls.Load()) }

// NewMockAnalyzer returns a MockAnalyzer that scores every line +50 and
// reports it positive.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.AnalysisRequest) (*models.JobOutput, error) {
			return Output(req.Content), nil
		},
	}
}

// Output builds a deterministic all-positive output for content.
func Output(content string) *models.JobOutput {
	lines := strings.Split(content, "\n")
	out := &models.JobOutput{
		TotalLines:       len(lines),
		ProcessingTimeMs: 42,
		WorkersUsed:      2,
		AverageSentiment: 50,
		Results:          make([]models.LineResult, 0, len(lines)),
	}
	for i, line := range lines {
		out.Results = append(out.Results, models.LineResult{
			LineNumber:     i + 1,
			OriginalText:   line,
			SentimentScore: 50,
			SentimentLabel: models.SentimentPositive,
			Keywords:       strings.Fields(line),
			PatternsFound:  []string{"mock_pattern"},
			Metadata:       map[string]any{"processId": 1},
		})
	}
	out.SentimentDistribution.Positive = len(lines)
	return out
}

// NewFailingAnalyzer returns a MockAnalyzer that always returns err.
func NewFailingAnalyzer(err error) *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (*models.JobOutput, error) {
			return nil, err
		},
	}
}

// NewTimeoutAnalyzer returns a MockAnalyzer that blocks until ctx is done.
func NewTimeoutAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalysisRequest) (*models.JobOutput, error) {
			<-ctx.Done()
			return nil, analysis.ErrServiceTimeout
		},
	}
}

// NewGatedAnalyzer returns a MockAnalyzer that signals started once it is
// called and then waits for release before answering like NewMockAnalyzer.
func NewGatedAnalyzer(started chan<- struct{}, release <-chan struct{}) *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock-gated",
		AnalyzeFunc: func(ctx context.Context, req models.AnalysisRequest) (*models.JobOutput, error) {
			started <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return Output(req.Content), nil
		},
	}
}

// NewPanickingAnalyzer returns a MockAnalyzer that panics with v.
func NewPanickingAnalyzer(v any) *MockAnalyzer {
	return &MockAnalyzer{
		Name_: "mock-panic",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (*models.JobOutput, error) {
			panic(v)
		},
	}
}

var _ models.Analyzer = (*MockAnalyzer)(nil)
