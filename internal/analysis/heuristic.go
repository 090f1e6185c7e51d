package analysis

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/linesense/pkg/models"
)

const (
	minScore          = -50
	maxScore          = 50
	keywordCandidates = 3
	minKeywordLen     = 3
)

// Heuristic is the local fallback analyzer. Every line gets a pseudo-random
// integer score in [-50, 50]; there is no language model behind it.
type Heuristic struct {
	workers int
	now     func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewHeuristic reports workers as the worker count of every run.
// A nil src seeds from the clock.
func NewHeuristic(workers int, src rand.Source) *Heuristic {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	if workers < 1 {
		workers = 1
	}
	return &Heuristic{
		workers: workers,
		now:     time.Now,
		rng:     rand.New(src),
	}
}

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.JobOutput, error) {
	start := h.now()
	lines := strings.Split(req.Content, "\n")

	out := &models.JobOutput{
		TotalLines:  len(lines),
		WorkersUsed: h.workers,
		Results:     make([]models.LineResult, 0, len(lines)),
	}

	var sum float64
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line = strings.TrimSuffix(line, "\r")
		score := float64(h.score())
		label := models.SentimentLabel(score)

		switch label {
		case models.SentimentPositive:
			out.SentimentDistribution.Positive++
		case models.SentimentNegative:
			out.SentimentDistribution.Negative++
		default:
			out.SentimentDistribution.Neutral++
		}
		sum += score

		words := strings.Fields(line)
		out.Results = append(out.Results, models.LineResult{
			LineNumber:     i + 1,
			OriginalText:   line,
			SentimentScore: score,
			SentimentLabel: label,
			Keywords:       keywords(words),
			PatternsFound:  []string{},
			Metadata: map[string]any{
				"length":    len(line),
				"wordCount": len(words),
			},
		})
	}

	if len(lines) > 0 {
		out.AverageSentiment = sum / float64(len(lines))
	}
	out.ProcessingTimeMs = h.now().Sub(start).Milliseconds()
	return out, nil
}

func (h *Heuristic) score() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.IntN(maxScore-minScore+1) + minScore
}

// keywords keeps the long words among the first few of a line.
func keywords(words []string) []string {
	if len(words) > keywordCandidates {
		words = words[:keywordCandidates]
	}
	out := []string{}
	for _, w := range words {
		if len([]rune(w)) >= minKeywordLen {
			out = append(out, w)
		}
	}
	return out
}

var _ models.Analyzer = (*Heuristic)(nil)
