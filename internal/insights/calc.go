// Package insights serves the read-only views over a user's jobs: dashboard
// rollups, history listing and search, and result exports.
package insights

import (
	"fmt"
	"math"
	"time"
	"unicode"

	"github.com/kiranshivaraju/linesense/pkg/models"
)

// SnippetWindow is the number of runes kept on each side of a search match.
const SnippetWindow = 60

// CalculateChange returns the rounded percentage change from previous to current.
// Growth from zero reports 100; zero to zero reports 0.
func CalculateChange(current, previous int) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round(float64(current-previous) / float64(previous) * 100))
}

// Snippet returns the text around the first case-insensitive occurrence of
// term, padded with "..." on each side that was cut. It returns false when
// term does not occur.
func Snippet(text, term string, window int) (string, bool) {
	if term == "" {
		return "", false
	}
	runes := []rune(text)
	idx := indexFold(runes, []rune(term))
	if idx < 0 {
		return "", false
	}

	start := max(0, idx-window)
	end := min(len(runes), idx+len([]rune(term))+window)
	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out, true
}

func indexFold(s, sub []rune) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		match := true
		for j, r := range sub {
			if unicode.ToLower(s[i+j]) != unicode.ToLower(r) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// Periods holds the UTC start of each reporting window. Weeks start on Monday.
type Periods struct {
	Today     time.Time
	Yesterday time.Time
	ThisWeek  time.Time
	LastWeek  time.Time
	ThisMonth time.Time
	LastMonth time.Time
}

func PeriodBounds(now time.Time) Periods {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sinceMonday := (int(today.Weekday()) + 6) % 7
	week := today.AddDate(0, 0, -sinceMonday)
	month := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Periods{
		Today:     today,
		Yesterday: today.AddDate(0, 0, -1),
		ThisWeek:  week,
		LastWeek:  week.AddDate(0, 0, -7),
		ThisMonth: month,
		LastMonth: month.AddDate(0, -1, 0),
	}
}

// Percentages converts label counts into rounded shares of 100.
func Percentages(d models.SentimentDistribution) models.SentimentDistribution {
	total := d.Total()
	if total == 0 {
		return models.SentimentDistribution{}
	}
	pct := func(n int) int { return int(math.Round(float64(n) / float64(total) * 100)) }
	return models.SentimentDistribution{Positive: pct(d.Positive), Neutral: pct(d.Neutral), Negative: pct(d.Negative)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func seconds(ms *int64) *string {
	if ms == nil || *ms == 0 {
		return nil
	}
	s := fmt.Sprintf("%.2f", float64(*ms)/1000)
	return &s
}

func megabytes(size int64) string {
	if size == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
}
