package insights

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/apperr"
	"github.com/kiranshivaraju/linesense/internal/store"
	"github.com/kiranshivaraju/linesense/pkg/models"
	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var resultHeader = []string{"Line Number", "Original Text", "Sentiment Score", "Sentiment Label", "Keywords"}

// Export is a rendered download.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Export renders one of the user's jobs as a CSV or XLSX download.
func (h *History) Export(ctx context.Context, userID, id uuid.UUID, format string) (*Export, error) {
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return nil, apperr.Invalid(fmt.Sprintf("Unsupported export format %q", format))
	}

	job, err := h.store.GetJob(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job for export: %w", err)
	}

	out := &Export{Filename: exportFilename(job.OriginalFilename, format, h.now())}
	switch format {
	case FormatXLSX:
		out.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		out.Data, err = renderXLSX(job)
	default:
		out.ContentType = "text/csv"
		out.Data, err = renderCSV(job)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func exportFilename(original, ext string, now time.Time) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	return fmt.Sprintf("export_%s_%d.%s", base, now.UnixMilli(), ext)
}

func resultRow(r models.LineResult) []string {
	return []string{
		strconv.Itoa(r.LineNumber),
		r.OriginalText,
		strconv.FormatFloat(r.SentimentScore, 'f', -1, 64),
		r.SentimentLabel,
		strings.Join(r.Keywords, ", "),
	}
}

func summaryRows(job *models.Job) [][]string {
	avg := 0.0
	if job.AverageSentiment != nil {
		avg = *job.AverageSentiment
	}
	elapsed := "N/A"
	if s := seconds(job.ProcessingTimeMs); s != nil {
		elapsed = *s + "s"
	}
	return [][]string{
		{"Filename", job.OriginalFilename},
		{"Status", job.Status},
		{"Total Lines", strconv.Itoa(derefInt(job.TotalLines))},
		{"Average Sentiment", strconv.FormatFloat(avg, 'f', -1, 64)},
		{"Processing Time", elapsed},
		{"Processed At", processedAt(job).UTC().Format(time.RFC3339)},
	}
}

// renderCSV writes the header, one row per line result, two blank lines and
// a SUMMARY block of key/value rows.
func renderCSV(job *models.Job) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	records := [][]string{resultHeader}
	for _, r := range job.Results {
		records = append(records, resultRow(r))
	}
	records = append(records, nil, nil, []string{"SUMMARY"})
	records = append(records, summaryRows(job)...)

	if err := w.WriteAll(records); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	return buf.Bytes(), nil
}

func renderXLSX(job *models.Job) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const results, summary = "Results", "Summary"
	if err := f.SetSheetName("Sheet1", results); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	if _, err := f.NewSheet(summary); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	resultRows := make([][]any, 0, len(job.Results)+1)
	header := make([]any, len(resultHeader))
	for i, h := range resultHeader {
		header[i] = h
	}
	resultRows = append(resultRows, header)
	for _, r := range job.Results {
		resultRows = append(resultRows, []any{r.LineNumber, r.OriginalText, r.SentimentScore, r.SentimentLabel, strings.Join(r.Keywords, ", ")})
	}
	if err := writeSheet(f, results, resultRows, []colWidth{
		{"A", "A", 12}, {"B", "B", 80}, {"C", "D", 16}, {"E", "E", 40},
	}); err != nil {
		return nil, err
	}

	var summaryData [][]any
	for _, kv := range summaryRows(job) {
		row := make([]any, len(kv))
		for i, v := range kv {
			row[i] = v
		}
		summaryData = append(summaryData, row)
	}
	if err := writeSheet(f, summary, summaryData, []colWidth{{"A", "A", 20}, {"B", "B", 40}}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

type colWidth struct {
	from, to string
	width    float64
}

// writeSheet fills sheet from A1 down and sets column widths. It stops at the
// first error so a partial workbook is never returned.
func writeSheet(f *excelize.File, sheet string, rows [][]any, widths []colWidth) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("xlsx cell: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx %s row %d: %w", sheet, i+1, err)
		}
	}
	for _, w := range widths {
		if err := f.SetColWidth(sheet, w.from, w.to, w.width); err != nil {
			return fmt.Errorf("xlsx %s width %s:%s: %w", sheet, w.from, w.to, err)
		}
	}
	return nil
}
