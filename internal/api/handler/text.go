package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/linesense/internal/api/response"
	"github.com/kiranshivaraju/linesense/internal/jobs"
	"github.com/kiranshivaraju/linesense/pkg/models"
)

// bodyOverhead is the room left for multipart boundaries, headers and JSON
// framing on top of the file limit.
const bodyOverhead = 1 << 20

// TextService defines the ingestion and job query operations.
type TextService interface {
	SubmitFile(ctx context.Context, owner jobs.Owner, f *jobs.File) (*jobs.Submission, error)
	SubmitBatch(ctx context.Context, owner jobs.Owner, files []jobs.File) (*jobs.BatchSubmission, error)
	SubmitText(ctx context.Context, owner jobs.Owner, text string, workers int) (*jobs.Submission, error)
	Status(ctx context.Context, userID, jobID uuid.UUID) (*jobs.StatusView, error)
	Results(ctx context.Context, userID, jobID uuid.UUID) (*jobs.ResultsView, error)
	Cancel(ctx context.Context, userID, jobID uuid.UUID) (*jobs.Submission, error)
	BatchStatus(ctx context.Context, userID uuid.UUID, batchID string) (*jobs.BatchStatusView, error)
	BatchResults(ctx context.Context, userID uuid.UUID, batchID string) (*jobs.BatchResultsView, error)
}

// UploadLimits bounds upload and direct-text request bodies.
type UploadLimits struct {
	MaxFileSize   int64
	MaxBatchFiles int
}

func (l UploadLimits) tooLarge(w http.ResponseWriter, what string) {
	response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR",
		fmt.Sprintf("%s too large. Maximum size is %dMB", what, l.MaxFileSize/(1024*1024)), nil)
}

func ownerOf(u *models.User) jobs.Owner {
	return jobs.Owner{ID: u.ID, Email: u.Email}
}

// parseMultipart parses a bounded multipart body. It answers the client itself
// and returns false on failure.
func parseMultipart(w http.ResponseWriter, r *http.Request, limit int64, l UploadLimits) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit+bodyOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			l.tooLarge(w, "File")
			return false
		}
		invalidRequest(w, "Invalid multipart body")
		return false
	}
	return true
}

func readPart(fh *multipart.FileHeader) (jobs.File, error) {
	f, err := fh.Open()
	if err != nil {
		return jobs.File{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return jobs.File{}, err
	}
	return jobs.File{Name: fh.Filename, Data: data}, nil
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/text/upload.
func NewUploadHandler(svc TextService, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		if !parseMultipart(w, r, limits.MaxFileSize, limits) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		var file *jobs.File
		if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
			f, err := readPart(fhs[0])
			if err != nil {
				invalidRequest(w, "Could not read uploaded file")
				return
			}
			file = &f
		}

		sub, err := svc.SubmitFile(r.Context(), ownerOf(user), file)
		if err != nil {
			writeError(w, r, err, "File upload failed")
			return
		}
		response.Message(w, "File uploaded and processing started", sub)
	}
}

// NewBatchUploadHandler returns an http.HandlerFunc for POST /api/text/batch.
func NewBatchUploadHandler(svc TextService, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		batchFiles := max(limits.MaxBatchFiles, 1)
		if !parseMultipart(w, r, limits.MaxFileSize*int64(batchFiles), limits) {
			return
		}
		defer r.MultipartForm.RemoveAll()

		fhs := r.MultipartForm.File["files"]
		files := make([]jobs.File, 0, len(fhs))
		for _, fh := range fhs {
			f, err := readPart(fh)
			if err != nil {
				invalidRequest(w, "Could not read uploaded file")
				return
			}
			files = append(files, f)
		}

		sub, err := svc.SubmitBatch(r.Context(), ownerOf(user), files)
		if err != nil {
			writeError(w, r, err, "Batch upload failed")
			return
		}
		response.Message(w, "Batch processing started", sub)
	}
}

// NewProcessTextHandler returns an http.HandlerFunc for POST /api/text/process.
func NewProcessTextHandler(svc TextService, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req struct {
			Text    string `json:"text"`
			Options struct {
				ParallelWorkers int `json:"parallelWorkers"`
			} `json:"options"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxFileSize+bodyOverhead)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				limits.tooLarge(w, "Text")
				return
			}
			invalidRequest(w, "Invalid JSON body")
			return
		}

		sub, err := svc.SubmitText(r.Context(), ownerOf(user), req.Text, req.Options.ParallelWorkers)
		if err != nil {
			writeError(w, r, err, "Text processing failed")
			return
		}
		response.Message(w, "Text processing started", sub)
	}
}

func NewJobStatusHandler(svc TextService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "Invalid job ID format")
		if !ok {
			return
		}

		view, err := svc.Status(r.Context(), user.ID, jobID)
		if err != nil {
			writeError(w, r, err, "Failed to get job status")
			return
		}
		response.JSON(w, view)
	}
}

func NewJobResultsHandler(svc TextService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "Invalid job ID format")
		if !ok {
			return
		}

		view, err := svc.Results(r.Context(), user.ID, jobID)
		if err != nil {
			writeError(w, r, err, "Failed to get job results")
			return
		}
		response.JSON(w, view)
	}
}

func NewCancelJobHandler(svc TextService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID", "Invalid job ID format")
		if !ok {
			return
		}

		sub, err := svc.Cancel(r.Context(), user.ID, jobID)
		if err != nil {
			writeError(w, r, err, "Failed to cancel job")
			return
		}
		response.Message(w, "Job cancelled successfully", sub)
	}
}

func NewBatchStatusHandler(svc TextService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		batchID := strings.TrimSpace(chi.URLParam(r, "batchID"))

		view, err := svc.BatchStatus(r.Context(), user.ID, batchID)
		if err != nil {
			writeError(w, r, err, "Failed to get batch status")
			return
		}
		response.JSON(w, view)
	}
}

func NewBatchResultsHandler(svc TextService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		batchID := strings.TrimSpace(chi.URLParam(r, "batchID"))

		view, err := svc.BatchResults(r.Context(), user.ID, batchID)
		if err != nil {
			writeError(w, r, err, "Failed to get batch results")
			return
		}
		response.JSON(w, view)
	}
}
