package response

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// Message answers 200 with a human-readable message and an optional payload.
func Message(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func Created(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: message, Data: data})
}

func Error(w http.ResponseWriter, status int, code, message string, errs []string) {
	writeJSON(w, status, errorEnvelope{
		Code:    code,
		Message: message,
		Errors:  errs,
	})
}

// Internal answers 500. err is only echoed back when expose is set.
func Internal(w http.ResponseWriter, message string, err error, expose bool) {
	body := errorEnvelope{Code: "INTERNAL_ERROR", Message: message}
	if expose && err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, http.StatusInternalServerError, body)
}

// Download sends data as a file attachment.
func Download(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
