package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eargollo/stickscan/internal/history"
	"github.com/eargollo/stickscan/internal/scheduler"
	"github.com/eargollo/stickscan/internal/session"
	"github.com/eargollo/stickscan/internal/settings"
)

// Sessions starts and reports scan and update sessions.
type Sessions interface {
	StartScan(ctx context.Context, req session.Request) (session.Snapshot, error)
	StartUpdate(ctx context.Context, trigger string) (session.Snapshot, error)
	Active() *session.Snapshot
	Current() session.Navigation
}

// History reads recorded sessions.
type History interface {
	List(ctx context.Context, limit, offset int) ([]history.Session, int, error)
	Get(ctx context.Context, id string) (*history.Session, error)
	LastFinished(ctx context.Context) (*history.Session, error)
}

// Schedule reports the armed update trigger.
type Schedule interface {
	Armed() (scheduler.Entry, bool)
	NextRunAt() *time.Time
	CronExpr() string
}

// Drives lists attached removable drives.
type Drives interface {
	Refresh(ctx context.Context) ([]string, error)
}

// Settings reads and changes the user's settings.
type Settings interface {
	Get() settings.Document
	Update(ctx context.Context, mutate func(*settings.Document)) (settings.Document, error)
}

// ListResponse is the standard paginated list envelope.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ErrorBody is the standard error envelope.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError holds a machine-readable code and a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON serialises v as JSON with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON encode", "error", err)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{
		Error: APIError{Code: code, Message: message},
	})
}

// parsePagination reads limit (1-200, default 50) and offset (default 0).
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return
}
