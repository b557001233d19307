package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/eargollo/stickscan/internal/engine"
	"github.com/eargollo/stickscan/internal/history"
	"github.com/eargollo/stickscan/internal/session"
)

// StatusHandler handles GET /api/status and GET /api/view.
type StatusHandler struct {
	Sessions Sessions
	History  History
	Schedule Schedule
	Version  string
}

type statusResponse struct {
	Version       string            `json:"version"`
	View          viewInfo          `json:"view"`
	ActiveSession *session.Snapshot `json:"active_session"`
	Schedule      scheduleInfo      `json:"schedule"`
	LastSession   *history.Session  `json:"last_session"`
}

type scheduleInfo struct {
	Armed     bool       `json:"armed"`
	Cron      string     `json:"cron"`
	Weekday   int        `json:"weekday"`
	Time      string     `json:"time"`
	NextRunAt *time.Time `json:"next_run_at"`
}

type viewInfo struct {
	View       session.View   `json:"view"`
	SessionID  string         `json:"session_id,omitempty"`
	Kind       history.Kind   `json:"kind,omitempty"`
	Path       string         `json:"path,omitempty"`
	MatchCount int            `json:"match_count,omitempty"`
	Matches    []engine.Match `json:"matches,omitempty"`
	Obfuscated bool           `json:"obfuscated,omitempty"`
	HashCount  int64          `json:"hash_count,omitempty"`
	Error      string         `json:"error,omitempty"`
}

func newViewInfo(n session.Navigation) viewInfo {
	v := viewInfo{
		View:       n.View,
		SessionID:  n.SessionID,
		Kind:       n.Kind,
		Path:       n.Path,
		MatchCount: len(n.Matches),
		Obfuscated: n.Obfuscated,
		HashCount:  n.HashCount,
		Error:      n.ErrorMessage(),
	}
	if !n.Obfuscated {
		v.Matches = n.Matches
	}
	return v
}

// ServeHTTP returns the coordinator status as JSON.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version:       h.Version,
		View:          newViewInfo(h.Sessions.Current()),
		ActiveSession: h.Sessions.Active(),
	}
	if h.Schedule != nil {
		resp.Schedule.Cron = h.Schedule.CronExpr()
		resp.Schedule.NextRunAt = h.Schedule.NextRunAt()
		if e, ok := h.Schedule.Armed(); ok {
			resp.Schedule.Armed = true
			resp.Schedule.Weekday = e.Weekday
			resp.Schedule.Time = e.Time
		}
	}
	if h.History != nil {
		last, err := h.History.LastFinished(r.Context())
		if err != nil {
			slog.Error("status: last session", "error", err)
		}
		resp.LastSession = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// View handles GET /api/view: the screen the coordinator last navigated to.
func (h *StatusHandler) View(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newViewInfo(h.Sessions.Current()))
}
