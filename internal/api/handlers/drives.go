package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/eargollo/stickscan/internal/engine"
)

// DrivesHandler handles GET /api/drives.
type DrivesHandler struct {
	Drives Drives
}

func (h *DrivesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list, err := h.Drives.Refresh(r.Context())
	if err != nil {
		slog.Warn("drives list", "error", err)
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			writeError(w, http.StatusBadGateway, "ENGINE_ERROR", ee.Message)
			return
		}
		writeError(w, http.StatusBadGateway, "ENGINE_ERROR", err.Error())
		return
	}
	if list == nil {
		list = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drives": list})
}
