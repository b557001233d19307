package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eargollo/stickscan/internal/settings"
)

// SettingsHandler handles GET/PATCH /api/settings.
type SettingsHandler struct {
	Settings Settings
}

// SettingsPatch lists the fields a user may change. Only supplied
// (non-nil) fields are applied; the hash count and last update date are
// owned by the update session.
type SettingsPatch struct {
	LoggingIsActive    *bool   `json:"logging_is_active"`
	ObfuscatedIsActive *bool   `json:"obfuscated_is_active"`
	DBUpdateWeekday    *int    `json:"db_update_weekday"`
	DBUpdateTime       *string `json:"db_update_time"`
}

func (p SettingsPatch) apply(d *settings.Document) {
	if p.LoggingIsActive != nil {
		d.LoggingIsActive = *p.LoggingIsActive
	}
	if p.ObfuscatedIsActive != nil {
		d.ObfuscatedIsActive = *p.ObfuscatedIsActive
	}
	if p.DBUpdateWeekday != nil {
		d.DBUpdateWeekday = *p.DBUpdateWeekday
	}
	if p.DBUpdateTime != nil {
		d.DBUpdateTime = *p.DBUpdateTime
	}
}

// Get handles GET /api/settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Get())
}

// Update handles PATCH /api/settings. A failed save still applies the change
// in memory; the response then carries "saved": false.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch SettingsPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body")
		return
	}

	doc, err := h.Settings.Update(r.Context(), patch.apply)
	var ce *settings.ConfigError
	switch {
	case errors.Is(err, settings.ErrInvalid):
		writeError(w, http.StatusBadRequest, "INVALID_SETTINGS", err.Error())
	case errors.As(err, &ce):
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"settings":   doc,
			"saved":      false,
			"save_error": ce.Error(),
		})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"settings": doc,
			"saved":    true,
		})
	}
}
