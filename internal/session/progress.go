package session

import (
	"strconv"
	"strings"
	"time"
)

// Progress is the latest indicator pushed by the engine for a session.
type Progress struct {
	Text      string    `json:"text"`
	Percent   *float64  `json:"percent,omitempty"`
	Events    int       `json:"events"`
	UpdatedAt time.Time `json:"updated_at"`
}

// parsePercent reads "30", "30.5" or "30%".
func parsePercent(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// apply folds a new indicator into p. Numeric values never go backwards;
// a regression is ignored and apply returns false.
func (p *Progress) apply(text string, at time.Time) bool {
	if v, ok := parsePercent(text); ok {
		if p.Percent != nil && v < *p.Percent {
			return false
		}
		p.Percent = &v
	}
	p.Text = text
	p.Events++
	p.UpdatedAt = at
	return true
}
