package session

import "github.com/eargollo/stickscan/internal/history"

// State is where a session is in its lifecycle. Every state after
// StateRunning is terminal and absorbs later signals.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateClean
	StateInfected
	StateFailed
	StateUpdated
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateClean:
		return "clean"
	case StateInfected:
		return "infected"
	case StateFailed:
		return "failed"
	case StateUpdated:
		return "updated"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether s ends a session.
func (s State) Terminal() bool { return s > StateRunning }

func (s State) historyStatus() history.Status {
	switch s {
	case StateClean:
		return history.StatusClean
	case StateInfected:
		return history.StatusInfected
	case StateUpdated:
		return history.StatusUpdated
	case StateAbandoned:
		return history.StatusAbandoned
	default:
		return history.StatusFailed
	}
}
