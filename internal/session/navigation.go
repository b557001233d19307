package session

import (
	"errors"

	"github.com/eargollo/stickscan/internal/engine"
	"github.com/eargollo/stickscan/internal/history"
)

// View is a screen of the presentation layer.
type View string

const (
	ViewEntry    View = "entry"
	ViewLoading  View = "loading"
	ViewClean    View = "clean"
	ViewInfected View = "infected"
	ViewSettings View = "settings"
)

// Navigation tells the presentation layer which view to show and with what.
type Navigation struct {
	View       View
	SessionID  string
	Kind       history.Kind
	Path       string
	Matches    []engine.Match
	Obfuscated bool
	HashCount  int64
	Err        error
}

// ErrorMessage is the descriptor shown to the user, verbatim from the
// engine when it produced one.
func (n Navigation) ErrorMessage() string {
	if n.Err == nil {
		return ""
	}
	var ee *engine.EngineError
	if errors.As(n.Err, &ee) {
		return ee.Message
	}
	var pe *ProgressStreamError
	if errors.As(n.Err, &pe) {
		return pe.Message
	}
	return n.Err.Error()
}

// Navigator receives view changes. Navigate is called from session
// goroutines and must not start a session synchronously.
type Navigator interface {
	Navigate(Navigation)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Navigation)

func (f NavigatorFunc) Navigate(n Navigation) { f(n) }

// MultiNavigator fans a navigation out to several navigators in order.
type MultiNavigator []Navigator

func (m MultiNavigator) Navigate(n Navigation) {
	for _, nav := range m {
		if nav != nil {
			nav.Navigate(n)
		}
	}
}

// ProgressObserver receives progress for the running session.
type ProgressObserver interface {
	Progress(sessionID string, p Progress)
}

// ProgressObserverFunc adapts a function to ProgressObserver.
type ProgressObserverFunc func(sessionID string, p Progress)

func (f ProgressObserverFunc) Progress(id string, p Progress) { f(id, p) }
