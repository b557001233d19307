package ui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/eargollo/stickscan/internal/session"
)

// Bridge turns coordinator and drive signals into messages for a running
// program. Signals that arrive while no program is attached are dropped;
// the app reads current state when it starts.
type Bridge struct {
	p atomic.Pointer[tea.Program]
}

func NewBridge() *Bridge {
	return &Bridge{}
}

// Attach starts forwarding to p.
func (b *Bridge) Attach(p *tea.Program) { b.p.Store(p) }

// Detach stops forwarding.
func (b *Bridge) Detach() { b.p.Store(nil) }

func (b *Bridge) send(msg tea.Msg) {
	if p := b.p.Load(); p != nil {
		p.Send(msg)
	}
}

// Navigate implements session.Navigator.
func (b *Bridge) Navigate(n session.Navigation) { b.send(navigateMsg{nav: n}) }

// Progress implements session.ProgressObserver.
func (b *Bridge) Progress(id string, p session.Progress) { b.send(progressMsg{id: id, p: p}) }

// DrivesChanged pushes a new drive list.
func (b *Bridge) DrivesChanged(drives []string) { b.send(drivesMsg{drives: drives}) }
