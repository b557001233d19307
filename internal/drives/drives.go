package drives

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/eargollo/stickscan/internal/engine"
)

// Lister asks the engine which removable drives are attached.
type Lister interface {
	ListUSBDrives(ctx context.Context) ([]string, error)
}

// Service caches the last drive list and tells listeners when it changes.
type Service struct {
	lister Lister

	mu        sync.Mutex
	drives    []string
	updatedAt time.Time
	listeners []func([]string)
}

func NewService(lister Lister) *Service {
	return &Service{lister: lister}
}

// OnChange registers fn to receive each new drive list.
func (s *Service) OnChange(fn func([]string)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Refresh asks the engine for the current list. When a listing is already
// in flight the cached list is returned instead.
func (s *Service) Refresh(ctx context.Context) ([]string, error) {
	list, err := s.lister.ListUSBDrives(ctx)
	if errors.Is(err, engine.ErrInFlight) {
		return s.Drives(), nil
	}
	if err != nil {
		return nil, err
	}
	slices.Sort(list)

	s.mu.Lock()
	changed := !slices.Equal(s.drives, list) || s.updatedAt.IsZero()
	s.drives = list
	s.updatedAt = time.Now()
	listeners := append([]func([]string){}, s.listeners...)
	s.mu.Unlock()

	if changed {
		slog.Info("drives: list changed", "drives", list)
		for _, fn := range listeners {
			fn(slices.Clone(list))
		}
	}
	return slices.Clone(list), nil
}

// Drives returns the cached list.
func (s *Service) Drives() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.drives)
}
