package settings

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ChangeFunc observes a settings change.
type ChangeFunc func(prev, next Document)

// Service holds the authoritative in-memory settings and writes every
// change back through the Client.
type Service struct {
	client *Client

	// writeMu serializes Load, Update and Save so a read-modify-write
	// always starts from the previous one's result. Listeners run under it
	// and must not call back into Update.
	writeMu sync.Mutex

	mu        sync.Mutex
	doc       Document
	listeners []ChangeFunc
}

// NewService starts from Defaults until Load succeeds.
func NewService(client *Client) *Service {
	return &Service{client: client, doc: Defaults()}
}

// OnChange registers fn to run after each change, outside the state lock.
func (s *Service) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Load reads the stored document. On failure the current copy is kept and
// the ConfigError is logged and returned.
func (s *Service) Load(ctx context.Context) (Document, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := s.client.LoadOrCreate(ctx)
	if err != nil {
		slog.Warn("settings: load failed, keeping last known values", "error", err)
		return s.Get(), err
	}
	s.replace(doc)
	slog.Info("settings loaded",
		"hashes_in_db", doc.HashesInDB,
		"last_db_update", doc.LastDBUpdate,
		"weekday", doc.DBUpdateWeekday,
		"time", doc.DBUpdateTime)
	return doc, nil
}

// Get returns the current document.
func (s *Service) Get() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Update applies mutate to a copy of the document, validates it, keeps it
// in memory and saves it. An invalid result is rejected unchanged. A failed
// save keeps the new in-memory copy and returns the ConfigError.
func (s *Service) Update(ctx context.Context, mutate func(*Document)) (Document, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Get()
	mutate(&next)
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}
	s.replace(next)
	return s.persist(ctx)
}

// Save writes the current document, e.g. when the user leaves the settings view.
func (s *Service) Save(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.persist(ctx)
	return err
}

// RecordUpdate stores the outcome of a successful database update.
func (s *Service) RecordUpdate(ctx context.Context, hashes int64, at time.Time) (Document, error) {
	return s.Update(ctx, func(d *Document) {
		d.HashesInDB = hashes
		d.LastDBUpdate = at.Format(LastUpdateLayout)
	})
}

func (s *Service) persist(ctx context.Context) (Document, error) {
	saved, err := s.client.Save(ctx, s.Get())
	if err != nil {
		slog.Warn("settings: save failed, keeping in-memory values", "error", err)
		return s.Get(), err
	}
	s.replace(saved)
	return saved, nil
}

func (s *Service) replace(next Document) {
	s.mu.Lock()
	prev := s.doc
	s.doc = next
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	if prev == next {
		return
	}
	for _, fn := range listeners {
		fn(prev, next)
	}
}
