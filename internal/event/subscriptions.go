package event

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAlreadySubscribed is returned when the owner already holds a handler for the channel.
	ErrAlreadySubscribed = errors.New("already subscribed to channel")
	// ErrSubscriptionsClosed is returned by Subscribe after Close.
	ErrSubscriptionsClosed = errors.New("subscriptions closed")
)

// Subscriptions is the set of handlers one owner holds on a Source: at most
// one per channel, all released together by Close.
type Subscriptions struct {
	src Source

	mu     sync.Mutex
	active map[Channel]Subscription
	closed bool
}

func NewSubscriptions(src Source) *Subscriptions {
	return &Subscriptions{src: src, active: make(map[Channel]Subscription)}
}

// Subscribe registers h on ch unless the owner already has a handler there.
func (s *Subscriptions) Subscribe(ch Channel, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionsClosed
	}
	if _, ok := s.active[ch]; ok {
		return fmt.Errorf("%s: %w", ch, ErrAlreadySubscribed)
	}
	sub, err := s.src.Subscribe(ch, h)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ch, err)
	}
	s.active[ch] = sub
	return nil
}

// Unsubscribe releases the handler on ch, if any.
func (s *Subscriptions) Unsubscribe(ch Channel) error {
	s.mu.Lock()
	sub, ok := s.active[ch]
	delete(s.active, ch)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Close releases every handler exactly once. Later calls do nothing.
func (s *Subscriptions) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	active := s.active
	s.active = make(map[Channel]Subscription)
	s.mu.Unlock()

	var errs []error
	for ch, sub := range active {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// Active reports whether the owner holds a handler on ch.
func (s *Subscriptions) Active(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[ch]
	return ok
}
