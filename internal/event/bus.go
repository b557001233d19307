package event

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Channel names an engine event stream.
type Channel string

const (
	Progress      Channel = "progress"
	ProgressError Channel = "progress-error"
)

// Channels lists every channel the engine emits on.
var Channels = []Channel{Progress, ProgressError}

// ErrBusStopped is returned by Publish and Subscribe after Stop.
var ErrBusStopped = errors.New("event bus stopped")

// Message is one event as pushed by the engine. Seq is assigned by
// Bus.Publish and increases with every message.
type Message struct {
	Channel  Channel         `json:"channel"`
	Payload  json.RawMessage `json:"message"`
	Received time.Time       `json:"received"`
	Seq      uint64          `json:"seq"`
}

// Text renders the payload for display: a JSON string is unquoted, anything
// else is returned as raw JSON.
func (m Message) Text() string {
	var s string
	if json.Unmarshal(m.Payload, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(m.Payload))
}

// Handler processes one message.
type Handler func(Message)

// Subscription is a registered handler. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe() error
}

// Source is anything handlers can subscribe to.
type Source interface {
	Subscribe(ch Channel, h Handler) (Subscription, error)
}

// Bus is an in-process event bus backed by a buffered channel. A single
// dispatch goroutine delivers messages, so each channel keeps its order.
// A handler only sees messages published after it subscribed, even when
// older ones are still buffered.
type Bus struct {
	ch   chan Message
	done chan struct{}
	seq  atomic.Uint64

	mu      sync.RWMutex
	subs    map[Channel]map[uint64]subscriber
	nextID  uint64
	stopped bool
}

type subscriber struct {
	h Handler
	// since is the last sequence published before the subscription.
	since uint64
}

// NewBus creates a bus with the given buffer size.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:   make(chan Message, bufSize),
		done: make(chan struct{}),
		subs: make(map[Channel]map[uint64]subscriber),
	}
}

// Subscribe registers h for ch.
func (b *Bus) Subscribe(ch Channel, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, ErrBusStopped
	}
	b.nextID++
	id := b.nextID
	if b.subs[ch] == nil {
		b.subs[ch] = make(map[uint64]subscriber)
	}
	b.subs[ch][id] = subscriber{h: h, since: b.seq.Load()}
	return &handle{bus: b, ch: ch, id: id}, nil
}

// Publish queues m for dispatch. It blocks while the buffer is full;
// terminal events must never be dropped.
func (b *Bus) Publish(m Message) error {
	if m.Received.IsZero() {
		m.Received = time.Now().UTC()
	}
	select {
	case <-b.done:
		return ErrBusStopped
	default:
	}
	m.Seq = b.seq.Add(1)
	select {
	case b.ch <- m:
		return nil
	case <-b.done:
		return ErrBusStopped
	}
}

// Start drains the queue and dispatches to subscribers. It blocks until
// Stop is called, then delivers whatever is still buffered.
func (b *Bus) Start() {
	for {
		select {
		case m := <-b.ch:
			b.dispatch(m)
		case <-b.done:
			for {
				select {
				case m := <-b.ch:
					b.dispatch(m)
				default:
					return
				}
			}
		}
	}
}

// Stop stops accepting messages and subscriptions.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

// Len returns the number of handlers registered for ch.
func (b *Bus) Len(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ch])
}

func (b *Bus) dispatch(m Message) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[m.Channel]))
	for _, s := range b.subs[m.Channel] {
		if m.Seq > s.since {
			handlers = append(handlers, s.h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked", "channel", string(m.Channel), "panic", r)
				}
			}()
			h(m)
		}()
	}
}

func (b *Bus) remove(ch Channel, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[ch], id)
	if len(b.subs[ch]) == 0 {
		delete(b.subs, ch)
	}
}

type handle struct {
	bus  *Bus
	ch   Channel
	id   uint64
	once sync.Once
}

func (h *handle) Unsubscribe() error {
	h.once.Do(func() { h.bus.remove(h.ch, h.id) })
	return nil
}
