package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
)

// Subject returns the NATS subject the engine publishes ch on.
func Subject(prefix string, ch Channel) string {
	return prefix + ".event." + string(ch)
}

// Relay forwards engine events from NATS into a Bus.
type Relay struct {
	nc     *nats.Conn
	prefix string
	bus    *Bus

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewRelay(nc *nats.Conn, prefix string, bus *Bus) *Relay {
	return &Relay{nc: nc, prefix: prefix, bus: bus}
}

// Start subscribes to every engine channel.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) > 0 {
		return nil
	}
	for _, ch := range Channels {
		ch := ch
		sub, err := r.nc.Subscribe(Subject(r.prefix, ch), func(m *nats.Msg) {
			if err := r.bus.Publish(decode(ch, m.Data)); err != nil {
				slog.Debug("relay: drop event", "channel", ch, "error", err)
			}
		})
		if err != nil {
			r.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
		r.subs = append(r.subs, sub)
	}
	slog.Info("event relay started", "prefix", r.prefix)
	return nil
}

// Stop unsubscribes from NATS.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked()
}

func (r *Relay) unsubscribeLocked() error {
	var errs []error
	for _, s := range r.subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	r.subs = nil
	return errors.Join(errs...)
}

// decode unwraps the {"message": ...} envelope. A body without one is
// taken as the payload itself.
func decode(ch Channel, data []byte) Message {
	var env struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(data, &env) == nil && env.Message != nil {
		return Message{Channel: ch, Payload: env.Message}
	}
	if json.Valid(data) {
		return Message{Channel: ch, Payload: json.RawMessage(data)}
	}
	quoted, _ := json.Marshal(string(data))
	return Message{Channel: ch, Payload: quoted}
}
