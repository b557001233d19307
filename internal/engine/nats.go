package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect dials the engine bridge. The connection reconnects forever; the
// gateway reports commands issued while it is down as unreachable.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("engine bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("engine bridge reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect engine bridge %s: %w", url, err)
	}
	return nc, nil
}

// NATSRequester sends commands as NATS request/reply messages.
type NATSRequester struct {
	nc *nats.Conn
}

func NewNATSRequester(nc *nats.Conn) *NATSRequester {
	return &NATSRequester{nc: nc}
}

func (r *NATSRequester) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := r.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}
