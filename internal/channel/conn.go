package channel

import (
	"context"

	"github.com/matheus3301/chatterm/internal/realtime"
)

// Conn is the slice of a realtime connection the manager needs.
type Conn interface {
	// Start begins connecting in the background.
	Start()
	// Listen subscribes to channel and binds handler to event.
	Listen(ctx context.Context, channel, event string, h realtime.Handler) error
	Unsubscribe(channel string) error
	Close() error
}

// Hooks are the connection callbacks the manager installs.
type Hooks struct {
	OnState func(realtime.State)
	OnError func(error)
}

// Dialer builds a fresh, unstarted connection.
type Dialer func(hooks Hooks) Conn

// RealtimeDialer returns a Dialer backed by realtime.Client. base carries
// server coordinates and the channel authorizer; the hooks are filled in per
// connection.
func RealtimeDialer(base realtime.Config) Dialer {
	return func(hooks Hooks) Conn {
		cfg := base
		cfg.OnState = hooks.OnState
		cfg.OnError = hooks.OnError
		return &realtimeConn{Client: realtime.New(cfg)}
	}
}

type realtimeConn struct {
	*realtime.Client
}

func (c *realtimeConn) Listen(ctx context.Context, channel, event string, h realtime.Handler) error {
	ch, err := c.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	ch.Bind(event, h)
	return nil
}
