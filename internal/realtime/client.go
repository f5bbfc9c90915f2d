// Package realtime is a Pusher protocol client for Laravel Reverb style
// broadcasting servers.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// State is the connection state reported to OnState.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// ClientVersion is sent in the connection URL.
var ClientVersion = "0.1.0"

// Authorizer signs private channel subscriptions.
type Authorizer interface {
	AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error)
}

// Handler receives an application event's decoded data.
type Handler func(data []byte)

// Config describes the server and client behaviour.
type Config struct {
	Host   string
	Port   int
	Scheme string // ws or wss
	AppKey string

	Authorizer Authorizer

	// OnState and OnError are called from the client's goroutines and must not block.
	OnState func(State)
	OnError func(error)

	// ActivityTimeout is how long the link may be idle before the client
	// pings. The server's value from the handshake wins when it is lower.
	ActivityTimeout time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration

	// NewBackOff builds the reconnect schedule. Defaults to an unbounded
	// exponential backoff capped at 30s between attempts.
	NewBackOff func() backoff.BackOff

	Logger *zap.Logger
}

func (c *Config) defaults() {
	if c.Scheme == "" {
		c.Scheme = "ws"
	}
	if c.ActivityTimeout == 0 {
		c.ActivityTimeout = 120 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.NewBackOff == nil {
		c.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.OnState == nil {
		c.OnState = func(State) {}
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
}

// Channel is a subscription and its event handlers.
type Channel struct {
	name string

	mu       sync.RWMutex
	handlers map[string]Handler
	sentOn   *websocket.Conn
	active   bool
}

// Name returns the wire channel name.
func (ch *Channel) Name() string { return ch.name }

// Bind installs handler for event, replacing any previous one.
func (ch *Channel) Bind(event string, h Handler) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handlers[CanonicalEvent(event)] = h
}

// Unbind removes the handler for event.
func (ch *Channel) Unbind(event string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.handlers, CanonicalEvent(event))
}

// Subscribed reports whether the server confirmed the subscription on the
// current connection.
func (ch *Channel) Subscribed() bool {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.active
}

func (ch *Channel) dispatch(event string, data []byte) bool {
	ch.mu.RLock()
	h := ch.handlers[CanonicalEvent(event)]
	ch.mu.RUnlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

func (ch *Channel) reset() {
	ch.mu.Lock()
	ch.handlers = map[string]Handler{}
	ch.sentOn = nil
	ch.active = false
	ch.mu.Unlock()
}

// Client is one multiplexed connection shared by all subscriptions.
type Client struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
	state    State
	channels map[string]*Channel
	started  bool
	closed   bool
	lastErr  error

	ready chan struct{}
	done  chan struct{}

	readyOnce sync.Once
	closeOnce sync.Once

	lastFrame atomic.Int64
}

// New creates an unconnected client.
func New(cfg Config) *Client {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger.Named("realtime"),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		channels: make(map[string]*Channel),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// URL returns the websocket endpoint for the configured app.
func (c *Client) URL() string {
	u := url.URL{
		Scheme: c.cfg.Scheme,
		Host:   c.cfg.Host,
		Path:   "/app/" + c.cfg.AppKey,
	}
	if c.cfg.Port != 0 {
		u.Host = c.cfg.Host + ":" + strconv.Itoa(c.cfg.Port)
	}
	q := url.Values{}
	q.Set("protocol", strconv.Itoa(ProtocolVersion))
	q.Set("client", "chatterm")
	q.Set("version", ClientVersion)
	q.Set("flash", "false")
	u.RawQuery = q.Encode()
	return u.String()
}

// Start begins connecting in the background and keeps the connection alive
// until Close. Calling it again has no effect.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Connect starts the client and waits for the first successful handshake.
// When ctx expires first the client keeps retrying in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.Start()
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.lastErr != nil {
			return c.lastErr
		}
		return errors.New("realtime client closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SocketID returns the id the server assigned to the current connection.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Channel returns a known subscription or nil.
func (c *Client) Channel(name string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[name]
}

// Channels returns the names of all current subscriptions.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

// Subscribe joins channel. While disconnected the subscription is
// remembered and sent once the connection is up. A known channel is
// returned as is unless its last attempt on the current connection failed,
// in which case the subscribe is sent again.
func (c *Client) Subscribe(ctx context.Context, name string) (*Channel, error) {
	c.mu.Lock()
	if ch, ok := c.channels[name]; ok {
		conn, socketID := c.conn, c.socketID
		c.mu.Unlock()
		if conn == nil {
			return ch, nil
		}
		if err := c.sendSubscribe(ctx, conn, socketID, ch); err != nil {
			return nil, err
		}
		return ch, nil
	}
	ch := &Channel{name: name, handlers: map[string]Handler{}}
	c.channels[name] = ch
	conn, socketID := c.conn, c.socketID
	c.mu.Unlock()

	if conn == nil {
		return ch, nil
	}
	if err := c.sendSubscribe(ctx, conn, socketID, ch); err != nil {
		c.mu.Lock()
		if c.channels[name] == ch {
			delete(c.channels, name)
		}
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Unsubscribe leaves channel and drops its handlers. Unknown channels are ignored.
func (c *Client) Unsubscribe(name string) error {
	c.mu.Lock()
	ch, ok := c.channels[name]
	delete(c.channels, name)
	conn := c.conn
	c.mu.Unlock()
	if !ok {
		return nil
	}

	ch.reset()
	if conn == nil {
		return nil
	}
	return c.write(c.ctx, conn, envelope{Event: eventUnsubscribe, Data: mustJSON(subscribeData{Channel: name})})
}

// Close tears down the connection and stops reconnecting.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.closed = true
		started := c.started
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "client closed")
		}
		if started {
			<-c.done
		} else {
			close(c.done)
		}
		c.setState(StateDisconnected)
	})
	return err
}

func (c *Client) run() {
	defer close(c.done)
	for {
		conn, err := c.redial()
		if err != nil {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			if c.ctx.Err() == nil {
				c.logger.Error("realtime connection given up", zap.Error(err))
				c.setState(StateError)
			}
			return
		}

		c.resubscribeAll(conn)
		err = c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.socketID = ""
		}
		c.mu.Unlock()
		c.markChannelsInactive()

		if c.ctx.Err() != nil {
			return
		}
		var ce *ChannelError
		if errors.As(err, &ce) && ce.Fatal() {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			c.setState(StateError)
			return
		}
		c.logger.Warn("realtime connection lost", zap.Error(err))
		c.setState(StateDisconnected)
	}
}

// redial connects with backoff until it succeeds, the error is permanent or
// the client is closed.
func (c *Client) redial() (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		c.setState(StateConnecting)
		cn, err := c.dial(c.ctx)
		if err != nil {
			var ce *ChannelError
			if errors.As(err, &ce) && ce.Fatal() {
				return backoff.Permanent(err)
			}
			if c.ctx.Err() == nil {
				c.setState(StateDisconnected)
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Info("realtime reconnect scheduled", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.cfg.NewBackOff(), c.ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.URL(), nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Host, err)
	}

	established, err := c.handshake(dialCtx, conn)
	if err != nil {
		_ = conn.CloseNow()
		return nil, err
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return nil, c.ctx.Err()
	}
	c.conn = conn
	c.socketID = established.SocketID
	c.mu.Unlock()

	c.logger.Info("realtime connected", zap.String("socket_id", established.SocketID))
	c.setState(StateConnected)
	c.readyOnce.Do(func() { close(c.ready) })
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (*connectionEstablished, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	switch env.Event {
	case eventConnectionEstablished:
	case eventError:
		return nil, c.connectionError(&env)
	default:
		return nil, fmt.Errorf("expected %s, got %q", eventConnectionEstablished, env.Event)
	}

	var est connectionEstablished
	if err := env.decode(&est); err != nil {
		return nil, err
	}
	if est.SocketID == "" {
		return nil, errors.New("handshake without socket id")
	}
	c.applyActivityTimeout(est.ActivityTimeout)
	return &est, nil
}

func (c *Client) applyActivityTimeout(seconds int) {
	if seconds <= 0 {
		return
	}
	server := time.Duration(seconds) * time.Second
	c.mu.Lock()
	if server < c.cfg.ActivityTimeout {
		c.cfg.ActivityTimeout = server
	}
	c.mu.Unlock()
}

func (c *Client) activityTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.ActivityTimeout
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	c.lastFrame.Store(time.Now().UnixNano())
	go c.heartbeat(connCtx, conn)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return err
		}
		c.lastFrame.Store(time.Now().UnixNano())

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("realtime frame dropped", zap.Error(err))
			continue
		}
		if err := c.handleFrame(connCtx, conn, &env); err != nil {
			_ = conn.CloseNow()
			return err
		}
	}
}

// heartbeat pings after a quiet period and drops the link when no frame
// arrives within the pong timeout.
func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	tick := c.activityTimeout() / 4
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var pingSent time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			last := time.Unix(0, c.lastFrame.Load())
			if !pingSent.IsZero() && last.After(pingSent) {
				pingSent = time.Time{}
			}
			switch {
			case pingSent.IsZero() && now.Sub(last) >= c.activityTimeout():
				if err := c.write(ctx, conn, envelope{Event: eventPing, Data: json.RawMessage(`{}`)}); err != nil {
					return
				}
				pingSent = now
			case !pingSent.IsZero() && now.Sub(pingSent) >= c.cfg.PongTimeout:
				c.logger.Warn("realtime pong timeout")
				_ = conn.CloseNow()
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, env *envelope) error {
	switch env.Event {
	case eventPing:
		return c.write(ctx, conn, envelope{Event: eventPong, Data: json.RawMessage(`{}`)})
	case eventPong:
		return nil
	case eventError:
		err := c.connectionError(env)
		c.cfg.OnError(err)
		var ce *ChannelError
		if errors.As(err, &ce) && ce.Fatal() {
			return err
		}
		return nil
	case eventSubscriptionSucceeded:
		if ch := c.Channel(env.Channel); ch != nil {
			ch.mu.Lock()
			ch.active = true
			ch.mu.Unlock()
		}
		return nil
	case eventSubscriptionError:
		if ch := c.Channel(env.Channel); ch != nil {
			ch.mu.Lock()
			ch.sentOn = nil
			ch.active = false
			ch.mu.Unlock()
		}
		var d subscriptionErrorData
		_ = env.decode(&d)
		c.cfg.OnError(&ChannelError{Channel: env.Channel, Code: d.Status, Message: d.Error})
		return nil
	}

	if env.Channel == "" || isProtocolEvent(env.Event) {
		return nil
	}
	ch := c.Channel(env.Channel)
	if ch == nil {
		return nil
	}
	if !ch.dispatch(env.Event, env.payload()) {
		c.logger.Debug("realtime event without handler", zap.String("channel", env.Channel), zap.String("event", env.Event))
	}
	return nil
}

func isProtocolEvent(event string) bool {
	return strings.HasPrefix(event, protocolPrefix) || strings.HasPrefix(event, internalPrefix)
}

func (c *Client) connectionError(env *envelope) error {
	var d errorData
	if err := env.decode(&d); err != nil {
		return &ChannelError{Message: "malformed error frame", Cause: err}
	}
	return &ChannelError{Code: d.Code, Message: d.Message}
}

func (c *Client) resubscribeAll(conn *websocket.Conn) {
	c.mu.Lock()
	socketID := c.socketID
	channels := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		if err := c.sendSubscribe(c.ctx, conn, socketID, ch); err != nil {
			c.logger.Warn("realtime resubscribe failed", zap.String("channel", ch.name), zap.Error(err))
			c.cfg.OnError(err)
		}
	}
}

func (c *Client) sendSubscribe(ctx context.Context, conn *websocket.Conn, socketID string, ch *Channel) error {
	ch.mu.Lock()
	if ch.sentOn == conn {
		ch.mu.Unlock()
		return nil
	}
	ch.sentOn = conn
	ch.active = false
	ch.mu.Unlock()

	data := subscribeData{Channel: ch.name}
	if requiresAuth(ch.name) {
		if c.cfg.Authorizer == nil {
			return c.subscribeFailed(ch, errors.New("private channel without authorizer"))
		}
		sig, err := c.cfg.Authorizer.AuthorizeChannel(ctx, socketID, ch.name)
		if err != nil {
			return c.subscribeFailed(ch, fmt.Errorf("authorize: %w", err))
		}
		data.Auth = sig
	}

	if err := c.write(ctx, conn, envelope{Event: eventSubscribe, Data: mustJSON(data)}); err != nil {
		return c.subscribeFailed(ch, err)
	}
	return nil
}

func (c *Client) subscribeFailed(ch *Channel, err error) error {
	ch.mu.Lock()
	ch.sentOn = nil
	ch.mu.Unlock()
	return &ChannelError{Channel: ch.name, Message: err.Error(), Cause: err}
}

func (c *Client) markChannelsInactive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		ch.mu.Lock()
		ch.active = false
		ch.sentOn = nil
		ch.mu.Unlock()
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.cfg.OnState(s)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
