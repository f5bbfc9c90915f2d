// Package app wires the client together and drives the flow from session to
// API, channels and the sync engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/channel"
	"github.com/matheus3301/chatterm/internal/logging"
	"github.com/matheus3301/chatterm/internal/outbox"
	"github.com/matheus3301/chatterm/internal/realtime"
	"github.com/matheus3301/chatterm/internal/session"
	"github.com/matheus3301/chatterm/internal/status"
	"github.com/matheus3301/chatterm/internal/store"
	intsync "github.com/matheus3301/chatterm/internal/sync"
)

// ErrSessionExpired is returned when the server rejects the stored session.
// The session has been cleared by the time it is returned.
var ErrSessionExpired = errors.New("session expired, please log in again")

// refreshTimeout bounds list reloads triggered by events rather than the user.
const refreshTimeout = 10 * time.Second

// Controller turns user intents into calls on the collaborators.
type Controller struct {
	session  *session.Store
	api      *api.Client
	channels *channel.Manager
	engine   *intsync.Engine
	outbox   *outbox.Sender
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
	resync   chan struct{}
}

// NewController creates a controller.
func NewController(
	sess *session.Store,
	client *api.Client,
	channels *channel.Manager,
	engine *intsync.Engine,
	sender *outbox.Sender,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		session:  sess,
		api:      client,
		channels: channels,
		engine:   engine,
		outbox:   sender,
		machine:  machine,
		bus:      b,
		logger:   logger.Named("app"),
		resync:   make(chan struct{}, 1),
	}
}

// Start reacts to channel and sync events until Stop.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.bus.OnDrop(c.onDrop)
	go c.resyncLoop(ctx)
	c.bus.Consume(ctx, "channel.", 64, c.handleChannelEvent)
	c.bus.Consume(ctx, bus.KindUnknownConversation, 16, func(bus.Event) {
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if err := c.LoadConversations(rctx); err != nil {
			c.logger.Warn("refresh after unknown conversation failed", zap.Error(err))
		}
	})
}

// Stop stops the event handlers.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// onDrop runs under the bus lock. A missed realtime event means the
// summaries or the open thread may be behind, so both are refetched.
func (c *Controller) onDrop(namespace string, evt bus.Event) {
	if !strings.HasPrefix(evt.Kind, "rt.") {
		c.logger.Debug("event dropped", zap.String("subscriber", namespace), zap.String("kind", evt.Kind))
		return
	}
	c.logger.Warn("realtime event dropped, resyncing",
		zap.String("subscriber", namespace), zap.String("kind", evt.Kind))
	select {
	case c.resync <- struct{}{}:
	default:
	}
}

func (c *Controller) resyncLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.resync:
		}
		if c.session.Token() == "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		if err := c.LoadConversations(rctx); err != nil {
			c.logger.Warn("resync list failed", zap.Error(err))
		}
		if id := c.engine.ActiveID(); id != 0 {
			if err := c.engine.Select(rctx, id); err != nil && !errors.Is(err, intsync.ErrSuperseded) {
				c.logger.Warn("resync conversation failed", zap.Int64("conversation_id", id), zap.Error(err))
			}
		}
		cancel()
	}
}

func (c *Controller) handleChannelEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case realtime.State:
		c.applyConnectionState(p)
	case error:
		if api.IsAuth(p) {
			if c.session.Token() != "" {
				_ = c.check(p)
			}
			return
		}
		var ce *realtime.ChannelError
		if errors.As(p, &ce) {
			c.applyConnectionState(realtime.StateDisconnected)
		}
	}
}

// applyConnectionState mirrors the transport state on the status machine.
// Connection states never touch data.
func (c *Controller) applyConnectionState(s realtime.State) {
	var to status.State
	switch s {
	case realtime.StateConnecting:
		to = status.Connecting
	case realtime.StateConnected:
		to = status.Connected
	case realtime.StateDisconnected:
		to = status.Disconnected
	case realtime.StateError:
		to = status.Error
	default:
		return
	}
	if !c.machine.CanTransition(to) {
		c.logger.Debug("ignoring connection state",
			zap.String("state", string(s)), zap.String("current", string(c.machine.Current())))
		return
	}
	c.transition(to)
}

// Bootstrap validates the persisted session once it is hydrated and loads
// the conversation list. Any failure clears the session.
func (c *Controller) Bootstrap(ctx context.Context) error {
	select {
	case <-c.session.Hydrated():
	case <-ctx.Done():
		return ctx.Err()
	}

	token := c.session.Token()
	if token == "" {
		c.transition(status.AuthRequired)
		return nil
	}
	c.transition(status.Authenticating)

	if session.Expired(token, time.Now()) {
		return c.invalidate(errors.New("token expired"))
	}
	if err := c.api.Ping(ctx); err != nil {
		return c.invalidate(err)
	}
	user := c.session.User()
	if user == nil {
		u, err := c.api.Profile(ctx)
		if err != nil {
			return c.invalidate(err)
		}
		if err := c.session.SetUser(u); err != nil {
			return err
		}
		user = u
	}
	c.logger.Info("session restored", zap.Int64("user_id", user.ID))
	return c.enter(ctx, user)
}

func (c *Controller) invalidate(cause error) error {
	c.logger.Warn("stored session rejected", zap.Error(cause))
	c.reset()
	return fmt.Errorf("%w: %w", ErrSessionExpired, cause)
}

// Login exchanges credentials for a token and loads the conversation list.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	c.transition(status.Authenticating)

	res, err := c.api.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		c.transition(status.AuthRequired)
		return err
	}
	c.logger.Info("logged in", logging.Token("token", res.AccessToken))

	user := res.User
	if user == nil {
		if err := c.session.SetToken(res.AccessToken); err != nil {
			c.transition(status.AuthRequired)
			return err
		}
		if user, err = c.api.Profile(ctx); err != nil {
			c.reset()
			return err
		}
	}
	if err := c.session.SetCredentials(res.AccessToken, user); err != nil {
		c.reset()
		return err
	}
	return c.enter(ctx, user)
}

func (c *Controller) enter(ctx context.Context, user *api.User) error {
	c.engine.SetUser(user)
	c.transition(status.Connecting)
	return c.LoadConversations(ctx)
}

// Logout clears the session, drops the realtime connection and the view state.
func (c *Controller) Logout() error {
	err := c.session.Clear()
	c.channels.Teardown()
	c.engine.Reset()
	c.transition(status.AuthRequired)
	c.logger.Info("logged out")
	return err
}

func (c *Controller) reset() {
	if err := c.Logout(); err != nil {
		c.logger.Error("failed to clear session", zap.Error(err))
	}
}

// check forces a logout when err means the session is gone.
func (c *Controller) check(err error) error {
	if err == nil || !api.IsAuth(err) {
		return err
	}
	c.logger.Warn("server rejected session, logging out", zap.Error(err))
	c.reset()
	return fmt.Errorf("%w: %w", ErrSessionExpired, err)
}

// LoadConversations fetches the list, hands it to the engine and brings the
// realtime subscriptions in line with it.
func (c *Controller) LoadConversations(ctx context.Context) error {
	convs, err := c.api.ListConversations(ctx)
	if err != nil {
		return c.check(err)
	}
	c.engine.SetConversations(convs)

	st := c.session.Snapshot()
	if err := c.channels.Reconcile(ctx, st.Token, st.User, convs); err != nil {
		c.logger.Warn("some subscriptions failed", zap.Error(err))
		if api.IsAuth(err) {
			return c.check(err)
		}
		c.applyConnectionState(realtime.StateDisconnected)
	}
	return nil
}

// Select opens a conversation and marks it read on the server.
func (c *Controller) Select(ctx context.Context, id int64) error {
	c.channels.SetForeground(id)
	err := c.engine.Select(ctx, id)
	if errors.Is(err, intsync.ErrSuperseded) {
		return nil
	}
	if err != nil {
		return c.check(err)
	}
	if err := c.api.MarkRead(ctx, id); err != nil {
		c.logger.Warn("mark read failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
	return nil
}

// Close leaves the active conversation.
func (c *Controller) Close() {
	c.channels.SetForeground(0)
	c.engine.Deselect()
}

// Send sends text to the active conversation.
func (c *Controller) Send(ctx context.Context, text string) error {
	_, err := c.engine.Send(ctx, text)
	return c.check(err)
}

// SendTo sends text to any conversation without opening it.
func (c *Controller) SendTo(ctx context.Context, conversationID int64, text string) (*api.Message, error) {
	msg, err := c.engine.SendTo(ctx, conversationID, "", api.TextMessage(text))
	return msg, c.check(err)
}

// Retry sends a failed outbox entry again under its original client id.
func (c *Controller) Retry(ctx context.Context, clientID string) error {
	e, err := c.outbox.Retryable(clientID)
	if err != nil {
		return err
	}
	_, err = c.engine.SendTo(ctx, e.ConversationID, e.ClientMsgID, outbox.Request(e))
	return c.check(err)
}

// RetryLast retries the most recent failed send of the active conversation.
func (c *Controller) RetryLast(ctx context.Context) error {
	failed, err := c.FailedSends(c.engine.ActiveID())
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return errors.New("nothing to retry")
	}
	return c.Retry(ctx, failed[len(failed)-1].ClientMsgID)
}

// Discard drops a failed send.
func (c *Controller) Discard(clientID string) error {
	return c.outbox.Discard(clientID)
}

// FailedSends lists failed sends, oldest first, for one conversation or for
// all when conversationID is zero.
func (c *Controller) FailedSends(conversationID int64) ([]store.OutboxEntry, error) {
	all, err := c.outbox.Failed()
	if err != nil {
		return nil, err
	}
	if conversationID == 0 {
		return all, nil
	}
	var out []store.OutboxEntry
	for _, e := range all {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Outbox lists outbox entries with the given status, or all of them.
func (c *Controller) Outbox(statusFilter string) ([]store.OutboxEntry, error) {
	return c.outbox.List(statusFilter)
}

// CreateConversation starts a conversation and reloads the list.
func (c *Controller) CreateConversation(ctx context.Context, userIDs []int64, name string, isGroup bool) (*api.Conversation, error) {
	conv, err := c.api.CreateConversation(ctx, userIDs, name, isGroup)
	if err != nil {
		return nil, c.check(err)
	}
	if err := c.LoadConversations(ctx); err != nil {
		return conv, err
	}
	return conv, nil
}

// SearchUsers finds users by name or email.
func (c *Controller) SearchUsers(ctx context.Context, query string) ([]api.User, error) {
	users, err := c.api.SearchUsers(ctx, query)
	return users, c.check(err)
}

// AddParticipant adds a user to a conversation.
func (c *Controller) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	if err := c.api.AddParticipant(ctx, conversationID, userID); err != nil {
		return c.check(err)
	}
	return c.LoadConversations(ctx)
}

// Leave leaves a conversation.
func (c *Controller) Leave(ctx context.Context, conversationID int64) error {
	if err := c.api.Leave(ctx, conversationID); err != nil {
		return c.check(err)
	}
	return c.dropped(ctx, conversationID)
}

// Delete deletes a conversation.
func (c *Controller) Delete(ctx context.Context, conversationID int64) error {
	if err := c.api.Delete(ctx, conversationID); err != nil {
		return c.check(err)
	}
	return c.dropped(ctx, conversationID)
}

func (c *Controller) dropped(ctx context.Context, conversationID int64) error {
	if c.engine.ActiveID() == conversationID {
		c.Close()
	}
	return c.LoadConversations(ctx)
}

// UpdateProfile edits the current user's details. The backend has no update
// endpoint, so the change is kept in the local session only.
func (c *Controller) UpdateProfile(name, phone, statusText string) error {
	cur := c.session.User()
	if cur == nil {
		return api.ErrNoToken
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("name is required")
	}
	u := *cur
	u.Name = strings.TrimSpace(name)
	u.Phone = strings.TrimSpace(phone)
	u.Status = strings.TrimSpace(statusText)
	if err := c.session.SetUser(&u); err != nil {
		return err
	}
	c.engine.SetUser(&u)
	return nil
}

// Snapshot returns the latest engine snapshot.
func (c *Controller) Snapshot() intsync.Snapshot { return c.engine.Snapshot() }

// Stats returns the engine counters.
func (c *Controller) Stats() intsync.Stats { return c.engine.Stats() }

// User returns the logged in user, or nil.
func (c *Controller) User() *api.User { return c.session.User() }

// Status returns the current lifecycle state.
func (c *Controller) Status() status.State { return c.machine.Current() }

// Topics returns the realtime subscriptions.
func (c *Controller) Topics() []string { return c.channels.Topics() }

// Bus exposes the event bus to the view layer.
func (c *Controller) Bus() *bus.Bus { return c.bus }

func (c *Controller) transition(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
}
