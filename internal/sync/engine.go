// Package sync reconciles fetched, pushed and locally sent messages into
// one de-duplicated view of the active conversation and the conversation list.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/channel"
)

var (
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrEmptyMessage         = errors.New("message is empty")
	// ErrSuperseded is returned by Select when a newer selection started
	// before its fetch completed. The result was discarded.
	ErrSuperseded = errors.New("selection superseded")
)

// Fetcher loads a conversation's messages, oldest first.
type Fetcher interface {
	ListMessages(ctx context.Context, conversationID int64) ([]api.Message, error)
}

// Sender delivers a local message and returns the server's copy.
type Sender interface {
	Send(ctx context.Context, clientID string, conversationID int64, req api.SendMessageRequest) (*api.Message, error)
}

// Engine owns the active message list and the conversation summaries.
// All mutations happen under one mutex; network calls never do.
type Engine struct {
	fetch  Fetcher
	send   Sender
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu       gosync.Mutex
	gen      uint64
	activeID int64
	items    []Item
	seen     map[int64]struct{}
	convs    map[int64]api.Conversation
	order    []int64
	self     *api.User
	stats    Stats
	snap     Snapshot

	// loadingID is the conversation whose fetch is in flight; messages
	// pushed for it meanwhile wait in early until the fetch is applied.
	loadingID int64
	early     []api.Message
}

// NewEngine creates an empty engine.
func NewEngine(fetch Fetcher, send Sender, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetch:  fetch,
		send:   send,
		bus:    b,
		logger: logger.Named("sync"),
		seen:   make(map[int64]struct{}),
		convs:  make(map[int64]api.Conversation),
	}
}

// Start consumes realtime events from the bus until Stop or ctx ends.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.bus.Consume(ctx, "rt.", 256, e.handleEvent)
}

// Stop stops consuming events.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case channel.ConversationMessage:
		e.HandleConversationMessage(p)
	case channel.UserNotification:
		e.HandleUserNotification(p)
	default:
		e.logger.Debug("ignoring event", zap.String("kind", evt.Kind))
	}
}

// SetUser records the current user, used as the author of pending items.
func (e *Engine) SetUser(u *api.User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.self = copyUser(u)
}

// SetConversations replaces the conversation list, keeping server order.
// The active conversation keeps an unread count of zero.
func (e *Engine) SetConversations(convs []api.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.convs = make(map[int64]api.Conversation, len(convs))
	e.order = e.order[:0]
	for _, c := range convs {
		if _, dup := e.convs[c.ID]; dup {
			continue
		}
		if c.LatestMessage != nil {
			c.LatestMessage = summaryOf(*c.LatestMessage)
		}
		if c.ID == e.activeID {
			c.UnreadCount = 0
		}
		e.convs[c.ID] = c
		e.order = append(e.order, c.ID)
	}
	e.publishLocked()
}

// Select makes id the active conversation. Its unread count is reset at
// once; the message list is replaced only when the fetch succeeds and no
// newer selection has started meanwhile. Messages pushed for id during the
// fetch are appended after the fetched ones. On failure the previous active
// conversation and its messages stay in place.
func (e *Engine) Select(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("select conversation %d: invalid id", id)
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.loadingID = id
	e.early = nil
	e.setUnreadLocked(id, 0)
	e.publishLocked()
	e.mu.Unlock()

	msgs, err := e.fetch.ListMessages(ctx, id)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen {
		e.stats.StaleLoads++
		e.logger.Info("discarding stale load",
			zap.Int64("conversation_id", id),
			zap.Uint64("generation", gen),
			zap.Uint64("current", e.gen))
		return ErrSuperseded
	}
	early := e.early
	e.loadingID = 0
	e.early = nil
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", id, err)
	}
	if len(msgs) == 0 && id == e.activeID && len(e.items) > 0 {
		e.logger.Warn("ignoring empty load for active conversation",
			zap.Int64("conversation_id", id), zap.Int("held", len(e.items)))
		return nil
	}

	e.activeID = id
	e.items = make([]Item, 0, len(msgs))
	e.seen = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		e.appendLocked(m)
	}
	for _, m := range early {
		e.appendLocked(m)
	}
	// A notification may have raised it while the fetch was in flight.
	e.setUnreadLocked(id, 0)
	e.publishLocked()
	e.logger.Debug("conversation loaded", zap.Int64("conversation_id", id), zap.Int("messages", len(e.items)))
	return nil
}

// ActiveID returns the active conversation, or zero.
func (e *Engine) ActiveID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

// Send sends content to the active conversation.
func (e *Engine) Send(ctx context.Context, content string) (*api.Message, error) {
	e.mu.Lock()
	active := e.activeID
	e.mu.Unlock()
	if active == 0 {
		return nil, ErrNoActiveConversation
	}
	return e.SendTo(ctx, active, uuid.NewString(), api.TextMessage(content))
}

// SendTo sends req to a conversation under the given client id. When the
// conversation is active a pending item is shown until the server answers.
// It is replaced by the confirmed message on success, or dropped if the
// echo already delivered it, and removed again on failure.
func (e *Engine) SendTo(ctx context.Context, conversationID int64, clientID string, req api.SendMessageRequest) (*api.Message, error) {
	if strings.TrimSpace(req.Content) == "" && req.FilePath == nil {
		return nil, ErrEmptyMessage
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	e.mu.Lock()
	if conversationID == e.activeID {
		pending := Item{
			Message: api.Message{
				ConversationID: conversationID,
				Content:        req.Content,
				Type:           req.Type,
				FilePath:       req.FilePath,
				CreatedAt:      time.Now(),
				User:           copyUser(e.self),
			},
			ClientID: clientID,
			Status:   StatusPending,
		}
		if e.self != nil {
			pending.UserID = e.self.ID
		}
		e.items = append(e.items, pending)
		e.publishLocked()
	}
	e.mu.Unlock()

	msg, err := e.send.Send(ctx, clientID, conversationID, req)

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.pendingIndexLocked(clientID)
	if err != nil {
		if idx >= 0 {
			e.items = append(e.items[:idx], e.items[idx+1:]...)
			e.publishLocked()
		}
		return nil, err
	}

	if conversationID == e.activeID {
		confirmed := Item{Message: *msg, ClientID: clientID, Status: StatusSent}
		_, echoed := e.seen[msg.ID]
		switch {
		case echoed:
			if idx >= 0 {
				e.items = append(e.items[:idx], e.items[idx+1:]...)
			}
		case idx >= 0:
			e.items[idx] = confirmed
			e.seen[msg.ID] = struct{}{}
		default:
			// The list was reloaded while sending.
			e.items = append(e.items, confirmed)
			e.seen[msg.ID] = struct{}{}
		}
	}
	e.setLatestLocked(conversationID, *msg)
	e.publishLocked()
	return msg, nil
}

// HandleConversationMessage applies a message pushed on a conversation topic.
// The summary is always updated; the message list only for the active one.
func (e *Engine) HandleConversationMessage(ev channel.ConversationMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setLatestLocked(ev.ConversationID, ev.Message)
	if ev.ConversationID == e.activeID {
		e.appendLocked(ev.Message)
	}
	e.holdLocked(ev.ConversationID, ev.Message)
	e.publishLocked()
}

// HandleUserNotification applies a notice from the user topic. The active
// conversation stays at zero unread and gets the message appended. Others
// take the server's unread count. An unknown conversation is reported so
// the list can be refetched.
func (e *Engine) HandleUserNotification(n channel.UserNotification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.convs[n.ConversationID]; !ok {
		e.logger.Info("notification for unknown conversation", zap.Int64("conversation_id", n.ConversationID))
		e.publish(bus.KindUnknownConversation, UnknownConversation{
			ConversationID: n.ConversationID,
			UnreadCount:    n.UnreadCount,
		})
	}

	if n.ConversationID == e.activeID {
		e.setUnreadLocked(n.ConversationID, 0)
		e.appendLocked(n.Message)
	} else {
		e.setUnreadLocked(n.ConversationID, n.UnreadCount)
	}
	e.holdLocked(n.ConversationID, n.Message)
	e.setLatestLocked(n.ConversationID, n.Message)
	e.publishLocked()
}

// Deselect clears the active conversation, keeping the summaries.
func (e *Engine) Deselect() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	e.activeID = 0
	e.loadingID = 0
	e.early = nil
	e.items = nil
	e.seen = make(map[int64]struct{})
	e.publishLocked()
}

// Reset drops all state, as on logout. In-flight loads are discarded.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	e.activeID = 0
	e.loadingID = 0
	e.early = nil
	e.items = nil
	e.seen = make(map[int64]struct{})
	e.convs = make(map[int64]api.Conversation)
	e.order = nil
	e.self = nil
	e.publishLocked()
}

// Snapshot returns the latest published snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Stats returns the diagnostic counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.Generation = e.gen
	return s
}

// appendLocked adds m to the active list unless its id was already seen.
func (e *Engine) appendLocked(m api.Message) bool {
	if _, ok := e.seen[m.ID]; ok {
		e.stats.Duplicates++
		e.logger.Debug("duplicate message ignored",
			zap.Int64("conversation_id", m.ConversationID), zap.Int64("msg_id", m.ID))
		e.publish(bus.KindDuplicateIgnored, DuplicateIgnored{ConversationID: m.ConversationID, MessageID: m.ID})
		return false
	}
	e.seen[m.ID] = struct{}{}
	e.items = append(e.items, Item{Message: m, Status: StatusSent})
	return true
}

// holdLocked keeps m for the conversation being loaded.
func (e *Engine) holdLocked(conversationID int64, m api.Message) {
	if conversationID != 0 && conversationID == e.loadingID {
		e.early = append(e.early, m)
	}
}

func (e *Engine) pendingIndexLocked(clientID string) int {
	for i, it := range e.items {
		if it.Pending() && it.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (e *Engine) setUnreadLocked(id int64, n int) {
	c, ok := e.convs[id]
	if !ok {
		return
	}
	c.UnreadCount = n
	e.convs[id] = c
}

func (e *Engine) setLatestLocked(id int64, m api.Message) {
	c, ok := e.convs[id]
	if !ok {
		return
	}
	c.LatestMessage = summaryOf(m)
	e.convs[id] = c
}

// publishLocked rebuilds the snapshot from copies and publishes it.
func (e *Engine) publishLocked() {
	snap := Snapshot{
		Generation:    e.gen,
		ActiveID:      e.activeID,
		Messages:      make([]Item, len(e.items)),
		Conversations: make([]api.Conversation, 0, len(e.order)),
	}
	copy(snap.Messages, e.items)
	for _, id := range e.order {
		snap.Conversations = append(snap.Conversations, e.convs[id])
	}
	e.snap = snap
	e.publish(bus.KindSnapshot, snap)
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus != nil {
		e.bus.Publish(bus.NewEvent(kind, payload))
	}
}
