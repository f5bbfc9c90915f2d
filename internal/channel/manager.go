// Package channel keeps the realtime subscriptions in line with the
// session and the conversation list, and turns broadcasts into bus events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/realtime"
)

const privatePrefix = "private-"

// UserTopic is the topic carrying notifications for a user.
func UserTopic(userID int64) string { return fmt.Sprintf("user.%d", userID) }

// ConversationTopic is the topic carrying messages for a conversation.
func ConversationTopic(conversationID int64) string {
	return fmt.Sprintf("conversation.%d", conversationID)
}

// Options tune the manager.
type Options struct {
	// PrivateChannels prefixes every topic with "private-" on the wire.
	PrivateChannels bool
}

// Manager owns the single realtime connection and its subscriptions.
type Manager struct {
	dial   Dialer
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	mu     sync.Mutex
	conn   Conn
	token  string
	userID int64
	topics map[string]bool // wire names

	fgMu       sync.RWMutex
	foreground string

	// healthMu is never held while calling into the connection.
	healthMu sync.Mutex
	state    realtime.State
	failed   map[string]bool // wire names rejected since the last Reconcile
	degraded bool
}

// NewManager creates a manager with no connection.
func NewManager(dial Dialer, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		dial:   dial,
		bus:    b,
		logger: logger.Named("channels"),
		opts:   opts,
		topics: make(map[string]bool),
		failed: make(map[string]bool),
	}
}

// Reconcile brings the subscriptions in line with the given session and
// conversations. Without a token or user everything is torn down. A new
// token or user recreates the connection. Otherwise only the difference
// between the wanted and current topics is applied, and topics rejected
// since the previous call are subscribed again. Group conversations are not
// subscribed.
func (m *Manager) Reconcile(ctx context.Context, token string, user *api.User, convs []api.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" || user == nil {
		m.teardownLocked()
		return nil
	}
	if m.conn != nil && (m.token != token || m.userID != user.ID) {
		m.logger.Info("session changed, recreating realtime connection")
		m.teardownLocked()
	}
	if m.conn == nil {
		m.conn = m.dial(Hooks{OnState: m.onState, OnError: m.onError})
		m.token = token
		m.userID = user.ID
		m.conn.Start()
	}

	want := map[string]bool{m.wire(UserTopic(user.ID)): true}
	for _, c := range convs {
		if c.IsGroup {
			continue
		}
		want[m.wire(ConversationTopic(c.ID))] = true
	}

	for topic := range m.topics {
		if want[topic] {
			continue
		}
		if err := m.conn.Unsubscribe(topic); err != nil {
			m.logger.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
		delete(m.topics, topic)
	}
	for _, topic := range m.takeFailed() {
		delete(m.topics, topic)
	}

	var errs []error
	for _, topic := range sortedKeys(want) {
		if m.topics[topic] {
			continue
		}
		if err := m.listen(ctx, topic); err != nil {
			m.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.topics[topic] = true
	}
	if len(errs) > 0 {
		m.setDegraded()
		return errors.Join(errs...)
	}
	m.recovered()
	return nil
}

func (m *Manager) takeFailed() []string {
	m.healthMu.Lock()
	defer m.healthMu.Unlock()
	topics := sortedKeys(m.failed)
	clear(m.failed)
	return topics
}

func (m *Manager) setDegraded() {
	m.healthMu.Lock()
	m.degraded = true
	m.healthMu.Unlock()
}

// recovered republishes the connected state once every subscription has
// been accepted again after a failure.
func (m *Manager) recovered() {
	m.healthMu.Lock()
	restore := m.degraded && m.state == realtime.StateConnected
	m.degraded = false
	m.healthMu.Unlock()
	if restore {
		m.logger.Info("subscriptions restored")
		m.publish(bus.KindChannelState, realtime.StateConnected)
	}
}

func (m *Manager) listen(ctx context.Context, topic string) error {
	bare := strings.TrimPrefix(topic, privatePrefix)
	switch {
	case strings.HasPrefix(bare, "user."):
		return m.conn.Listen(ctx, topic, EventMessageNew, m.handleUserNotification)
	case strings.HasPrefix(bare, "conversation."):
		id, err := strconv.ParseInt(strings.TrimPrefix(bare, "conversation."), 10, 64)
		if err != nil {
			return fmt.Errorf("topic %s: %w", topic, err)
		}
		return m.conn.Listen(ctx, topic, EventMessageSent, func(data []byte) {
			m.handleConversationMessage(id, data)
		})
	default:
		return fmt.Errorf("unknown topic %s", topic)
	}
}

func (m *Manager) handleUserNotification(data []byte) {
	n, err := decodeUserNotification(data)
	if err != nil {
		m.logger.Warn("dropping malformed notification", zap.Error(err))
		return
	}
	m.publish(bus.KindUserNotification, n)
}

func (m *Manager) handleConversationMessage(conversationID int64, data []byte) {
	msg, err := decodeConversationMessage(conversationID, data)
	if err != nil {
		m.logger.Warn("dropping malformed message", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return
	}
	m.publish(bus.KindConversationMessage, msg)
}

// SetForeground marks the conversation whose subscription errors should
// reach the user. Zero clears it.
func (m *Manager) SetForeground(conversationID int64) {
	m.fgMu.Lock()
	defer m.fgMu.Unlock()
	if conversationID == 0 {
		m.foreground = ""
		return
	}
	m.foreground = m.wire(ConversationTopic(conversationID))
}

func (m *Manager) onState(s realtime.State) {
	m.healthMu.Lock()
	m.state = s
	if s == realtime.StateConnected {
		m.degraded = false
	}
	m.healthMu.Unlock()
	m.logger.Debug("realtime state", zap.String("state", string(s)))
	m.publish(bus.KindChannelState, s)
}

// onError publishes connection-level errors, errors on the foreground
// conversation and authorization failures as channel.error. Other
// subscription failures go out as channel.fault. A rejected topic is
// subscribed again by the next Reconcile.
func (m *Manager) onError(err error) {
	var ce *realtime.ChannelError
	surface := true
	if errors.As(err, &ce) {
		m.healthMu.Lock()
		m.degraded = true
		if ce.Channel != "" {
			m.failed[ce.Channel] = true
		}
		m.healthMu.Unlock()
		if ce.Channel != "" && !api.IsAuth(err) {
			m.fgMu.RLock()
			surface = ce.Channel == m.foreground
			m.fgMu.RUnlock()
		}
	}
	if !surface {
		m.logger.Warn("background channel error", zap.Error(err))
		m.publish(bus.KindChannelFault, err)
		return
	}
	m.logger.Error("channel error", zap.Error(err))
	m.publish(bus.KindChannelError, err)
}

// Teardown unsubscribes everything and closes the connection.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	if m.conn == nil {
		return
	}
	for topic := range m.topics {
		if err := m.conn.Unsubscribe(topic); err != nil {
			m.logger.Debug("unsubscribe on teardown failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("close realtime connection", zap.Error(err))
	}
	m.conn = nil
	m.token = ""
	m.userID = 0
	m.topics = make(map[string]bool)

	m.healthMu.Lock()
	m.state = ""
	m.degraded = false
	clear(m.failed)
	m.healthMu.Unlock()
}

// Topics returns the wire names of the current subscriptions, sorted.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.topics)
}

// Connected reports whether a connection object exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) wire(topic string) string {
	if m.opts.PrivateChannels {
		return privatePrefix + topic
	}
	return topic
}

func (m *Manager) publish(kind string, payload any) {
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(kind, payload))
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
