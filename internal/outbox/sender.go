package outbox

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/store"
)

// InterruptedReason is recorded on rows a previous process left in flight.
const InterruptedReason = "interrupted before the server confirmed"

// MessageSender posts a message to the backend.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID int64, req api.SendMessageRequest) (*api.Message, error)
}

// SendAck is the payload of message.send_ack.
type SendAck struct {
	ClientMsgID    string
	ConversationID int64
	Message        api.Message
}

// SendFailed is the payload of message.send_failed.
type SendFailed struct {
	ClientMsgID    string
	ConversationID int64
	Err            error
}

// Sender performs sends and keeps a durable record of each attempt.
type Sender struct {
	db     *store.DB
	api    MessageSender
	bus    *bus.Bus
	logger *zap.Logger
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		api:    sender,
		bus:    b,
		logger: logger.Named("outbox"),
	}
}

// Send records clientID as queued, posts the message and records the outcome.
// Bookkeeping failures are logged; only the API result decides the return value.
func (s *Sender) Send(ctx context.Context, clientID string, conversationID int64, req api.SendMessageRequest) (*api.Message, error) {
	entry := &store.OutboxEntry{
		ClientMsgID:    clientID,
		ConversationID: conversationID,
		Content:        req.Content,
		Type:           req.Type,
	}
	if req.FilePath != nil {
		entry.FilePath = *req.FilePath
	}
	if err := s.db.QueueOutbox(entry); err != nil {
		s.logger.Error("failed to queue outbox entry", zap.Error(err), zap.String("client_msg_id", clientID))
	}
	if err := s.db.MarkOutboxSending(clientID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", clientID))
	}

	msg, err := s.api.SendMessage(ctx, conversationID, req)
	if err != nil {
		s.logger.Warn("send failed", zap.Error(err), zap.String("client_msg_id", clientID), zap.Int64("conversation_id", conversationID))
		if markErr := s.db.MarkOutboxFailed(clientID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark failed", zap.Error(markErr), zap.String("client_msg_id", clientID))
		}
		s.publish(bus.KindSendFailed, SendFailed{ClientMsgID: clientID, ConversationID: conversationID, Err: err})
		return nil, err
	}

	if err := s.db.MarkOutboxSent(clientID, msg.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", clientID))
	}
	s.logger.Info("message sent", zap.String("client_msg_id", clientID), zap.Int64("server_msg_id", msg.ID))
	s.publish(bus.KindSendAck, SendAck{ClientMsgID: clientID, ConversationID: conversationID, Message: *msg})
	return msg, nil
}

// Request rebuilds the send request of a recorded entry.
func Request(e *store.OutboxEntry) api.SendMessageRequest {
	req := api.SendMessageRequest{Content: e.Content, Type: e.Type}
	if e.FilePath != "" {
		fp := e.FilePath
		req.FilePath = &fp
	}
	return req
}

// Get returns the entry for clientID.
func (s *Sender) Get(clientID string) (*store.OutboxEntry, error) {
	return s.db.GetOutbox(clientID)
}

// Retryable returns the entry for clientID if it may be sent again.
func (s *Sender) Retryable(clientID string) (*store.OutboxEntry, error) {
	e, err := s.db.GetOutbox(clientID)
	if err != nil {
		return nil, err
	}
	if e.Status != store.OutboxFailed {
		return nil, fmt.Errorf("message %s is %s, only failed messages can be retried", clientID, e.Status)
	}
	return e, nil
}

// Failed lists entries awaiting a manual retry.
func (s *Sender) Failed() ([]store.OutboxEntry, error) {
	return s.db.FailedOutbox()
}

// List returns every entry with the given status, or all when status is empty.
func (s *Sender) List(status string) ([]store.OutboxEntry, error) {
	return s.db.ListOutbox(status)
}

// Discard forgets a failed entry.
func (s *Sender) Discard(clientID string) error {
	err := s.db.DeleteOutbox(clientID)
	if errors.Is(err, store.ErrOutboxNotFound) {
		return fmt.Errorf("discard %s: %w", clientID, err)
	}
	return err
}

// RecoverInterrupted marks sends a previous run never finished as failed,
// so they show up for retry instead of silently vanishing.
func (s *Sender) RecoverInterrupted() (int64, error) {
	n, err := s.db.RecoverInterruptedOutbox(InterruptedReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("recovered interrupted sends", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus != nil {
		s.bus.Publish(bus.NewEvent(kind, payload))
	}
}
