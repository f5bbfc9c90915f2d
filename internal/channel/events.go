package channel

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatterm/internal/api"
)

// Event names as broadcast by the backend, after canonicalisation.
const (
	EventMessageNew  = "message.new"
	EventMessageSent = "message.sent"
)

// ConversationMessage is a message broadcast on a conversation topic.
type ConversationMessage struct {
	ConversationID int64
	Message        api.Message
}

// UserNotification is a new-message notice on the user's own topic.
type UserNotification struct {
	ConversationID int64
	UnreadCount    int
	Message        api.Message
}

type userNotificationWire struct {
	ConversationID int64        `json:"conversation_id"`
	UnreadCount    int          `json:"unread_count"`
	Message        *api.Message `json:"message"`
}

type conversationMessageWire struct {
	Message *api.Message `json:"message"`
}

func decodeUserNotification(data []byte) (UserNotification, error) {
	var w userNotificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return UserNotification{}, fmt.Errorf("decode %s: %w", EventMessageNew, err)
	}
	if w.Message == nil {
		return UserNotification{}, fmt.Errorf("decode %s: missing message", EventMessageNew)
	}
	convID := w.ConversationID
	if convID == 0 {
		convID = w.Message.ConversationID
	}
	return UserNotification{ConversationID: convID, UnreadCount: w.UnreadCount, Message: *w.Message}, nil
}

func decodeConversationMessage(conversationID int64, data []byte) (ConversationMessage, error) {
	var w conversationMessageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return ConversationMessage{}, fmt.Errorf("decode %s: %w", EventMessageSent, err)
	}
	if w.Message == nil {
		return ConversationMessage{}, fmt.Errorf("decode %s: missing message", EventMessageSent)
	}
	return ConversationMessage{ConversationID: conversationID, Message: *w.Message}, nil
}
