package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds shared across packages.
const (
	KindSessionChanged = "session.changed"

	KindStatusChanged = "status.changed"

	KindChannelState = "channel.state"
	KindChannelError = "channel.error"
	KindChannelFault = "channel.fault"

	KindConversationMessage = "rt.conversation_message"
	KindUserNotification    = "rt.user_notification"

	KindSnapshot            = "sync.snapshot"
	KindDuplicateIgnored    = "sync.duplicate_ignored"
	KindUnknownConversation = "sync.unknown_conversation"

	KindSendAck    = "message.send_ack"
	KindSendFailed = "message.send_failed"
)

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
