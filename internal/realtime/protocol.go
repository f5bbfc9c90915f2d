package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol-level event names.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionError     = "pusher:subscription_error"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	internalPrefix             = "pusher_internal:"
	protocolPrefix             = "pusher:"
)

// ProtocolVersion is the Pusher wire protocol this client speaks.
const ProtocolVersion = 7

// envelope is every frame in either direction.
type envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type errorData struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type subscriptionErrorData struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

// payload returns the frame's data as raw JSON. Servers send application
// event data as a JSON-encoded string, so one level of string quoting is
// removed when present.
func (e *envelope) payload() []byte {
	raw := bytes.TrimSpace(e.Data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

func (e *envelope) decode(v any) error {
	if err := json.Unmarshal(e.payload(), v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return nil
}

// CanonicalEvent strips the single leading "." Laravel uses for events
// broadcast with a custom name.
func CanonicalEvent(name string) string {
	return strings.TrimPrefix(name, ".")
}

// requiresAuth reports whether a channel needs a signed subscription.
func requiresAuth(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}

// ChannelError is a server-reported failure. Channel is empty for
// connection-level errors.
type ChannelError struct {
	Channel string
	Code    int
	Message string
	Cause   error
}

func (e *ChannelError) Error() string {
	switch {
	case e.Channel != "" && e.Cause != nil:
		return fmt.Sprintf("channel %s: %v", e.Channel, e.Cause)
	case e.Channel != "":
		return fmt.Sprintf("channel %s: %s (%d)", e.Channel, e.Message, e.Code)
	default:
		return fmt.Sprintf("pusher error %d: %s", e.Code, e.Message)
	}
}

func (e *ChannelError) Unwrap() error { return e.Cause }

// Fatal reports whether the server asked the client not to reconnect.
func (e *ChannelError) Fatal() bool {
	return e.Channel == "" && e.Code >= 4000 && e.Code < 4100
}
