package sync

import (
	"unicode/utf8"

	"github.com/matheus3301/chatterm/internal/api"
)

// PreviewLength is the number of runes kept in a conversation summary.
const PreviewLength = 30

// Item statuses.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// Item is one entry of the active message list. A pending item is a local
// send the server has not confirmed yet; it has no server id.
type Item struct {
	api.Message
	ClientID string
	Status   string
}

// Pending reports whether the item awaits server confirmation.
func (i Item) Pending() bool { return i.Status == StatusPending }

// Snapshot is an immutable view of the engine state. Slices are never
// shared with the engine.
type Snapshot struct {
	Generation    uint64
	ActiveID      int64
	Messages      []Item
	Conversations []api.Conversation
}

// Conversation returns the summary for id.
func (s Snapshot) Conversation(id int64) (api.Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return api.Conversation{}, false
}

// Active returns the summary of the active conversation.
func (s Snapshot) Active() (api.Conversation, bool) {
	if s.ActiveID == 0 {
		return api.Conversation{}, false
	}
	return s.Conversation(s.ActiveID)
}

// UnreadTotal sums unread counters across conversations.
func (s Snapshot) UnreadTotal() int {
	n := 0
	for _, c := range s.Conversations {
		n += c.UnreadCount
	}
	return n
}

// Stats are counters kept for diagnosis.
type Stats struct {
	Generation uint64
	Duplicates uint64
	StaleLoads uint64
}

// DuplicateIgnored is the payload of sync.duplicate_ignored.
type DuplicateIgnored struct {
	ConversationID int64
	MessageID      int64
}

// UnknownConversation is the payload of sync.unknown_conversation.
type UnknownConversation struct {
	ConversationID int64
	UnreadCount    int
}

// Preview shortens content for a conversation summary.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	return string([]rune(content)[:PreviewLength]) + "..."
}

func summaryOf(m api.Message) *api.Message {
	m.Content = Preview(m.Content)
	m.User = copyUser(m.User)
	return &m
}

func copyUser(u *api.User) *api.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
