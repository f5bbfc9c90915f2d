package api

import (
	"fmt"
	"time"
)

// User is an account on the chat backend.
type User struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	Avatar          *string    `json:"avatar"`
	Phone           string     `json:"phone"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Message types accepted by the backend.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeFile  = "file"
	TypeVideo = "video"
	TypeAudio = "audio"
)

// Message is a single chat message. User is the author when the backend
// embeds it, which it does for message lists and broadcasts.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	UserID         int64     `json:"user_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	FilePath       *string   `json:"file_path"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	User           *User     `json:"user,omitempty"`
}

// AuthorName returns the embedded author's name, or a placeholder.
func (m *Message) AuthorName() string {
	if m.User != nil && m.User.Name != "" {
		return m.User.Name
	}
	return fmt.Sprintf("user %d", m.UserID)
}

// Conversation is a direct or group chat as listed for the current user.
type Conversation struct {
	ID            int64     `json:"id"`
	Name          *string   `json:"name"`
	IsGroup       bool      `json:"is_group"`
	Avatar        *string   `json:"avatar"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	UnreadCount   int       `json:"unread_count"`
	Participants  []User    `json:"participants"`
	LatestMessage *Message  `json:"latest_message"`
}

// DisplayName is the conversation's own name when set. Otherwise a direct
// chat is named after the other participant, and a group after its size.
func (c *Conversation) DisplayName(currentUserID int64) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	if c.IsGroup {
		return fmt.Sprintf("Group (%d)", len(c.Participants))
	}
	for _, p := range c.Participants {
		if p.ID != currentUserID {
			return p.Name
		}
	}
	return fmt.Sprintf("Conversation %d", c.ID)
}

// Peer returns the other participant of a direct chat.
func (c *Conversation) Peer(currentUserID int64) *User {
	for i := range c.Participants {
		if c.Participants[i].ID != currentUserID {
			return &c.Participants[i]
		}
	}
	return nil
}

// SendMessageRequest is the body of POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content  string  `json:"content"`
	Type     string  `json:"type"`
	FilePath *string `json:"file_path"`
}

// TextMessage builds a plain text send request.
func TextMessage(content string) SendMessageRequest {
	return SendMessageRequest{Content: content, Type: TypeText}
}

// LoginResult is the body of a successful POST /api/login.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	User        *User  `json:"user"`
}

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	UserIDs []int64 `json:"user_ids"`
	Name    string  `json:"name"`
	IsGroup bool    `json:"is_group"`
}
