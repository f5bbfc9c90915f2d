package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TokenSource supplies the bearer token at call time.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// DefaultTimeout bounds every request unless overridden.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept for the error text.
const maxErrorBody = 512

// Client talks to the chat backend's JSON API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLogger attaches a logger for request failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges credentials for a bearer token. The token is not stored;
// callers hand it to the session store.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.doJSON(ctx, "login", http.MethodPost, "/api/login", map[string]string{
		"email":    email,
		"password": password,
	}, &res, false)

	var re *RequestError
	if errors.As(err, &re) && (re.Status == http.StatusUnauthorized || re.Status == http.StatusUnprocessableEntity) {
		return nil, &AuthError{Status: re.Status, Message: errorMessage(re.Body)}
	}
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, &AuthError{Status: http.StatusOK, Message: "no access token in response"}
	}
	return &res, nil
}

// Ping checks that the current token is still accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.doJSON(ctx, "ping", http.MethodGet, "/api/ping", nil, nil, true)
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var u User
	if err := c.doJSON(ctx, "profile", http.MethodGet, "/api/profile", nil, &u, true); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListConversations returns the current user's conversations in server order.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := c.doJSON(ctx, "list conversations", http.MethodGet, "/api/conversations", nil, &convs, true); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListMessages returns a conversation's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	var msgs []Message
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if err := c.doJSON(ctx, "list messages", http.MethodGet, path, nil, &msgs, true); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, req SendMessageRequest) (*Message, error) {
	if req.Type == "" {
		req.Type = TypeText
	}
	var m Message
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if err := c.doJSON(ctx, "send message", http.MethodPost, path, req, &m, true); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateConversation starts a direct or group conversation.
func (c *Client) CreateConversation(ctx context.Context, userIDs []int64, name string, isGroup bool) (*Conversation, error) {
	var conv Conversation
	body := CreateConversationRequest{UserIDs: userIDs, Name: name, IsGroup: isGroup}
	if err := c.doJSON(ctx, "create conversation", http.MethodPost, "/api/conversations", body, &conv, true); err != nil {
		return nil, err
	}
	return &conv, nil
}

// SearchUsers looks users up by name or email.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	path := "/api/users/search?" + url.Values{"query": {query}}.Encode()
	if err := c.doJSON(ctx, "search users", http.MethodGet, path, nil, &users, true); err != nil {
		return nil, err
	}
	return users, nil
}

// AddParticipant adds userID to a group conversation.
func (c *Client) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	path := fmt.Sprintf("/api/conversations/%d/add-user", conversationID)
	return c.doJSON(ctx, "add participant", http.MethodPost, path, map[string]int64{"userId": userID}, nil, true)
}

// Leave removes the current user from a conversation.
func (c *Client) Leave(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/conversations/%d/leave", conversationID)
	return c.doJSON(ctx, "leave conversation", http.MethodPost, path, nil, nil, true)
}

// Delete removes a conversation.
func (c *Client) Delete(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/conversations/%d", conversationID)
	return c.doJSON(ctx, "delete conversation", http.MethodDelete, path, nil, nil, true)
}

// MarkRead clears the unread counter of a conversation server-side.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	path := fmt.Sprintf("/api/conversations/%d/mark-read", conversationID)
	return c.doJSON(ctx, "mark read", http.MethodPost, path, nil, nil, true)
}

// AuthorizeChannel signs a private channel subscription for socketID.
func (c *Client) AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error) {
	token := c.tokens.Token()
	if token == "" {
		return "", &RequestError{Op: "authorize channel", Cause: ErrNoToken}
	}
	form := url.Values{"socket_id": {socketID}, "channel_name": {channel}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/broadcasting/auth", strings.NewReader(form.Encode()))
	if err != nil {
		return "", &RequestError{Op: "authorize channel", Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	var res struct {
		Auth string `json:"auth"`
	}
	if err := c.do(req, "authorize channel", &res); err != nil {
		return "", err
	}
	if res.Auth == "" {
		return "", &RequestError{Op: "authorize channel", Status: http.StatusOK, Cause: errors.New("empty auth signature")}
	}
	return res.Auth, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Cause: fmt.Errorf("encode body: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &RequestError{Op: op, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("api request failed", zap.String("op", op), zap.Error(err))
		return &RequestError{Op: op, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("api request rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.Duration("took", time.Since(start)),
		)
		return &RequestError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
			Cause:  errors.New(http.StatusText(resp.StatusCode)),
		}
	}

	c.logger.Debug("api request", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestError{Op: op, Status: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts Laravel's {"message": "..."} from an error body.
func errorMessage(body string) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	if len(body) > 80 {
		return body[:80] + "..."
	}
	return body
}

// ParseID parses a decimal conversation or user id.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
