package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	auth        string
	contentType string
	body        map[string]any
}

func newBackend(t *testing.T, rec *recorded) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	capture := func(req *http.Request) {
		rec.auth = req.Header.Get("Authorization")
		rec.contentType = req.Header.Get("Content-Type")
		rec.body = nil
		if req.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(req.Body).Decode(&rec.body)
		}
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	r.Post("/api/login", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		if rec.body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "1|tok",
			"user":         map[string]any{"id": 1, "name": "Ana", "email": "ana@example.com"},
		})
	})
	r.Get("/api/ping", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		if req.Header.Get("Authorization") != "Bearer 1|tok" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	})
	r.Get("/api/conversations", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 10, "name": nil, "is_group": false, "unread_count": 2,
				"participants": []map[string]any{{"id": 1, "name": "Ana"}, {"id": 2, "name": "Bruno"}},
				"latest_message": map[string]any{"id": 5, "conversation_id": 10, "content": "hi", "type": "text",
					"created_at": "2024-05-01T10:00:00.000000Z"}},
		})
	})
	r.Get("/api/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		if chi.URLParam(req, "id") == "404" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": 1, "conversation_id": 10, "user_id": 2, "content": "a", "type": "text", "user": map[string]any{"id": 2, "name": "Bruno"}},
			{"id": 2, "conversation_id": 10, "user_id": 1, "content": "b", "type": "text"},
		})
	})
	r.Post("/api/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 77, "conversation_id": 10, "user_id": 1, "content": rec.body["content"], "type": rec.body["type"]})
	})
	r.Post("/api/conversations", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 11, "is_group": rec.body["is_group"], "name": rec.body["name"]})
	})
	r.Get("/api/users/search", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		writeJSON(w, http.StatusOK, []map[string]any{{"id": 3, "name": req.URL.Query().Get("query")}})
	})
	r.Post("/api/conversations/{id}/add-user", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/conversations/{id}/mark-read", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/conversations/{id}/leave", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		writeJSON(w, 419, map[string]string{"message": "CSRF token mismatch."})
	})
	r.Delete("/api/conversations/{id}", func(w http.ResponseWriter, req *http.Request) {
		capture(req)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/broadcasting/auth", func(w http.ResponseWriter, req *http.Request) {
		rec.auth = req.Header.Get("Authorization")
		rec.contentType = req.Header.Get("Content-Type")
		_ = req.ParseForm()
		writeJSON(w, http.StatusOK, map[string]string{"auth": "key:" + req.PostForm.Get("socket_id") + ":" + req.PostForm.Get("channel_name")})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLogin(t *testing.T) {
	rec := &recorded{}
	srv := newBackend(t, rec)
	c := NewClient(srv.URL, StaticToken(""))

	res, err := c.Login(context.Background(), "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "1|tok", res.AccessToken)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(1), res.User.ID)
	assert.Equal(t, "application/json", rec.contentType)
	assert.Empty(t, rec.auth, "login must not send a bearer token")
}

func TestLoginRejected(t *testing.T) {
	srv := newBackend(t, &recorded{})
	c := NewClient(srv.URL, nil)

	_, err := c.Login(context.Background(), "ana@example.com", "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Contains(t, authErr.Error(), "Invalid credentials")
}

func TestAuthorizationHeaderOnlyWithToken(t *testing.T) {
	rec := &recorded{}
	srv := newBackend(t, rec)

	err := NewClient(srv.URL, StaticToken("")).Ping(context.Background())
	assert.Empty(t, rec.auth)
	assert.True(t, IsAuth(err), "ping without token should be an auth error, got %v", err)

	err = NewClient(srv.URL, StaticToken("1|tok")).Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer 1|tok", rec.auth)
}

func TestListConversations(t *testing.T) {
	srv := newBackend(t, &recorded{})
	c := NewClient(srv.URL, StaticToken("1|tok"))

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	conv := convs[0]
	assert.Equal(t, "Bruno", conv.DisplayName(1))
	assert.Equal(t, 2, conv.UnreadCount)
	require.NotNil(t, conv.LatestMessage)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), conv.LatestMessage.CreatedAt.UTC())
}

func TestListMessages(t *testing.T) {
	srv := newBackend(t, &recorded{})
	c := NewClient(srv.URL, StaticToken("1|tok"))

	msgs, err := c.ListMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bruno", msgs[0].AuthorName())
	assert.Equal(t, "user 1", msgs[1].AuthorName())

	_, err = c.ListMessages(context.Background(), 404)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.False(t, IsAuth(err))
}

func TestSendMessageDefaultsType(t *testing.T) {
	rec := &recorded{}
	srv := newBackend(t, rec)
	c := NewClient(srv.URL, StaticToken("1|tok"))

	m, err := c.SendMessage(context.Background(), 10, SendMessageRequest{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(77), m.ID)
	assert.Equal(t, "text", rec.body["type"])
	assert.Contains(t, rec.body, "file_path")
}

func TestCreateConversation(t *testing.T) {
	rec := &recorded{}
	srv := newBackend(t, rec)
	c := NewClient(srv.URL, StaticToken("1|tok"))

	conv, err := c.CreateConversation(context.Background(), []int64{2, 3}, "Team", true)
	require.NoError(t, err)
	assert.Equal(t, int64(11), conv.ID)
	assert.Equal(t, "Team", conv.DisplayName(1))
	assert.Equal(t, []any{float64(2), float64(3)}, rec.body["user_ids"])
}

func TestAdministrativeCalls(t *testing.T) {
	rec := &recorded{}
	srv := newBackend(t, rec)
	c := NewClient(srv.URL, StaticToken("1|tok"))
	ctx := context.Background()

	users, err := c.SearchUsers(ctx, "bru no")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bru no", users[0].Name)

	require.NoError(t, c.AddParticipant(ctx, 11, 3))
	assert.Equal(t, float64(3), rec.body["userId"])

	require.NoError(t, c.MarkRead(ctx, 10))
	require.NoError(t, c.Delete(ctx, 10))

	err = c.Leave(ctx, 10)
	assert.True(t, IsAuth(err), "419 should count as an auth failure")
}

func TestAuthorizeChannel(t *testing.T) {
	rec := &recorded{}
	srv := newBackend(t, rec)

	sig, err := NewClient(srv.URL, StaticToken("1|tok")).AuthorizeChannel(context.Background(), "123.456", "private-user.1")
	require.NoError(t, err)
	assert.Equal(t, "key:123.456:private-user.1", sig)
	assert.Equal(t, "Bearer 1|tok", rec.auth)
	assert.Equal(t, "application/x-www-form-urlencoded", rec.contentType)

	_, err = NewClient(srv.URL, StaticToken("")).AuthorizeChannel(context.Background(), "1.2", "private-user.1")
	assert.True(t, errors.Is(err, ErrNoToken))
}

func TestTransportFailureIsRequestError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", StaticToken("t"), WithTimeout(time.Second))
	_, err := c.Profile(context.Background())
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Zero(t, re.Status)
	assert.False(t, IsAuth(err))
}

func TestDisplayName(t *testing.T) {
	name := "Design"
	tests := []struct {
		name string
		conv Conversation
		want string
	}{
		{"named", Conversation{Name: &name}, "Design"},
		{"direct", Conversation{Participants: []User{{ID: 1, Name: "Me"}, {ID: 9, Name: "Zoe"}}}, "Zoe"},
		{"unnamed group", Conversation{IsGroup: true, Participants: []User{{ID: 1}, {ID: 2}, {ID: 3}}}, "Group (3)"},
		{"alone", Conversation{ID: 4, Participants: []User{{ID: 1}}}, "Conversation 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conv.DisplayName(1))
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "x", "0", "-3"} {
		_, err := ParseID(bad)
		assert.Error(t, err, bad)
	}
}
