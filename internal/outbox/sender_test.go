package outbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/store"
)

// mockAPI records calls and returns configurable results.
type mockAPI struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
	next  int64
}

type sendCall struct {
	ConversationID int64
	Req            api.SendMessageRequest
}

func (m *mockAPI) SendMessage(_ context.Context, conversationID int64, req api.SendMessageRequest) (*api.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{ConversationID: conversationID, Req: req})
	if m.err != nil {
		return nil, m.err
	}
	m.next++
	return &api.Message{ID: 100 + m.next, ConversationID: conversationID, Content: req.Content, Type: req.Type}, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSendRecordsSuccess(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockAPI{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, logger)

	ch, unsub := b.Subscribe(bus.KindSendAck, 10)
	defer unsub()

	msg, err := s.Send(context.Background(), "c1", 7, api.TextMessage("hello"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.ID != 101 {
		t.Errorf("server id = %d, want 101", msg.ID)
	}
	if len(mock.calls) != 1 || mock.calls[0].ConversationID != 7 || mock.calls[0].Req.Content != "hello" {
		t.Errorf("calls = %+v", mock.calls)
	}

	e, err := db.GetOutbox("c1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.OutboxSent || e.ServerMsgID != 101 {
		t.Errorf("entry = %+v, want sent/101", e)
	}

	select {
	case evt := <-ch:
		ack := evt.Payload.(SendAck)
		if ack.ClientMsgID != "c1" || ack.Message.ID != 101 {
			t.Errorf("ack = %+v", ack)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_ack event")
	}
}

func TestSendRecordsFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, &mockAPI{err: fmt.Errorf("network error")}, b, nil)

	ch, unsub := b.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	if _, err := s.Send(context.Background(), "c1", 7, api.TextMessage("hello")); err == nil {
		t.Fatal("Send() expected error")
	}

	failed, err := s.Failed()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "network error" {
		t.Fatalf("Failed() = %+v", failed)
	}

	select {
	case evt := <-ch:
		if evt.Payload.(SendFailed).ClientMsgID != "c1" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}
}

func TestRetryFailedEntry(t *testing.T) {
	db := testDB(t)
	mock := &mockAPI{err: errors.New("offline")}
	s := NewSender(db, mock, nil, nil)
	ctx := context.Background()

	_, _ = s.Send(ctx, "c1", 3, api.TextMessage("again"))

	e, err := s.Retryable("c1")
	if err != nil {
		t.Fatalf("Retryable() error = %v", err)
	}

	mock.err = nil
	if _, err := s.Send(ctx, e.ClientMsgID, e.ConversationID, Request(e)); err != nil {
		t.Fatalf("retry Send() error = %v", err)
	}

	got, _ := s.Get("c1")
	if got.Status != store.OutboxSent || got.Attempts != 2 {
		t.Errorf("entry after retry = %+v, want sent with 2 attempts", got)
	}
	if _, err := s.Retryable("c1"); err == nil {
		t.Error("a sent entry must not be retryable")
	}
}

func TestRequestRebuildsFilePath(t *testing.T) {
	req := Request(&store.OutboxEntry{Content: "pic", Type: api.TypeImage, FilePath: "uploads/a.png"})
	if req.FilePath == nil || *req.FilePath != "uploads/a.png" || req.Type != api.TypeImage {
		t.Errorf("Request() = %+v", req)
	}
	if Request(&store.OutboxEntry{Content: "x", Type: "text"}).FilePath != nil {
		t.Error("empty file path should stay nil")
	}
}

func TestRecoverInterrupted(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox(&store.OutboxEntry{ClientMsgID: "stuck", ConversationID: 1, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	_ = db.MarkOutboxSending("stuck")

	s := NewSender(db, &mockAPI{}, nil, nil)
	n, err := s.RecoverInterrupted()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	failed, _ := s.Failed()
	if len(failed) != 1 || failed[0].ErrorMessage != InterruptedReason {
		t.Errorf("Failed() = %+v", failed)
	}
}

func TestDiscard(t *testing.T) {
	db := testDB(t)
	s := NewSender(db, &mockAPI{err: errors.New("x")}, nil, nil)
	_, _ = s.Send(context.Background(), "c1", 1, api.TextMessage("x"))

	if err := s.Discard("c1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Discard("c1"); !errors.Is(err, store.ErrOutboxNotFound) {
		t.Errorf("second Discard() error = %v, want ErrOutboxNotFound", err)
	}
	all, _ := s.List("")
	if len(all) != 0 {
		t.Errorf("List() = %+v, want empty", all)
	}
}
