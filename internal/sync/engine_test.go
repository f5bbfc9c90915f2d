package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/channel"
)

type fakeFetcher struct {
	mu        gosync.Mutex
	responses map[int64][]api.Message
	errs      map[int64]error
	gates     map[int64]chan struct{}
	started   chan int64
	calls     []int64
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[int64][]api.Message),
		errs:      make(map[int64]error),
		gates:     make(map[int64]chan struct{}),
		started:   make(chan int64, 16),
	}
}

func (f *fakeFetcher) ListMessages(ctx context.Context, id int64) ([]api.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	gate := f.gates[id]
	resp := append([]api.Message(nil), f.responses[id]...)
	err := f.errs[id]
	f.mu.Unlock()

	f.started <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

func (f *fakeFetcher) callsFor(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == id {
			n++
		}
	}
	return n
}

type fakeSender struct {
	nextID int64
	err    error
	// before runs while the send is in flight.
	before func()
	calls  []string
}

func (s *fakeSender) Send(_ context.Context, clientID string, convID int64, req api.SendMessageRequest) (*api.Message, error) {
	s.calls = append(s.calls, clientID)
	if s.before != nil {
		s.before()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &api.Message{ID: s.nextID, ConversationID: convID, Content: req.Content, Type: req.Type, UserID: 1}, nil
}

func msg(id, conv int64, content string) api.Message {
	return api.Message{ID: id, ConversationID: conv, Content: content, Type: api.TypeText}
}

func ids(items []Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func convs(specs ...api.Conversation) []api.Conversation { return specs }

func newEngine(t *testing.T, f *fakeFetcher, s *fakeSender) (*Engine, *bus.Bus) {
	t.Helper()
	b := bus.New()
	if s == nil {
		s = &fakeSender{}
	}
	return NewEngine(f, s, b, nil), b
}

func TestDedupKeepsFirstSeenOrder(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a"), msg(2, 1, "b")}
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))

	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{2, 3, 1, 3, 4} {
		e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(id, 1, "x")})
	}

	got := ids(e.Snapshot().Messages)
	if want := []int64{1, 2, 3, 4}; !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	if d := e.Stats().Duplicates; d != 3 {
		t.Errorf("Duplicates = %d, want 3", d)
	}
}

func TestDuplicateAcrossTopicsIsPublished(t *testing.T) {
	f := newFetcher()
	e, b := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	ch, unsub := b.Subscribe(bus.KindDuplicateIgnored, 10)
	defer unsub()

	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(5, 1, "hi")})
	e.HandleUserNotification(channel.UserNotification{ConversationID: 1, UnreadCount: 1, Message: msg(5, 1, "hi")})

	if got := ids(e.Snapshot().Messages); !equalIDs(got, []int64{5}) {
		t.Errorf("ids = %v, want [5]", got)
	}
	select {
	case evt := <-ch:
		if p := evt.Payload.(DuplicateIgnored); p.MessageID != 5 {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for duplicate event")
	}
}

func TestConversationEventScoping(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a")}
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}, api.Conversation{ID: 2}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 2, Message: msg(9, 2, "for b")})

	snap := e.Snapshot()
	if got := ids(snap.Messages); !equalIDs(got, []int64{1}) {
		t.Errorf("active list = %v, want [1]", got)
	}
	b, _ := snap.Conversation(2)
	if b.LatestMessage == nil || b.LatestMessage.ID != 9 {
		t.Errorf("B latest = %+v, want message 9", b.LatestMessage)
	}
}

func TestSelectResetsUnread(t *testing.T) {
	f := newFetcher()
	gate := make(chan struct{})
	f.gates[1] = gate
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1, UnreadCount: 3}))

	done := make(chan error, 1)
	go func() { done <- e.Select(context.Background(), 1) }()
	<-f.started

	// Reset before the fetch resolves.
	if c, _ := e.Snapshot().Conversation(1); c.UnreadCount != 0 {
		t.Errorf("unread during fetch = %d, want 0", c.UnreadCount)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if c, _ := e.Snapshot().Conversation(1); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
}

func TestUserNotificationUnreadAccounting(t *testing.T) {
	f := newFetcher()
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}, api.Conversation{ID: 2, UnreadCount: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	e.HandleUserNotification(channel.UserNotification{ConversationID: 2, UnreadCount: 7, Message: msg(20, 2, "elsewhere")})
	e.HandleUserNotification(channel.UserNotification{ConversationID: 1, UnreadCount: 4, Message: msg(10, 1, "here")})

	snap := e.Snapshot()
	if got := ids(snap.Messages); !equalIDs(got, []int64{10}) {
		t.Errorf("active list = %v, want [10]", got)
	}
	a, _ := snap.Conversation(1)
	b, _ := snap.Conversation(2)
	if a.UnreadCount != 0 {
		t.Errorf("active unread = %d, want 0", a.UnreadCount)
	}
	if b.UnreadCount != 7 {
		t.Errorf("other unread = %d, want 7", b.UnreadCount)
	}
	if b.LatestMessage == nil || b.LatestMessage.Content != "elsewhere" {
		t.Errorf("other latest = %+v", b.LatestMessage)
	}
	if snap.UnreadTotal() != 7 {
		t.Errorf("UnreadTotal() = %d, want 7", snap.UnreadTotal())
	}
}

func TestUnknownConversationIsReported(t *testing.T) {
	e, b := newEngine(t, newFetcher(), nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))

	ch, unsub := b.Subscribe(bus.KindUnknownConversation, 10)
	defer unsub()

	e.HandleUserNotification(channel.UserNotification{ConversationID: 99, UnreadCount: 1, Message: msg(1, 99, "new")})

	select {
	case evt := <-ch:
		if p := evt.Payload.(UnknownConversation); p.ConversationID != 99 {
			t.Errorf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unknown conversation event")
	}
	if len(e.Snapshot().Conversations) != 1 {
		t.Error("unknown conversation must not be invented locally")
	}
}

func TestSummaryTruncation(t *testing.T) {
	long := strings.Repeat("a", 45)
	short := strings.Repeat("b", 20)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"long", long, strings.Repeat("a", 30) + "..."},
		{"short", short, short},
		{"exact", strings.Repeat("c", 30), strings.Repeat("c", 30)},
		{"runes", strings.Repeat("é", 31), strings.Repeat("é", 30) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.content); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}

	f := newFetcher()
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(1, 1, long)})

	snap := e.Snapshot()
	c, _ := snap.Conversation(1)
	if c.LatestMessage.Content != strings.Repeat("a", 30)+"..." {
		t.Errorf("summary = %q", c.LatestMessage.Content)
	}
	if snap.Messages[0].Content != long {
		t.Error("canonical content was truncated")
	}
}

func TestSetConversationsTruncatesLatest(t *testing.T) {
	e, _ := newEngine(t, newFetcher(), nil)
	latest := msg(1, 1, strings.Repeat("z", 45))
	e.SetConversations(convs(api.Conversation{ID: 1, LatestMessage: &latest}))

	c, _ := e.Snapshot().Conversation(1)
	if c.LatestMessage.Content != strings.Repeat("z", 30)+"..." {
		t.Errorf("summary = %q", c.LatestMessage.Content)
	}
	if latest.Content != strings.Repeat("z", 45) {
		t.Error("caller's message was modified")
	}
}

func TestColdSwitchRefetches(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "x")}
	f.responses[2] = []api.Message{msg(2, 2, "y")}
	e, _ := newEngine(t, f, nil)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 1} {
		if err := e.Select(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.callsFor(1); n != 2 {
		t.Errorf("fetches for X = %d, want 2", n)
	}
	if got := ids(e.Snapshot().Messages); !equalIDs(got, []int64{1}) {
		t.Errorf("ids = %v, want [1]", got)
	}
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "from A")}
	f.responses[2] = []api.Message{msg(2, 2, "from B")}
	gateA := make(chan struct{})
	f.gates[1] = gateA
	e, _ := newEngine(t, f, nil)
	ctx := context.Background()

	doneA := make(chan error, 1)
	go func() { doneA <- e.Select(ctx, 1) }()
	<-f.started

	if err := e.Select(ctx, 2); err != nil {
		t.Fatal(err)
	}
	close(gateA)
	if err := <-doneA; !errors.Is(err, ErrSuperseded) {
		t.Errorf("stale Select() error = %v, want ErrSuperseded", err)
	}

	snap := e.Snapshot()
	if snap.ActiveID != 2 {
		t.Errorf("ActiveID = %d, want 2", snap.ActiveID)
	}
	if got := ids(snap.Messages); !equalIDs(got, []int64{2}) {
		t.Errorf("ids = %v, want [2]", got)
	}
	if e.Stats().StaleLoads != 1 {
		t.Errorf("StaleLoads = %d, want 1", e.Stats().StaleLoads)
	}
}

func TestMessagesPushedDuringLoadAreKept(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "fetched")}
	gate := make(chan struct{})
	f.gates[1] = gate
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}, api.Conversation{ID: 2}))

	done := make(chan error, 1)
	go func() { done <- e.Select(context.Background(), 1) }()
	<-f.started

	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(2, 1, "pushed")})
	e.HandleUserNotification(channel.UserNotification{ConversationID: 1, UnreadCount: 1, Message: msg(1, 1, "fetched")})
	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 2, Message: msg(9, 2, "other")})
	if got := ids(e.Snapshot().Messages); len(got) != 0 {
		t.Errorf("ids before load = %v, want none", got)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	snap := e.Snapshot()
	if got := ids(snap.Messages); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}
	if c, _ := snap.Conversation(1); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}

	// Nothing is held once the load is applied.
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := ids(e.Snapshot().Messages); !equalIDs(got, []int64{1}) {
		t.Errorf("ids after reload = %v, want [1]", got)
	}
}

func TestFetchFailureKeepsState(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a")}
	f.errs[2] = fmt.Errorf("boom")
	e, _ := newEngine(t, f, nil)
	ctx := context.Background()

	if err := e.Select(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Select(ctx, 2); err == nil {
		t.Fatal("Select() expected error")
	}

	snap := e.Snapshot()
	if snap.ActiveID != 1 || !equalIDs(ids(snap.Messages), []int64{1}) {
		t.Errorf("state changed after failure: active=%d ids=%v", snap.ActiveID, ids(snap.Messages))
	}
}

func TestEmptyLoadForActiveIsIgnored(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a"), msg(2, 1, "b")}
	e, _ := newEngine(t, f, nil)
	ctx := context.Background()

	if err := e.Select(ctx, 1); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	f.responses[1] = nil
	f.mu.Unlock()
	if err := e.Select(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if got := ids(e.Snapshot().Messages); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", got)
	}

	// An empty conversation selected fresh is simply empty.
	if err := e.Select(ctx, 3); err != nil {
		t.Fatal(err)
	}
	if snap := e.Snapshot(); snap.ActiveID != 3 || len(snap.Messages) != 0 {
		t.Errorf("active=%d messages=%d, want 3 and empty", snap.ActiveID, len(snap.Messages))
	}
}

func TestSendInsertsPendingThenConfirms(t *testing.T) {
	f := newFetcher()
	s := &fakeSender{nextID: 50}
	e, _ := newEngine(t, f, s)
	e.SetUser(&api.User{ID: 1, Name: "me"})
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	var during Snapshot
	s.before = func() { during = e.Snapshot() }

	got, err := e.Send(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 50 {
		t.Errorf("message id = %d, want 50", got.ID)
	}

	if len(during.Messages) != 1 || !during.Messages[0].Pending() || during.Messages[0].User.Name != "me" {
		t.Fatalf("in-flight messages = %+v, want one pending item by me", during.Messages)
	}
	snap := e.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Pending() || snap.Messages[0].ID != 50 {
		t.Errorf("messages = %+v, want confirmed 50", snap.Messages)
	}
	if snap.Messages[0].ClientID != s.calls[0] {
		t.Error("confirmed item lost its client id")
	}
	if c, _ := snap.Conversation(1); c.LatestMessage == nil || c.LatestMessage.ID != 50 {
		t.Errorf("summary = %+v, want message 50", c.LatestMessage)
	}
}

func TestSendFailureRestoresState(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a")}
	s := &fakeSender{err: errors.New("offline")}
	e, _ := newEngine(t, f, s)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	before := e.Snapshot()

	if _, err := e.Send(context.Background(), "lost"); err == nil {
		t.Fatal("Send() expected error")
	}

	after := e.Snapshot()
	if !equalIDs(ids(after.Messages), ids(before.Messages)) || len(after.Messages) != 1 {
		t.Errorf("messages = %+v, want unchanged", after.Messages)
	}
	c, _ := after.Conversation(1)
	b, _ := before.Conversation(1)
	if c.LatestMessage != b.LatestMessage {
		t.Error("summary changed after failed send")
	}
}

func TestSendValidation(t *testing.T) {
	e, _ := newEngine(t, newFetcher(), nil)
	ctx := context.Background()

	if _, err := e.Send(ctx, "hi"); !errors.Is(err, ErrNoActiveConversation) {
		t.Errorf("Send() without selection error = %v", err)
	}
	if err := e.Select(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Send(ctx, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Send() blank error = %v", err)
	}
}

// Login, list, select, send, echo twice.
func TestSendWithDoubleEcho(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "hello")}
	s := &fakeSender{nextID: 2}
	e, _ := newEngine(t, f, s)
	e.SetConversations(convs(api.Conversation{ID: 1, UnreadCount: 3}))
	ctx := context.Background()

	if err := e.Select(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if c, _ := e.Snapshot().Conversation(1); c.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0", c.UnreadCount)
	}
	if _, err := e.Send(ctx, "hi"); err != nil {
		t.Fatal(err)
	}
	echo := msg(2, 1, "hi")
	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: echo})
	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: echo})

	count := 0
	for _, it := range e.Snapshot().Messages {
		if it.Content == "hi" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("messages with content hi = %d, want 1", count)
	}
}

func TestEchoBeforeConfirmation(t *testing.T) {
	f := newFetcher()
	s := &fakeSender{nextID: 7}
	e, _ := newEngine(t, f, s)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	s.before = func() {
		e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(7, 1, "hi")})
	}

	if _, err := e.Send(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	items := e.Snapshot().Messages
	if len(items) != 1 || items[0].ID != 7 || items[0].Pending() {
		t.Errorf("messages = %+v, want single confirmed 7", items)
	}
}

func TestSendToInactiveConversation(t *testing.T) {
	f := newFetcher()
	s := &fakeSender{nextID: 3}
	e, _ := newEngine(t, f, s)
	e.SetConversations(convs(api.Conversation{ID: 1}, api.Conversation{ID: 2}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if _, err := e.SendTo(context.Background(), 2, "retry-1", api.TextMessage("later")); err != nil {
		t.Fatal(err)
	}
	snap := e.Snapshot()
	if len(snap.Messages) != 0 {
		t.Errorf("active list = %+v, want empty", snap.Messages)
	}
	if c, _ := snap.Conversation(2); c.LatestMessage == nil || c.LatestMessage.ID != 3 {
		t.Errorf("summary = %+v", c.LatestMessage)
	}
	if s.calls[0] != "retry-1" {
		t.Errorf("client id = %q, want retry-1", s.calls[0])
	}
}

func TestStartConsumesRealtimeEvents(t *testing.T) {
	f := newFetcher()
	e, b := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	snaps, unsub := b.Subscribe(bus.KindSnapshot, 10)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	b.Publish(bus.NewEvent(bus.KindConversationMessage, channel.ConversationMessage{ConversationID: 1, Message: msg(4, 1, "pushed")}))

	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-snaps:
			if s := evt.Payload.(Snapshot); len(s.Messages) == 1 && s.Messages[0].ID == 4 {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for snapshot with pushed message")
		}
	}
}

func TestDeselectKeepsSummaries(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a")}
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}, api.Conversation{ID: 2}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	e.Deselect()
	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(2, 1, "b")})

	snap := e.Snapshot()
	if snap.ActiveID != 0 || len(snap.Messages) != 0 {
		t.Errorf("active=%d messages=%d, want none", snap.ActiveID, len(snap.Messages))
	}
	if len(snap.Conversations) != 2 {
		t.Errorf("conversations = %d, want 2", len(snap.Conversations))
	}
}

func TestReset(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a")}
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	e.Reset()

	snap := e.Snapshot()
	if snap.ActiveID != 0 || len(snap.Messages) != 0 || len(snap.Conversations) != 0 {
		t.Errorf("snapshot after Reset = %+v", snap)
	}
	if e.ActiveID() != 0 {
		t.Error("ActiveID() should be zero after Reset")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	f := newFetcher()
	f.responses[1] = []api.Message{msg(1, 1, "a")}
	e, _ := newEngine(t, f, nil)
	e.SetConversations(convs(api.Conversation{ID: 1}))
	if err := e.Select(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	old := e.Snapshot()
	e.HandleConversationMessage(channel.ConversationMessage{ConversationID: 1, Message: msg(2, 1, "b")})

	if len(old.Messages) != 1 {
		t.Errorf("earlier snapshot changed: %d messages", len(old.Messages))
	}
	if c, _ := old.Conversation(1); c.LatestMessage != nil {
		t.Error("earlier snapshot summary changed")
	}
}
