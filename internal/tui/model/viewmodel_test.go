package model

import (
	"testing"
	"time"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/store"
	intsync "github.com/matheus3301/chatterm/internal/sync"
)

func strPtr(s string) *string { return &s }

func testSnapshot(now time.Time) intsync.Snapshot {
	return intsync.Snapshot{
		ActiveID: 1,
		Conversations: []api.Conversation{
			{ID: 1, UnreadCount: 2, Participants: []api.User{{ID: 1, Name: "Ana"}, {ID: 2, Name: "Bruno"}},
				LatestMessage: &api.Message{Content: "see you", Type: api.TypeText, CreatedAt: now}},
			{ID: 2, Name: strPtr("Team"), IsGroup: true,
				LatestMessage: &api.Message{Type: api.TypeImage, CreatedAt: now.AddDate(0, 0, -3)}},
		},
		Messages: []intsync.Item{
			{Message: api.Message{ID: 1, UserID: 2, Content: "hi", User: &api.User{Name: "Bruno"}, CreatedAt: now}, Status: intsync.StatusSent},
			{Message: api.Message{UserID: 1, Content: "hey"}, ClientID: "c1", Status: intsync.StatusPending},
		},
	}
}

func TestConversationRows(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	rows := ConversationRows(testSnapshot(now), 1, "", now)

	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].Name != "Bruno" || rows[0].Label() != "(2) Bruno" || rows[0].Kind != "DM" {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[0].Time != "12:00" {
		t.Errorf("time = %q, want 12:00", rows[0].Time)
	}
	if rows[1].Kind != "GROUP" || rows[1].Preview != "[image]" || rows[1].Time != "05/07" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}

func TestConversationRowsFilter(t *testing.T) {
	now := time.Now()
	tests := []struct {
		filter string
		want   []int64
	}{
		{"", []int64{1, 2}},
		{"bru", []int64{1}},
		{"TEAM", []int64{2}},
		{"see", []int64{1}},
		{"nobody", nil},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			rows := ConversationRows(testSnapshot(now), 1, tt.filter, now)
			if len(rows) != len(tt.want) {
				t.Fatalf("rows = %+v, want ids %v", rows, tt.want)
			}
			for i, r := range rows {
				if r.ID != tt.want[i] {
					t.Errorf("row %d id = %d, want %d", i, r.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMessageLines(t *testing.T) {
	now := time.Now()
	failed := []store.OutboxEntry{
		{ClientMsgID: "f1", ConversationID: 1, Content: "lost", ErrorMessage: "offline"},
		{ClientMsgID: "f2", ConversationID: 9, Content: "elsewhere"},
	}
	lines := MessageLines(testSnapshot(now), failed, 1, now)

	if len(lines) != 3 {
		t.Fatalf("lines = %+v, want 3", lines)
	}
	if lines[0].Author != "Bruno" || lines[0].Own {
		t.Errorf("line 0 = %+v", lines[0])
	}
	if lines[1].Author != "You" || !lines[1].Pending {
		t.Errorf("line 1 = %+v, want own pending", lines[1])
	}
	if !lines[2].Failed || lines[2].Error != "offline" || lines[2].ClientID != "f1" {
		t.Errorf("line 2 = %+v, want failed f1", lines[2])
	}
}

func TestFormatTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	if got := FormatTimestamp(time.Time{}, now); got != "" {
		t.Errorf("zero = %q", got)
	}
	if got := FormatTimestamp(now.Add(-time.Hour), now); got != "11:00" {
		t.Errorf("today = %q", got)
	}
	if got := FormatTimestamp(now.AddDate(0, -1, 0), now); got != "04/10" {
		t.Errorf("older = %q", got)
	}
}
