// Package model derives display rows from engine snapshots. Nothing here
// touches tview, so it can be tested without a terminal.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/store"
	intsync "github.com/matheus3301/chatterm/internal/sync"
)

// ConversationRow is one line of the conversation list.
type ConversationRow struct {
	ID      int64
	Name    string
	Preview string
	Time    string
	Kind    string
	Unread  int
}

// Label is the name with the unread badge.
func (r ConversationRow) Label() string {
	if r.Unread > 0 {
		return fmt.Sprintf("(%d) %s", r.Unread, r.Name)
	}
	return r.Name
}

// ConversationRows lists the snapshot's conversations in server order,
// keeping those whose name or preview contains filter, case-insensitively.
func ConversationRows(snap intsync.Snapshot, selfID int64, filter string, now time.Time) []ConversationRow {
	filter = strings.ToLower(strings.TrimSpace(filter))
	rows := make([]ConversationRow, 0, len(snap.Conversations))
	for _, c := range snap.Conversations {
		row := ConversationRow{
			ID:     c.ID,
			Name:   c.DisplayName(selfID),
			Kind:   "DM",
			Unread: c.UnreadCount,
		}
		if c.IsGroup {
			row.Kind = "GROUP"
		}
		if m := c.LatestMessage; m != nil {
			row.Preview = preview(m)
			row.Time = FormatTimestamp(m.CreatedAt, now)
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(row.Name), filter) &&
			!strings.Contains(strings.ToLower(row.Preview), filter) {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func preview(m *api.Message) string {
	if m.Type != "" && m.Type != api.TypeText && m.Content == "" {
		return "[" + m.Type + "]"
	}
	return m.Content
}

// MessageLine is one rendered message of the thread.
type MessageLine struct {
	ClientID string
	Author   string
	Time     string
	Text     string
	Own      bool
	Pending  bool
	Failed   bool
	Error    string
}

// MessageLines renders the active list followed by the failed sends of the
// active conversation, which are not part of the engine state.
func MessageLines(snap intsync.Snapshot, failed []store.OutboxEntry, selfID int64, now time.Time) []MessageLine {
	lines := make([]MessageLine, 0, len(snap.Messages)+len(failed))
	for _, it := range snap.Messages {
		own := it.UserID == selfID && selfID != 0
		author := it.AuthorName()
		if own {
			author = "You"
		}
		text := it.Content
		if it.Type != "" && it.Type != api.TypeText {
			text = fmt.Sprintf("[%s] %s", it.Type, text)
			if it.FilePath != nil {
				text += " " + *it.FilePath
			}
		}
		lines = append(lines, MessageLine{
			ClientID: it.ClientID,
			Author:   author,
			Time:     FormatTimestamp(it.CreatedAt, now),
			Text:     strings.TrimSpace(text),
			Own:      own,
			Pending:  it.Pending(),
		})
	}
	for _, e := range failed {
		if e.ConversationID != snap.ActiveID {
			continue
		}
		lines = append(lines, MessageLine{
			ClientID: e.ClientMsgID,
			Author:   "You",
			Time:     FormatTimestamp(e.UpdatedAt, now),
			Text:     e.Content,
			Own:      true,
			Failed:   true,
			Error:    e.ErrorMessage,
		})
	}
	return lines
}

// FormatTimestamp shows the time for today and the date otherwise.
func FormatTimestamp(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
