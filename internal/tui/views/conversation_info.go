package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// ConversationInfo shows a conversation's details and participants.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates an empty details page.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{TextView: tv, theme: theme}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "details" }

// Start implements Component.
func (ci *ConversationInfo) Start() {}

// Stop implements Component.
func (ci *ConversationInfo) Stop() {}

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// Update renders conv as seen by the user selfID.
func (ci *ConversationInfo) Update(conv api.Conversation, selfID int64) {
	ci.Clear()
	kc := colorTag(ci.theme.MenuKeyColor)

	kind := "Direct"
	if conv.IsGroup {
		kind = "Group"
	}
	field := func(label, value string) {
		_, _ = fmt.Fprintf(ci, "  [%s::b]%-13s[-:-:-] %s\n", kc, label, display(value))
	}

	_, _ = fmt.Fprint(ci, "\n")
	field("Name:", conv.DisplayName(selfID))
	field("ID:", fmt.Sprint(conv.ID))
	field("Type:", kind)
	field("Unread:", fmt.Sprint(conv.UnreadCount))
	if !conv.CreatedAt.IsZero() {
		field("Created:", conv.CreatedAt.Local().Format("2006-01-02 15:04"))
	}

	_, _ = fmt.Fprintf(ci, "\n  [::b]Participants (%d)[-:-:-]\n\n", len(conv.Participants))
	for _, p := range conv.Participants {
		name := p.Name
		if p.ID == selfID {
			name += " (you)"
		}
		if p.ID == conv.CreatedBy {
			name += " [creator]"
		}
		_, _ = fmt.Fprintf(ci, "  %6d  %s  [::d]%s[-:-:-]\n", p.ID, display(name), display(p.Email))
	}
}
