package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/status"
)

// HeaderData is what the header shows about the running client.
type HeaderData struct {
	Profile string
	User    string
	Email   string
	State   status.State
	Chats   int
	Unread  int
	Failed  int
}

// Header is the top-left panel with profile and connection details.
type Header struct {
	*tview.TextView
	theme *Theme
}

// NewHeader creates an empty header panel.
func NewHeader(theme *Theme) *Header {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &Header{TextView: tv, theme: theme}
}

// Update renders d.
func (h *Header) Update(d HeaderData) {
	h.Clear()

	label := colorName(h.theme.FgColor)
	value := colorName(h.theme.CounterColor)
	user := d.User
	if user == "" {
		user = "-"
	} else if d.Email != "" {
		user = fmt.Sprintf("%s <%s>", user, d.Email)
	}

	row := func(name, val string) {
		_, _ = fmt.Fprintf(h, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", label, name+":", value, tview.Escape(val))
	}
	row("Profile", d.Profile)
	row("User", user)
	_, _ = fmt.Fprintf(h, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", label, "Link:", colorName(h.stateColor(d.State)), d.State)
	row("Chats", fmt.Sprintf("%d (%d unread)", d.Chats, d.Unread))
	if d.Failed > 0 {
		_, _ = fmt.Fprintf(h, "[%s::b]%-8s[-:-:-] [%s]%d[-]", label, "Failed:", colorName(h.theme.FailedColor), d.Failed)
	}
}

func (h *Header) stateColor(s status.State) tcell.Color {
	switch s {
	case status.Connected:
		return h.theme.OnlineColor
	case status.Error, status.AuthRequired:
		return h.theme.FailedColor
	default:
		return h.theme.OfflineColor
	}
}
