package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/tui/model"
	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// MessageThread shows the open conversation above a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	onSend   func(text string)
	focus    func(p tview.Primitive)
}

// NewMessageThread creates an empty thread.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)

	mt := &MessageThread{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(messages, 0, 1, true).
			AddItem(composer, 3, 0, false),
		theme:    theme,
		messages: messages,
		composer: composer,
	}
	mt.SetConversation("")

	composer.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := composer.GetText()
			if text != "" && mt.onSend != nil {
				mt.onSend(text)
				composer.SetText("")
			}
		case tcell.KeyEscape:
			mt.FocusMessages()
		}
	})
	// Paging keys scroll the history while composing.
	composer.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		switch ev.Key() {
		case tcell.KeyPgUp, tcell.KeyPgDn, tcell.KeyHome, tcell.KeyEnd:
			if handler := messages.InputHandler(); handler != nil {
				handler(ev, func(tview.Primitive) {})
			}
			return nil
		}
		return ev
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string { return "chat" }

// Start implements Component.
func (mt *MessageThread) Start() { mt.FocusComposer() }

// Stop implements Component.
func (mt *MessageThread) Stop() {
	mt.composer.SetText("")
	mt.messages.Clear()
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Enter", Description: "Send (composer)"}}
}

// SetFocuser sets how the thread moves focus, normally the application's
// SetFocus.
func (mt *MessageThread) SetFocuser(fn func(p tview.Primitive)) {
	mt.focus = fn
}

// FocusComposer moves the cursor to the composer.
func (mt *MessageThread) FocusComposer() {
	mt.composer.SetBorderColor(mt.theme.BorderFocusColor)
	mt.messages.SetBorderColor(mt.theme.BorderColor)
	if mt.focus != nil {
		mt.focus(mt.composer)
	}
}

// FocusMessages moves the cursor to the history.
func (mt *MessageThread) FocusMessages() {
	mt.composer.SetBorderColor(mt.theme.BorderColor)
	mt.messages.SetBorderColor(mt.theme.BorderFocusColor)
	if mt.focus != nil {
		mt.focus(mt.messages)
	}
}

// SetConversation names the open conversation.
func (mt *MessageThread) SetConversation(name string) {
	mt.title = name
	if name == "" {
		name = "Messages"
	}
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(name)))
}

// Conversation returns the open conversation's name.
func (mt *MessageThread) Conversation() string { return mt.title }

// SetOnSend sets the callback for Enter in the composer.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update renders lines oldest first and scrolls to the newest.
func (mt *MessageThread) Update(lines []model.MessageLine) {
	mt.messages.Clear()

	own := colorTag(mt.theme.OwnColor)
	peer := colorTag(mt.theme.PeerColor)
	pending := colorTag(mt.theme.PendingColor)
	failed := colorTag(mt.theme.FailedColor)

	for _, l := range lines {
		author := peer
		if l.Own {
			author = own
		}
		_, _ = fmt.Fprintf(mt.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]", author, display(l.Author), l.Time)
		switch {
		case l.Pending:
			_, _ = fmt.Fprintf(mt.messages, " [%s]sending...[-]", pending)
		case l.Failed:
			reason := "not sent"
			if l.Error != "" {
				reason = "not sent: " + l.Error
			}
			_, _ = fmt.Fprintf(mt.messages, " [%s]%s (:retry)[-]", failed, display(reason))
		}
		_, _ = fmt.Fprintf(mt.messages, "\n%s\n\n", display(l.Text))
	}

	mt.messages.ScrollToEnd()
}

func colorTag(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
