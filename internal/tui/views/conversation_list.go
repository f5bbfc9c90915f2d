package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/tui/model"
	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// ConversationList is the table of conversations.
type ConversationList struct {
	*tview.Table
	theme  *ui.Theme
	rows   []model.ConversationRow
	total  int
	filter string
	onOpen func(id int64)
}

// NewConversationList creates an empty table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	cl := &ConversationList{Table: table, theme: theme}
	table.SetSelectedFunc(func(row, _ int) {
		if id := cl.idAt(row); id != 0 && cl.onOpen != nil {
			cl.onOpen(id)
		}
	})
	return cl
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "conversations" }

// Start implements Component.
func (cl *ConversationList) Start() {}

// Stop implements Component.
func (cl *ConversationList) Stop() {}

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "1-9", Description: "Jump"},
	}
}

// SetOnOpen sets the callback for Enter on a row.
func (cl *ConversationList) SetOnOpen(fn func(id int64)) {
	cl.onOpen = fn
}

// Update replaces the rows, keeping the cursor on the same conversation.
// total is the unfiltered count shown in the title.
func (cl *ConversationList) Update(rows []model.ConversationRow, total int, filter string) {
	selected := cl.SelectedID()
	cl.rows = rows
	cl.total = total
	cl.filter = filter
	cl.render()

	for i, r := range rows {
		if r.ID == selected {
			cl.Select(i+1, 0)
			return
		}
	}
	if len(rows) > 0 {
		cl.Select(1, 0)
	}
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" TYPE", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	for i, r := range cl.rows {
		nameColor := cl.theme.FgColor
		if r.Unread > 0 {
			nameColor = cl.theme.UnreadColor
		}
		row := i + 1
		cl.SetCell(row, 0, tview.NewTableCell(" "+display(r.Label())).SetExpansion(1).SetTextColor(nameColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+display(r.Preview)).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(r.Time).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(" "+r.Kind).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.rows), cl.total, tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", cl.total))
	}
}

func (cl *ConversationList) idAt(row int) int64 {
	idx := row - 1
	if idx < 0 || idx >= len(cl.rows) {
		return 0
	}
	return cl.rows[idx].ID
}

// SelectedID returns the conversation under the cursor, or 0.
func (cl *ConversationList) SelectedID() int64 {
	row, _ := cl.GetSelection()
	return cl.idAt(row)
}

// IDByIndex returns the Nth visible conversation, 1-based, or 0.
func (cl *ConversationList) IDByIndex(n int) int64 {
	return cl.idAt(n)
}
