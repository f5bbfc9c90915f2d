package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// UserSearch finds users to start a direct conversation with.
type UserSearch struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	users   []api.User
	onQuery func(query string)
	onPick  func(u api.User)
	onBack  func()
	focus   func(p tview.Primitive)
}

// NewUserSearch creates an empty search page.
func NewUserSearch(theme *ui.Theme) *UserSearch {
	us := &UserSearch{theme: theme}

	us.input = tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	us.input.SetBorder(true)
	us.input.SetBorderColor(theme.BorderFocusColor)
	us.input.SetBackgroundColor(theme.BgColor)
	us.input.SetFieldBackgroundColor(theme.BgColor)
	us.input.SetFieldTextColor(theme.FgColor)
	us.input.SetLabelColor(theme.MenuKeyColor)

	us.results = tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	us.results.SetBorder(true)
	us.results.SetBorderColor(theme.BorderColor)
	us.results.SetBackgroundColor(theme.BgColor)
	us.results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	us.results.SetTitle(" Users ")
	us.results.SetTitleColor(theme.TitleColor)

	us.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(us.input, 3, 0, true).
		AddItem(us.results, 0, 1, false)

	us.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape && us.onBack != nil {
			us.onBack()
			return
		}
		if key != tcell.KeyEnter {
			return
		}
		if q := strings.TrimSpace(us.input.GetText()); q != "" && us.onQuery != nil {
			us.onQuery(q)
		}
	})
	// Down moves from the query to the results.
	us.input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyDown && len(us.users) > 0 {
			us.focusOn(us.results)
			return nil
		}
		return ev
	})
	us.results.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			us.focusOn(us.input)
		}
	})
	us.results.SetSelectedFunc(func(row, _ int) {
		if idx := row - 1; idx >= 0 && idx < len(us.users) && us.onPick != nil {
			us.onPick(us.users[idx])
		}
	})

	return us
}

// Name implements Component.
func (us *UserSearch) Name() string { return "new" }

// Start implements Component.
func (us *UserSearch) Start() { us.focusOn(us.input) }

// Stop implements Component.
func (us *UserSearch) Stop() {}

// Hints implements Component.
func (us *UserSearch) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search / Start chat"},
		{Key: "Down", Description: "Results"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnQuery sets the callback for Enter in the query field.
func (us *UserSearch) SetOnQuery(fn func(query string)) {
	us.onQuery = fn
}

// SetOnPick sets the callback for Enter on a result.
func (us *UserSearch) SetOnPick(fn func(u api.User)) {
	us.onPick = fn
}

// SetOnBack sets the callback for Escape in the query field.
func (us *UserSearch) SetOnBack(fn func()) {
	us.onBack = fn
}

// SetQuery fills the query field.
func (us *UserSearch) SetQuery(q string) {
	us.input.SetText(q)
	us.focusOn(us.input)
}

// SetFocuser sets how the page moves focus between its fields, normally
// the application's SetFocus.
func (us *UserSearch) SetFocuser(fn func(p tview.Primitive)) {
	us.focus = fn
}

// Update renders results for query.
func (us *UserSearch) Update(query string, users []api.User) {
	us.users = users
	us.results.Clear()

	for col, h := range []string{" ID", " NAME", " EMAIL"} {
		us.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(us.theme.TableHeaderFg).
			SetBackgroundColor(us.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(col))
	}
	for i, u := range users {
		us.results.SetCell(i+1, 0, tview.NewTableCell(fmt.Sprintf(" %d", u.ID)).SetTextColor(us.theme.CounterColor))
		us.results.SetCell(i+1, 1, tview.NewTableCell(" "+display(u.Name)).SetExpansion(1).SetTextColor(us.theme.FgColor))
		us.results.SetCell(i+1, 2, tview.NewTableCell(" "+display(u.Email)).SetExpansion(2).SetTextColor(us.theme.FgColor))
	}
	us.results.SetTitle(fmt.Sprintf(" Users matching %q (%d) ", tview.Escape(query), len(users)))
	if len(users) > 0 {
		us.results.Select(1, 0)
		us.focusOn(us.results)
	}
}

func (us *UserSearch) focusOn(p tview.Primitive) {
	if us.focus != nil {
		us.focus(p)
	}
}
