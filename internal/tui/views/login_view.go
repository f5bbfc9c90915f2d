package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// LoginView asks for the account's email and password.
type LoginView struct {
	*tview.Flex
	theme    *ui.Theme
	form     *tview.Form
	email    *tview.InputField
	password *tview.InputField
	message  *tview.TextView
	busy     bool
	onSubmit func(email, password string)
}

// NewLoginView creates the form, prefilled with email when known.
func NewLoginView(theme *ui.Theme, email string) *LoginView {
	lv := &LoginView{theme: theme}

	lv.email = tview.NewInputField().
		SetLabel("Email").
		SetText(email).
		SetFieldWidth(40)
	lv.password = tview.NewInputField().
		SetLabel("Password").
		SetMaskCharacter('*').
		SetFieldWidth(40)
	lv.password.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			lv.submit()
		}
	})

	lv.form = tview.NewForm().
		AddFormItem(lv.email).
		AddFormItem(lv.password).
		AddButton("Login", lv.submit)
	lv.form.SetBackgroundColor(theme.BgColor)
	lv.form.SetFieldBackgroundColor(theme.BgColor)
	lv.form.SetFieldTextColor(theme.FgColor)
	lv.form.SetLabelColor(theme.MenuKeyColor)
	lv.form.SetButtonBackgroundColor(theme.TableCursorBg)
	lv.form.SetButtonTextColor(theme.TableCursorFg)

	lv.message = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	lv.message.SetBackgroundColor(theme.BgColor)

	box := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(lv.form, 7, 0, true).
		AddItem(lv.message, 2, 0, false)
	box.SetBorder(true)
	box.SetBorderColor(theme.BorderColor)
	box.SetBackgroundColor(theme.BgColor)
	box.SetTitle(" Sign in ")
	box.SetTitleColor(theme.TitleColor)

	row := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(box, 60, 0, true).
		AddItem(nil, 0, 1, false)
	lv.Flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(row, 11, 0, true).
		AddItem(nil, 0, 1, false)
	lv.Flex.SetBackgroundColor(theme.BgColor)

	return lv
}

func (lv *LoginView) submit() {
	if lv.busy || lv.onSubmit == nil {
		return
	}
	email := strings.TrimSpace(lv.email.GetText())
	password := lv.password.GetText()
	if email == "" || password == "" {
		lv.ShowError("email and password are required")
		return
	}
	lv.onSubmit(email, password)
}

// Name implements Component.
func (lv *LoginView) Name() string { return "login" }

// Start implements Component.
func (lv *LoginView) Start() {}

// Stop implements Component.
func (lv *LoginView) Stop() {}

// Hints implements Component.
func (lv *LoginView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Sign in"},
	}
}

// SetOnSubmit sets the callback run with the entered credentials.
func (lv *LoginView) SetOnSubmit(fn func(email, password string)) {
	lv.onSubmit = fn
}

// SetBusy blocks resubmission while a login is in flight.
func (lv *LoginView) SetBusy(busy bool) {
	lv.busy = busy
	lv.message.Clear()
	if busy {
		_, _ = fmt.Fprintf(lv.message, "[%s]Signing in...[-]", lv.color(lv.theme.FgColor))
	}
}

// ShowError shows why the last attempt failed and clears the password.
func (lv *LoginView) ShowError(msg string) {
	lv.busy = false
	lv.password.SetText("")
	lv.message.Clear()
	_, _ = fmt.Fprintf(lv.message, "[%s]%s[-]", lv.color(lv.theme.FailedColor), tview.Escape(msg))
}

// Reset clears the password and any message.
func (lv *LoginView) Reset() {
	lv.busy = false
	lv.password.SetText("")
	lv.message.Clear()
	lv.form.SetFocus(0)
	if lv.email.GetText() != "" {
		lv.form.SetFocus(1)
	}
}

func (lv *LoginView) color(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
