package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// ProfileView shows the signed-in user with a contact QR code and a form
// to edit the local profile.
type ProfileView struct {
	*tview.Flex
	theme   *ui.Theme
	details *tview.TextView
	form    *tview.Form
	name    *tview.InputField
	phone   *tview.InputField
	status  *tview.InputField
	onSave  func(name, phone, status string)
}

// NewProfileView creates an empty profile page.
func NewProfileView(theme *ui.Theme) *ProfileView {
	pv := &ProfileView{theme: theme}

	pv.details = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	pv.details.SetBorder(true)
	pv.details.SetBorderColor(theme.BorderColor)
	pv.details.SetBackgroundColor(theme.BgColor)
	pv.details.SetTextColor(theme.FgColor)
	pv.details.SetTitle(" Profile ")
	pv.details.SetTitleColor(theme.TitleColor)

	pv.name = tview.NewInputField().SetLabel("Name").SetFieldWidth(32)
	pv.phone = tview.NewInputField().SetLabel("Phone").SetFieldWidth(32)
	pv.status = tview.NewInputField().SetLabel("Status").SetFieldWidth(32)

	pv.form = tview.NewForm().
		AddFormItem(pv.name).
		AddFormItem(pv.phone).
		AddFormItem(pv.status).
		AddButton("Save", func() {
			if pv.onSave != nil {
				pv.onSave(strings.TrimSpace(pv.name.GetText()),
					strings.TrimSpace(pv.phone.GetText()),
					strings.TrimSpace(pv.status.GetText()))
			}
		})
	pv.form.SetBorder(true)
	pv.form.SetBorderColor(theme.BorderColor)
	pv.form.SetBackgroundColor(theme.BgColor)
	pv.form.SetFieldBackgroundColor(theme.BgColor)
	pv.form.SetFieldTextColor(theme.FgColor)
	pv.form.SetLabelColor(theme.MenuKeyColor)
	pv.form.SetButtonBackgroundColor(theme.TableCursorBg)
	pv.form.SetButtonTextColor(theme.TableCursorFg)
	pv.form.SetTitle(" Edit ")
	pv.form.SetTitleColor(theme.TitleColor)

	pv.Flex = tview.NewFlex().
		AddItem(pv.details, 0, 3, false).
		AddItem(pv.form, 0, 2, true)
	return pv
}

// Name implements Component.
func (pv *ProfileView) Name() string { return "profile" }

// Start implements Component.
func (pv *ProfileView) Start() { pv.form.SetFocus(0) }

// Stop implements Component.
func (pv *ProfileView) Stop() {}

// Hints implements Component.
func (pv *ProfileView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Esc", Description: "Back"},
	}
}

// SetOnCancel sets the callback for Escape in the form.
func (pv *ProfileView) SetOnCancel(fn func()) {
	pv.form.SetCancelFunc(fn)
}

// SetOnSave sets the callback for the Save button.
func (pv *ProfileView) SetOnSave(fn func(name, phone, status string)) {
	pv.onSave = fn
}

// Update renders u and resets the form to its values.
func (pv *ProfileView) Update(u *api.User, profileName string) {
	pv.details.Clear()
	if u == nil {
		_, _ = fmt.Fprint(pv.details, "\n  Not signed in.")
		return
	}
	pv.name.SetText(u.Name)
	pv.phone.SetText(u.Phone)
	pv.status.SetText(u.Status)

	kc := colorTag(pv.theme.MenuKeyColor)
	field := func(label, value string) {
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(pv.details, "  [%s::b]%-9s[-:-:-] %s\n", kc, label, display(value))
	}
	_, _ = fmt.Fprint(pv.details, "\n")
	field("Name:", u.Name)
	field("Email:", u.Email)
	field("Phone:", u.Phone)
	field("Status:", u.Status)
	field("User ID:", fmt.Sprint(u.ID))
	field("Profile:", profileName)

	_, _ = fmt.Fprintf(pv.details, "\n  [::d]Scan to save this contact:[-:-:-]\n\n%s", renderQR(ContactCard(u)))
}

// ContactCard encodes u as a MECARD, which phone cameras import as a contact.
func ContactCard(u *api.User) string {
	esc := strings.NewReplacer(`\`, `\\`, `;`, `\;`, `:`, `\:`, `,`, `\,`)
	var b strings.Builder
	b.WriteString("MECARD:N:" + esc.Replace(u.Name) + ";")
	if u.Phone != "" {
		b.WriteString("TEL:" + esc.Replace(u.Phone) + ";")
	}
	if u.Email != "" {
		b.WriteString("EMAIL:" + esc.Replace(u.Email) + ";")
	}
	if u.Status != "" {
		b.WriteString("NOTE:" + esc.Replace(u.Status) + ";")
	}
	b.WriteString(";")
	return b.String()
}

// renderQR draws content as a QR code two modules per cell using
// half-block characters.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + tview.Escape(err.Error()) + ")"
	}

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
