package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// HelpEntry is one command line of the help page.
type HelpEntry struct {
	Usage       string
	Description string
}

// HelpView lists key bindings and prompt commands.
type HelpView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewHelpView creates an empty help page.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	return &HelpView{TextView: tv, theme: theme}
}

// Name implements Component.
func (hv *HelpView) Name() string { return "help" }

// Start implements Component.
func (hv *HelpView) Start() { hv.ScrollToBeginning() }

// Stop implements Component.
func (hv *HelpView) Stop() {}

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "Esc", Description: "Back"}}
}

// Update renders the key sections followed by the commands.
func (hv *HelpView) Update(sections map[string][]ui.MenuHint, order []string, commands []HelpEntry) {
	hv.Clear()
	kc := colorTag(hv.theme.MenuKeyColor)

	for _, name := range order {
		hints := sections[name]
		if len(hints) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(hv, "\n  [::b]%s[-:-:-]\n\n", name)
		for _, h := range hints {
			_, _ = fmt.Fprintf(hv, "  [%s]%-12s[-:-:-] %s\n", kc, tview.Escape(h.Key), h.Description)
		}
	}

	_, _ = fmt.Fprint(hv, "\n  [::b]Commands[-:-:-]\n\n")
	for _, c := range commands {
		_, _ = fmt.Fprintf(hv, "  [%s]:%-24s[-:-:-] %s\n", kc, tview.Escape(c.Usage), c.Description)
	}
}
