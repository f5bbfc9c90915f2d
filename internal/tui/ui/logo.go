package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Logo is the header's ASCII art.
type Logo struct {
	*tview.TextView
	theme *Theme
}

// NewLogo renders the logo once; it never changes.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme}
	title := colorName(theme.TitleColor)
	_, _ = fmt.Fprintf(l,
		"[%s::b]┏━╸╻ ╻┏━┓╺┳╸[-:-:-]\n"+
			"[%s::b]┃  ┣━┫┣━┫ ┃ [-:-:-]\n"+
			"[%s::b]┗━╸╹ ╹╹ ╹ ╹ [-:-:-]\n"+
			"[%s]chatterm[-:-:-]",
		title, title, title, colorName(theme.FgColor),
	)
	return l
}
