package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is how many hints fit in one column of the header.
const menuRows = 5

// Menu lists the active page's key hints in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates an empty hint menu.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{TextView: tv, theme: theme}
}

// Update lays the hints out top to bottom, then left to right.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}

	width := 0
	for _, h := range hints {
		if n := len(h.Key) + len(h.Description) + 3; n > width {
			width = n
		}
	}

	keyColor := colorName(m.theme.MenuKeyColor)
	rows := make([]strings.Builder, min(len(hints), menuRows))
	for i, h := range hints {
		row := &rows[i%menuRows]
		pad := width - len(h.Key) - len(h.Description) - 3
		fmt.Fprintf(row, "[%s::b]<%s>[-:-:-] %s%s  ",
			keyColor, h.Key, tview.Escape(h.Description), strings.Repeat(" ", pad))
	}
	for i := range rows {
		_, _ = fmt.Fprintln(m, rows[i].String())
	}
}
