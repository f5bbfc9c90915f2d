package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Crumbs shows the page stack as a breadcrumb trail.
type Crumbs struct {
	*tview.TextView
	theme  *Theme
	titles map[string]string
}

// NewCrumbs creates an empty breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &Crumbs{
		TextView: tv,
		theme:    theme,
		titles:   make(map[string]string),
	}
}

// SetTitle overrides the label shown for a page, e.g. the open
// conversation's name for the chat page. An empty title restores the
// page name.
func (c *Crumbs) SetTitle(page, title string) {
	if title == "" {
		delete(c.titles, page)
		return
	}
	c.titles[page] = title
}

// Update renders the trail; the last entry is the active page.
func (c *Crumbs) Update(stack []string) {
	c.Clear()
	parts := make([]string, 0, len(stack))
	for i, page := range stack {
		label := page
		if t, ok := c.titles[page]; ok {
			label = t
		}
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(stack)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts = append(parts, fmt.Sprintf("[%s:%s:%s] %s [-:-:-]",
			colorName(fg), colorName(bg), attr, tview.Escape(label)))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " > "))
}

// colorName returns a name tview accepts in color tags.
func colorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}
