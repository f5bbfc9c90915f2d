package views

import (
	"strings"
	"unicode"

	"github.com/rivo/tview"
)

// sanitizeForTerminal drops codepoints tcell renders badly: skin tone
// modifiers, zero width joiners, variation selectors and control
// characters other than newline and tab.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if isProblematicRune(r) {
			return -1
		}
		return r
	}, s)
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	case r == '\n' || r == '\t':
		return false
	default:
		return unicode.IsControl(r)
	}
}

// display prepares server text for a dynamic-color view.
func display(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}
