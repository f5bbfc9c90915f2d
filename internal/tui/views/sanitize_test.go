package views

import "testing"

func TestSanitizeForTerminal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"skin tone", "\U0001F44D\U0001F3FB", "\U0001F44D"},
		{"zwj", "a\u200db", "ab"},
		{"variation selector", "\u2764\ufe0f", "\u2764"},
		{"escape sequence", "\x1b[31mred", "[31mred"},
		{"keeps newline", "a\nb\tc", "a\nb\tc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForTerminal(tt.in); got != tt.want {
				t.Errorf("sanitizeForTerminal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplayEscapesTags(t *testing.T) {
	if got := display("[red]x"); got != "[red[]x" {
		t.Errorf("display = %q", got)
	}
}
