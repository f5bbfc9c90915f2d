package ui

import (
	"slices"
	"testing"

	"github.com/rivo/tview"
)

func newTestPages(names ...string) *Pages {
	p := NewPages()
	for _, n := range names {
		p.AddPage(n, tview.NewBox(), true, false)
	}
	return p
}

func TestPagesPushPop(t *testing.T) {
	p := newTestPages("conversations", "chat", "help")
	var changes [][]string
	p.SetOnChange(func(s []string) { changes = append(changes, s) })

	p.Reset("conversations")
	p.Push("chat")
	p.Push("chat")
	p.Push("help")

	if got := p.Stack(); !slices.Equal(got, []string{"conversations", "chat", "help"}) {
		t.Fatalf("stack = %v", got)
	}
	if len(changes) != 3 {
		t.Errorf("changes = %d, want 3 (duplicate push is a no-op)", len(changes))
	}

	if top := p.Pop(); top != "help" {
		t.Errorf("Pop() = %q, want help", top)
	}
	if p.Current() != "chat" || !p.Contains("conversations") {
		t.Errorf("current = %q, stack = %v", p.Current(), p.Stack())
	}
}

func TestPagesKeepsLastPage(t *testing.T) {
	p := newTestPages("login")
	p.Reset("login")
	if top := p.Pop(); top != "" {
		t.Errorf("Pop() = %q, want empty", top)
	}
	if p.Current() != "login" {
		t.Errorf("current = %q, want login", p.Current())
	}
}

func TestPagesPushMovesToTop(t *testing.T) {
	p := newTestPages("conversations", "chat", "profile")
	p.Reset("conversations")
	p.Push("chat")
	p.Push("profile")
	p.Push("chat")

	if got := p.Stack(); !slices.Equal(got, []string{"conversations", "profile", "chat"}) {
		t.Errorf("stack = %v", got)
	}
}
