package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandleEventPrefersView(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Handler: func() { got = "global" }})
	r.AddView("chat", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "Close", Handler: func() { got = "view" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("chat", ev) || got != "view" {
		t.Errorf("chat: handled by %q, want view", got)
	}
	if !r.HandleEvent("conversations", ev) || got != "global" {
		t.Errorf("conversations: handled by %q, want global", got)
	}
	if r.HandleEvent("chat", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key reported as handled")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: ':', Description: "Command", Handler: noop})
	r.AddView("conversations", &Action{Key: tcell.KeyEnter, Description: "Open", Handler: noop})
	r.AddView("conversations", &Action{Key: tcell.KeyRune, Rune: '/', Description: "Filter", Handler: noop})
	r.AddView("conversations", &Action{Key: tcell.KeyRune, Rune: 'j', Description: "Down", Handler: noop, Hidden: true})

	hints := r.Hints("conversations")
	want := []string{"Enter:Open", "/:Filter", "::Command"}
	if len(hints) != len(want) {
		t.Fatalf("hints = %+v", hints)
	}
	for i, h := range hints {
		if got := h.Key + ":" + h.Description; got != want[i] {
			t.Errorf("hint %d = %q, want %q", i, got, want[i])
		}
	}
}
