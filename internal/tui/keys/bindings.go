// Package keys maps key events to page actions.
package keys

import (
	"github.com/gdamore/tcell/v2"

	"github.com/matheus3301/chatterm/internal/tui/ui"
)

// Action is one key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	// Hidden bindings work but are not listed in the menu.
	Hidden bool
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Label is the key as shown in the menu.
func (a *Action) Label() string {
	if a.Key == tcell.KeyRune {
		return string(a.Rune)
	}
	if name, ok := tcell.KeyNames[a.Key]; ok {
		return name
	}
	return "?"
}

// Registry holds bindings in registration order. Page bindings take
// precedence over global ones.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// AddView registers a binding for one page.
func (r *Registry) AddView(view string, a *Action) {
	r.views[view] = append(r.views[view], a)
}

// Hints lists the visible bindings of view, page bindings first.
func (r *Registry) Hints(view string) []ui.MenuHint {
	return append(r.ViewHints(view), visible(r.global)...)
}

// ViewHints lists the visible bindings registered for view only.
func (r *Registry) ViewHints(view string) []ui.MenuHint {
	return visible(r.views[view])
}

func visible(actions []*Action) []ui.MenuHint {
	var hints []ui.MenuHint
	for _, a := range actions {
		if !a.Hidden {
			hints = append(hints, ui.MenuHint{Key: a.Label(), Description: a.Description})
		}
	}
	return hints
}

// HandleEvent runs the first binding of view, then of the global set,
// matching ev. It reports whether one ran.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, set := range [][]*Action{r.views[view], r.global} {
		for _, a := range set {
			if a.Matches(ev) {
				a.Handler()
				return true
			}
		}
	}
	return false
}
