package ui

import (
	"slices"

	"github.com/rivo/tview"
)

// Pages is a stack of named pages over tview.Pages. Only the top page is
// visible.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

// NewPages creates an empty stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange sets a callback fired after every stack change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current page is a
// no-op; pushing a page deeper in the stack moves it to the top.
func (p *Pages) Push(name string) {
	if p.Current() == name {
		return
	}
	if cur := p.Current(); cur != "" {
		p.HidePage(cur)
	}
	p.stack = slices.DeleteFunc(p.stack, func(s string) bool { return s == name })
	p.stack = append(p.stack, name)
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// Pop removes the top page and returns its name. The last page is never
// popped, so there is always something to show.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	cur := p.stack[len(p.stack)-1]
	p.ShowPage(cur)
	p.SendToFront(cur)
	p.notify()
	return top
}

// Current returns the top page, or "" for an empty stack.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Contains reports whether name is anywhere in the stack.
func (p *Pages) Contains(name string) bool {
	return slices.Contains(p.stack, name)
}

// Stack returns a copy of the stack, bottom first.
func (p *Pages) Stack() []string {
	return slices.Clone(p.stack)
}

// Reset replaces the whole stack with name.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
