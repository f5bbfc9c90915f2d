package ui

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode selects what a submitted prompt means.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const historySize = 50

// Prompt is the ':' command and '/' filter input. Submitted commands are
// kept in a history browsable with the arrow keys.
type Prompt struct {
	*tview.InputField
	theme    *Theme
	mode     PromptMode
	history  []string
	cursor   int
	onSubmit func(mode PromptMode, text string)
	onChange func(mode PromptMode, text string)
	onCancel func()
}

// NewPrompt creates an inactive prompt.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input, theme: theme}

	input.SetChangedFunc(func(text string) {
		if p.onChange != nil {
			p.onChange(p.mode, text)
		}
	})
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if p.mode != PromptCommand || len(p.history) == 0 {
			return ev
		}
		switch ev.Key() {
		case tcell.KeyUp:
			p.cursor = max(p.cursor-1, 0)
			p.SetText(p.history[p.cursor])
			return nil
		case tcell.KeyDown:
			p.cursor = min(p.cursor+1, len(p.history))
			if p.cursor == len(p.history) {
				p.SetText("")
			} else {
				p.SetText(p.history[p.cursor])
			}
			return nil
		}
		return ev
	})
	input.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := p.GetText()
			if p.mode == PromptCommand && text != "" {
				p.remember(text)
			}
			if p.onSubmit != nil {
				p.onSubmit(p.mode, text)
			}
		case tcell.KeyEscape:
			if p.onCancel != nil {
				p.onCancel()
			}
		}
	})

	return p
}

func (p *Prompt) remember(text string) {
	if n := len(p.history); n == 0 || p.history[n-1] != text {
		p.history = append(p.history, text)
	}
	if len(p.history) > historySize {
		p.history = p.history[len(p.history)-historySize:]
	}
	p.cursor = len(p.history)
}

// SetOnSubmit sets the Enter callback.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnChange sets a callback fired on every edit, used for live filtering.
func (p *Prompt) SetOnChange(fn func(mode PromptMode, text string)) {
	p.onChange = fn
}

// SetOnCancel sets the Escape callback.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// Activate prepares the prompt for mode with initial text.
func (p *Prompt) Activate(mode PromptMode, text string) {
	p.mode = mode
	p.cursor = len(p.history)
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
	p.SetText(text)
}

// Mode returns the active mode.
func (p *Prompt) Mode() PromptMode {
	return p.mode
}
