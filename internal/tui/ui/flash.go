package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

const (
	infoTTL = 4 * time.Second
	warnTTL = 8 * time.Second
	errTTL  = 10 * time.Second
)

// FlashMessage is a transient notification.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// FlashModel holds the latest flash and notifies a single watcher.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	now     func() time.Time
	watchCh chan FlashMessage
}

// NewFlashModel creates an empty model.
func NewFlashModel() *FlashModel {
	return &FlashModel{
		now:     time.Now,
		watchCh: make(chan FlashMessage, 8),
	}
}

// Info flashes a message.
func (f *FlashModel) Info(msg string) { f.set(msg, FlashInfo, infoTTL) }

// Infof flashes a formatted message.
func (f *FlashModel) Infof(format string, args ...any) {
	f.Info(fmt.Sprintf(format, args...))
}

// Warn flashes a warning.
func (f *FlashModel) Warn(msg string) { f.set(msg, FlashWarn, warnTTL) }

// Err flashes an error. A nil error clears the bar.
func (f *FlashModel) Err(err error) {
	if err == nil {
		f.Clear()
		return
	}
	f.set(err.Error(), FlashErr, errTTL)
}

// Clear expires the current message.
func (f *FlashModel) Clear() { f.set("", FlashInfo, 0) }

func (f *FlashModel) set(msg string, level FlashLevel, ttl time.Duration) {
	fm := FlashMessage{Text: msg, Level: level, Expires: f.now().Add(ttl)}
	f.mu.Lock()
	f.current = fm
	f.mu.Unlock()
	select {
	case f.watchCh <- fm:
	default:
	}
}

// Current returns the live message, or nil once it has expired.
func (f *FlashModel) Current() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch returns the channel of newly set messages. Messages are dropped
// when the watcher falls behind.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}

// FlashBar renders the current flash at the bottom of the screen.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates an empty bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{TextView: tv, theme: theme}
}

// Update shows msg, or clears the bar for nil.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil {
		return
	}

	color := fb.theme.FlashInfoColor
	switch msg.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s[-]", colorName(color), tview.Escape(msg.Text))
}
