// Package tui is the interactive terminal client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/app"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/channel"
	"github.com/matheus3301/chatterm/internal/status"
	"github.com/matheus3301/chatterm/internal/store"
	intsync "github.com/matheus3301/chatterm/internal/sync"
	"github.com/matheus3301/chatterm/internal/tui/keys"
	"github.com/matheus3301/chatterm/internal/tui/model"
	"github.com/matheus3301/chatterm/internal/tui/ui"
	"github.com/matheus3301/chatterm/internal/tui/views"
)

const opTimeout = 15 * time.Second

const (
	pageLogin         = "login"
	pageConversations = "conversations"
	pageChat          = "chat"
	pageDetails       = "details"
	pageProfile       = "profile"
	pageHelp          = "help"
	pageNew           = "new"
)

type pageView interface {
	ui.Component
	tview.Primitive
}

// App is the terminal client. All fields below are owned by the tview
// event loop; other goroutines hand work to it with QueueUpdateDraw.
type App struct {
	tapp     *tview.Application
	ctrl     *app.Controller
	profile  string
	logger   *zap.Logger
	theme    *ui.Theme
	registry *keys.Registry

	root     *tview.Flex
	top      *tview.Flex
	header   *ui.Header
	menu     *ui.Menu
	logo     *ui.Logo
	crumbs   *ui.Crumbs
	pages    *ui.Pages
	flash    *ui.FlashModel
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	promptOn bool

	login     *views.LoginView
	convs     *views.ConversationList
	thread    *views.MessageThread
	details   *views.ConversationInfo
	profileV  *views.ProfileView
	help      *views.HelpView
	search    *views.UserSearch
	pageViews map[string]pageView
	current   string

	snap   intsync.Snapshot
	failed []store.OutboxEntry
	filter string

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the interface over ctrl. Nothing runs until Run.
func New(ctrl *app.Controller, profileName string, logger *zap.Logger) *App {
	theme := ui.DefaultTheme()
	a := &App{
		tapp:     tview.NewApplication(),
		ctrl:     ctrl,
		profile:  profileName,
		logger:   logger.Named("tui"),
		theme:    theme,
		registry: keys.NewRegistry(),
		header:   ui.NewHeader(theme),
		menu:     ui.NewMenu(theme),
		logo:     ui.NewLogo(theme),
		crumbs:   ui.NewCrumbs(theme),
		pages:    ui.NewPages(),
		flash:    ui.NewFlashModel(),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		login:    views.NewLoginView(theme, ""),
		convs:    views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		profileV: views.NewProfileView(theme),
		help:     views.NewHelpView(theme),
		search:   views.NewUserSearch(theme),
	}
	a.pageViews = make(map[string]pageView)
	for _, v := range []pageView{a.login, a.convs, a.thread, a.details, a.profileV, a.help, a.search} {
		a.pageViews[v.Name()] = v
		a.pages.AddPage(v.Name(), v, true, false)
	}

	a.setupLayout()
	a.setupCallbacks()
	a.setupBindings()
	return a
}

func (a *App) setupLayout() {
	a.top = tview.NewFlex().
		AddItem(a.header, 0, 2, false).
		AddItem(a.menu, 0, 3, false).
		AddItem(a.logo, 16, 0, false)
	a.root = tview.NewFlex().SetDirection(tview.FlexRow)
	a.layout()

	a.pages.SetOnChange(a.onPageChange)
	a.tapp.SetInputCapture(a.capture)
	a.tapp.SetRoot(a.root, true)
}

// layout rebuilds the root, with the prompt above the pages when active.
func (a *App) layout() {
	a.root.Clear()
	a.root.AddItem(a.top, 6, 0, false)
	if a.promptOn {
		a.root.AddItem(a.prompt, 3, 0, true)
	}
	a.root.AddItem(a.pages, 0, 1, !a.promptOn).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
}

func (a *App) setFocus(p tview.Primitive) {
	a.tapp.SetFocus(p)
}

func (a *App) setupCallbacks() {
	a.thread.SetFocuser(a.setFocus)
	a.search.SetFocuser(a.setFocus)

	a.login.SetOnSubmit(a.doLogin)
	a.convs.SetOnOpen(a.openConversation)
	a.thread.SetOnSend(func(text string) {
		a.async("send", func(ctx context.Context) error {
			return a.ctrl.Send(ctx, text)
		}, nil)
	})
	a.profileV.SetOnCancel(func() { a.back(false) })
	a.profileV.SetOnSave(func(name, phone, statusText string) {
		if err := a.ctrl.UpdateProfile(name, phone, statusText); err != nil {
			a.flash.Err(err)
			return
		}
		a.profileV.Update(a.ctrl.User(), a.profile)
		a.renderHeader()
		a.flash.Info("Profile updated")
	})
	a.search.SetOnBack(func() { a.back(false) })
	a.search.SetOnQuery(a.searchUsers)
	a.search.SetOnPick(func(u api.User) {
		var conv *api.Conversation
		a.async("start conversation", func(ctx context.Context) (err error) {
			conv, err = a.ctrl.CreateConversation(ctx, []int64{u.ID}, "", false)
			return err
		}, func() {
			a.pages.Pop()
			a.openConversation(conv.ID)
		})
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptCommand {
			a.runCommand(text)
		}
	})
	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		if mode == ui.PromptFilter {
			a.filter = text
			a.renderConversations()
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.filter = ""
			a.renderConversations()
		}
		a.hidePrompt()
	})
}

func (a *App) setupBindings() {
	r := a.registry
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: ':', Description: "Command", Handler: func() {
		a.showPrompt(ui.PromptCommand, "")
	}})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '?', Description: "Help", Handler: func() {
		a.pages.Push(pageHelp)
	}})
	r.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Description: "Back / Quit", Handler: func() {
		a.back(true)
	}})
	r.AddGlobal(&keys.Action{Key: tcell.KeyEscape, Description: "Back", Handler: func() {
		a.back(false)
	}})

	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: '/', Description: "Filter", Handler: func() {
		a.showPrompt(ui.PromptFilter, a.filter)
	}})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'n', Description: "New chat", Handler: func() {
		a.search.SetQuery("")
		a.search.Update("", nil)
		a.pages.Push(pageNew)
	}})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "Details", Handler: func() {
		a.showDetails(a.convs.SelectedID())
	}})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'p', Description: "Profile", Handler: a.showProfile})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Description: "Reload", Handler: func() {
		a.runCommand("refresh")
	}})
	r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: '0', Description: "Clear filter", Hidden: true, Handler: func() {
		a.filter = ""
		a.renderConversations()
	}})
	for i := 1; i <= 9; i++ {
		r.AddView(pageConversations, &keys.Action{Key: tcell.KeyRune, Rune: rune('0' + i), Description: "Jump", Hidden: true, Handler: func() {
			if id := a.convs.IDByIndex(i); id != 0 {
				a.openConversation(id)
			}
		}})
	}

	r.AddView(pageChat, &keys.Action{Key: tcell.KeyRune, Rune: 'i', Description: "Compose", Handler: a.thread.FocusComposer})
	r.AddView(pageChat, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "Details", Handler: func() {
		a.showDetails(a.snap.ActiveID)
	}})
	r.AddView(pageChat, &keys.Action{Key: tcell.KeyRune, Rune: 'r', Description: "Retry failed", Handler: func() {
		a.runCommand("retry")
	}})
	r.AddView(pageChat, &keys.Action{Key: tcell.KeyRune, Rune: 'x', Description: "Discard failed", Handler: func() {
		a.runCommand("discard")
	}})

	order := []string{"Global"}
	sections := map[string][]ui.MenuHint{"Global": r.Hints("")}
	for _, name := range []string{pageConversations, pageChat, pageNew, pageProfile} {
		order = append(order, name)
		sections[name] = append(a.pageViews[name].Hints(), r.ViewHints(name)...)
	}
	a.help.Update(sections, order, commandHelp)
}

// capture routes keys through the registry unless text is being typed.
func (a *App) capture(ev *tcell.EventKey) *tcell.EventKey {
	if a.promptOn {
		return ev
	}
	if _, typing := a.tapp.GetFocus().(*tview.InputField); typing {
		return ev
	}
	if a.registry.HandleEvent(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

func (a *App) onPageChange(stack []string) {
	next := stack[len(stack)-1]
	if prev, ok := a.pageViews[a.current]; ok && a.current != next {
		prev.Stop()
	}
	a.current = next

	a.crumbs.Update(stack)
	v := a.pageViews[next]
	a.menu.Update(append(v.Hints(), a.registry.Hints(next)...))
	a.setFocus(v)
	v.Start()
}

func (a *App) showPrompt(mode ui.PromptMode, text string) {
	if a.promptOn {
		return
	}
	if mode == ui.PromptFilter && a.pages.Current() != pageConversations {
		return
	}
	a.promptOn = true
	a.prompt.Activate(mode, text)
	a.layout()
	a.setFocus(a.prompt)
}

func (a *App) hidePrompt() {
	if !a.promptOn {
		return
	}
	a.promptOn = false
	a.layout()
	if v, ok := a.pageViews[a.pages.Current()]; ok {
		a.setFocus(v)
	}
}

// back pops the current page. On the root page quit exits and Escape
// clears the filter.
func (a *App) back(quit bool) {
	switch a.pages.Current() {
	case pageLogin:
		if quit {
			a.Stop()
		}
	case pageConversations:
		if quit {
			a.Stop()
		} else if a.filter != "" {
			a.filter = ""
			a.renderConversations()
		}
	case pageChat:
		a.closeConversation()
	default:
		a.pages.Pop()
	}
}

// Run starts the event loop and blocks until the user quits. The session
// is restored in the background while the interface is already up.
func (a *App) Run(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.watch()
	go a.flashLoop()
	go a.bootstrap()

	a.pages.Reset(pageConversations)
	a.renderHeader()
	a.flash.Info("Restoring session...")
	return a.tapp.Run()
}

// Stop ends the event loop.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.tapp.Stop()
}

func (a *App) bootstrap() {
	ctx, cancel := context.WithTimeout(a.ctx, opTimeout)
	defer cancel()
	err := a.ctrl.Bootstrap(ctx)
	a.tapp.QueueUpdateDraw(func() {
		switch {
		case err == nil && a.ctrl.Status() != status.AuthRequired:
			a.flash.Clear()
			if u := a.ctrl.User(); u != nil {
				a.flash.Infof("Signed in as %s", u.Name)
			}
		case errors.Is(err, app.ErrSessionExpired):
			a.showLogin()
			a.flash.Warn("Session expired, sign in again")
		case err != nil:
			a.showLogin()
			a.flash.Err(err)
		default:
			a.showLogin()
			a.flash.Clear()
		}
	})
}

// watch forwards bus events to the event loop.
func (a *App) watch() {
	b := a.ctrl.Bus()
	b.Consume(a.ctx, bus.KindSnapshot, 64, func(bus.Event) {
		a.tapp.QueueUpdateDraw(func() {
			// The latest snapshot, so bursts collapse into one render.
			a.snap = a.ctrl.Snapshot()
			a.render()
		})
	})
	b.Consume(a.ctx, bus.KindStatusChanged, 16, func(evt bus.Event) {
		change, _ := evt.Payload.(status.Change)
		a.tapp.QueueUpdateDraw(func() {
			a.renderHeader()
			if change.To == status.AuthRequired && change.From != status.Booting {
				a.showLogin()
			}
		})
	})
	b.Consume(a.ctx, bus.KindChannelError, 16, func(evt bus.Event) {
		err, ok := evt.Payload.(error)
		if !ok || api.IsAuth(err) {
			return
		}
		a.tapp.QueueUpdateDraw(func() { a.flash.Err(err) })
	})
	b.Consume(a.ctx, "message.", 32, func(bus.Event) {
		failed, err := a.ctrl.FailedSends(0)
		if err != nil {
			a.logger.Warn("listing failed sends", zap.Error(err))
			return
		}
		a.tapp.QueueUpdateDraw(func() {
			a.failed = failed
			a.renderThread()
			a.renderHeader()
		})
	})
	b.Consume(a.ctx, bus.KindUserNotification, 32, func(evt bus.Event) {
		n, ok := evt.Payload.(channel.UserNotification)
		if !ok || n.Message.UserID == a.selfID() {
			return
		}
		a.tapp.QueueUpdateDraw(func() {
			if n.ConversationID == a.snap.ActiveID {
				return
			}
			a.flash.Infof("%s: %s", n.Message.AuthorName(), intsync.Preview(n.Message.Content))
		})
	})
	b.Consume(a.ctx, bus.KindUnknownConversation, 8, func(bus.Event) {
		a.tapp.QueueUpdateDraw(func() { a.flash.Info("New conversation, reloading list") })
	})
}

func (a *App) flashLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	shown := false
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flash.Watch():
		case <-ticker.C:
			if !shown {
				continue
			}
		}
		msg := a.flash.Current()
		shown = msg != nil
		a.tapp.QueueUpdateDraw(func() { a.flashBar.Update(msg) })
	}
}

// async runs fn off the event loop and reports its error as a flash.
// done runs on the event loop after success.
func (a *App) async(op string, fn func(ctx context.Context) error, done func()) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, opTimeout)
		defer cancel()
		err := fn(ctx)
		a.tapp.QueueUpdateDraw(func() {
			if err != nil {
				a.logger.Warn(op+" failed", zap.Error(err))
				a.flash.Err(fmt.Errorf("%s: %w", op, err))
				return
			}
			if done != nil {
				done()
			}
		})
	}()
}

func (a *App) selfID() int64 {
	if u := a.ctrl.User(); u != nil {
		return u.ID
	}
	return 0
}

func (a *App) showLogin() {
	if a.pages.Current() == pageLogin {
		return
	}
	a.hidePrompt()
	a.filter = ""
	a.login.Reset()
	a.pages.Reset(pageLogin)
}

func (a *App) doLogin(email, password string) {
	a.login.SetBusy(true)
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, opTimeout)
		defer cancel()
		err := a.ctrl.Login(ctx, email, password)
		a.tapp.QueueUpdateDraw(func() {
			if err != nil {
				a.login.ShowError(loginMessage(err))
				return
			}
			a.login.Reset()
			a.pages.Reset(pageConversations)
			a.renderHeader()
			if u := a.ctrl.User(); u != nil {
				a.flash.Infof("Signed in as %s", u.Name)
			}
		})
	}()
}

func loginMessage(err error) string {
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		if authErr.Message != "" {
			return authErr.Message
		}
		return "invalid email or password"
	}
	return err.Error()
}

func (a *App) openConversation(id int64) {
	name := fmt.Sprintf("Conversation %d", id)
	if conv, ok := a.snap.Conversation(id); ok {
		name = conv.DisplayName(a.selfID())
	}
	a.thread.SetConversation(name)
	a.crumbs.SetTitle(pageChat, name)
	if a.pages.Current() == pageChat {
		a.crumbs.Update(a.pages.Stack())
	} else {
		a.pages.Push(pageChat)
	}
	a.async("open conversation", func(ctx context.Context) error {
		return a.ctrl.Select(ctx, id)
	}, nil)
}

func (a *App) closeConversation() {
	a.crumbs.SetTitle(pageChat, "")
	a.thread.SetConversation("")
	a.pages.Pop()
	go a.ctrl.Close()
}

func (a *App) showDetails(id int64) {
	conv, ok := a.snap.Conversation(id)
	if !ok {
		return
	}
	a.details.Update(conv, a.selfID())
	a.pages.Push(pageDetails)
}

func (a *App) showProfile() {
	a.profileV.Update(a.ctrl.User(), a.profile)
	a.pages.Push(pageProfile)
}

func (a *App) searchUsers(query string) {
	var users []api.User
	a.async("search", func(ctx context.Context) (err error) {
		users, err = a.ctrl.SearchUsers(ctx, query)
		return err
	}, func() {
		a.search.Update(query, users)
		if len(users) == 0 {
			a.flash.Warn(fmt.Sprintf("No users match %q", query))
		}
	})
}

// activeConversation returns the open conversation, flashing a warning
// when none is.
func (a *App) activeConversation() (int64, bool) {
	if a.snap.ActiveID == 0 {
		a.flash.Warn("Open a conversation first")
		return 0, false
	}
	return a.snap.ActiveID, true
}

func (a *App) lastFailed(conversationID int64) *store.OutboxEntry {
	for i := len(a.failed) - 1; i >= 0; i-- {
		if a.failed[i].ConversationID == conversationID {
			return &a.failed[i]
		}
	}
	return nil
}

func (a *App) runCommand(input string) {
	cmd := ParseCommand(input)
	switch cmd.Name {
	case "":
	case "quit":
		a.Stop()
	case "help":
		a.pages.Push(pageHelp)
	case "profile":
		a.showProfile()
	case "refresh":
		a.async("reload", a.ctrl.LoadConversations, func() {
			a.flash.Info("Conversations reloaded")
		})
	case "logout":
		a.async("logout", func(context.Context) error { return a.ctrl.Logout() }, func() {
			a.flash.Info("Signed out")
		})
	case "new":
		a.search.SetQuery(cmd.Args)
		a.search.Update(cmd.Args, nil)
		a.pages.Push(pageNew)
		if cmd.Args != "" {
			a.searchUsers(cmd.Args)
		}
	case "group":
		name, ids, err := ParseGroup(cmd.Args)
		if err != nil {
			a.flash.Err(err)
			return
		}
		var conv *api.Conversation
		a.async("create group", func(ctx context.Context) (err error) {
			conv, err = a.ctrl.CreateConversation(ctx, ids, name, true)
			return err
		}, func() { a.openConversation(conv.ID) })
	case "add":
		id, ok := a.activeConversation()
		if !ok {
			return
		}
		ids, err := ParseIDs(cmd.Args)
		if err != nil || len(ids) != 1 {
			a.flash.Warn("usage: add <userID>")
			return
		}
		a.async("add participant", func(ctx context.Context) error {
			return a.ctrl.AddParticipant(ctx, id, ids[0])
		}, func() { a.flash.Infof("Added user %d", ids[0]) })
	case "leave", "delete":
		id, ok := a.activeConversation()
		if !ok {
			return
		}
		drop := a.ctrl.Leave
		if cmd.Name == "delete" {
			drop = a.ctrl.Delete
		}
		a.async(cmd.Name, func(ctx context.Context) error { return drop(ctx, id) }, func() {
			a.crumbs.SetTitle(pageChat, "")
			a.pages.Reset(pageConversations)
		})
	case "retry":
		if _, ok := a.activeConversation(); !ok {
			return
		}
		a.async("retry", a.ctrl.RetryLast, func() { a.flash.Info("Message sent") })
	case "discard":
		id, ok := a.activeConversation()
		if !ok {
			return
		}
		e := a.lastFailed(id)
		if e == nil {
			a.flash.Warn("No failed message here")
			return
		}
		if err := a.ctrl.Discard(e.ClientMsgID); err != nil {
			a.flash.Err(err)
			return
		}
		if failed, err := a.ctrl.FailedSends(0); err == nil {
			a.failed = failed
		}
		a.renderThread()
		a.renderHeader()
	default:
		a.flash.Warn(fmt.Sprintf("Unknown command %q, see :help", cmd.Name))
	}
}

func (a *App) render() {
	a.renderConversations()
	a.renderThread()
	a.renderHeader()
}

func (a *App) renderConversations() {
	rows := model.ConversationRows(a.snap, a.selfID(), a.filter, time.Now())
	a.convs.Update(rows, len(a.snap.Conversations), a.filter)
}

func (a *App) renderThread() {
	if a.snap.ActiveID == 0 {
		return
	}
	if conv, ok := a.snap.Active(); ok {
		name := conv.DisplayName(a.selfID())
		a.thread.SetConversation(name)
		a.crumbs.SetTitle(pageChat, name)
	}
	a.thread.Update(model.MessageLines(a.snap, a.failed, a.selfID(), time.Now()))
}

func (a *App) renderHeader() {
	d := ui.HeaderData{
		Profile: a.profile,
		State:   a.ctrl.Status(),
		Chats:   len(a.snap.Conversations),
		Unread:  a.snap.UnreadTotal(),
		Failed:  len(a.failed),
	}
	if u := a.ctrl.User(); u != nil {
		d.User = u.Name
		d.Email = u.Email
	}
	a.header.Update(d)
}
