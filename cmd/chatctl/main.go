package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/fx"
	"golang.org/x/term"

	"github.com/matheus3301/chatterm/internal/api"
	"github.com/matheus3301/chatterm/internal/app"
	"github.com/matheus3301/chatterm/internal/bus"
	"github.com/matheus3301/chatterm/internal/config"
	"github.com/matheus3301/chatterm/internal/profile"
	"github.com/matheus3301/chatterm/internal/store"
	intsync "github.com/matheus3301/chatterm/internal/sync"
)

const (
	requestTimeout   = 20 * time.Second
	lifecycleTimeout = 15 * time.Second
)

var errUsage = errors.New("usage")

type cli struct {
	ctrl    *app.Controller
	cfg     *config.Config
	profile string
	json    bool
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verboseFlag := flag.Bool("verbose", false, "debug logging, also to stderr")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Resolve(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c := &cli{cfg: cfg, profile: profileName, json: *jsonFlag}
	fxApp := fx.New(
		app.Module(app.Params{
			ProfileName: profileName,
			Config:      cfg,
			Console:     *verboseFlag,
			Verbose:     *verboseFlag,
		}),
		fx.Populate(&c.ctrl),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	err = fxApp.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	runErr := c.run(ctx, args[0], args[1:])
	stop()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancelStop()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}

	switch {
	case errors.Is(runErr, errUsage):
		os.Exit(2)
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] [--verbose] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login [email]        Sign in (password is prompted)")
	fmt.Fprintln(os.Stderr, "  logout               Sign out and forget the token")
	fmt.Fprintln(os.Stderr, "  whoami               Show the signed-in user")
	fmt.Fprintln(os.Stderr, "  chats                List conversations")
	fmt.Fprintln(os.Stderr, "  messages <id>        Show a conversation's messages")
	fmt.Fprintln(os.Stderr, "  send <id> <text>     Send a text message")
	fmt.Fprintln(os.Stderr, "  retry <client-id>    Resend a failed message")
	fmt.Fprintln(os.Stderr, "  tail                 Print realtime events until interrupted")
	fmt.Fprintln(os.Stderr, "  outbox [status]      List local sends (queued, sending, sent, failed)")
	fmt.Fprintln(os.Stderr, "  status               Show profile, connection and sync state")
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return c.login(ctx, args)
	case "logout":
		if err := c.ctrl.Logout(); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	case "outbox":
		return c.outbox(args)
	case "status":
		return c.status(ctx)
	}

	handler, ok := map[string]func() error{
		"whoami":   c.whoami,
		"chats":    c.chats,
		"messages": func() error { return c.messages(ctx, args) },
		"send":     func() error { return c.send(ctx, args) },
		"retry":    func() error { return c.retry(ctx, args) },
		"tail":     func() error { return c.tail(ctx) },
	}[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		return errUsage
	}

	// Everything else needs a valid session.
	if err := c.bootstrap(ctx); err != nil {
		return err
	}
	return handler()
}

func (c *cli) bootstrap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.ctrl.Bootstrap(ctx); err != nil {
		return fmt.Errorf("%w (run chatctl login)", err)
	}
	if c.ctrl.User() == nil {
		return errors.New("not signed in (run chatctl login)")
	}
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	var email string
	if len(args) > 0 {
		email = args[0]
	} else {
		fmt.Fprint(os.Stderr, "Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		email = strings.TrimSpace(line)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.ctrl.Login(ctx, email, string(pw)); err != nil {
		return err
	}
	u := c.ctrl.User()
	if c.json {
		return outputJSON(u)
	}
	fmt.Printf("Signed in as %s <%s> on profile %s.\n", u.Name, u.Email, c.profile)
	return nil
}

func (c *cli) whoami() error {
	u := c.ctrl.User()
	if c.json {
		return outputJSON(u)
	}
	fmt.Printf("ID:      %d\n", u.ID)
	fmt.Printf("Name:    %s\n", u.Name)
	fmt.Printf("Email:   %s\n", u.Email)
	if u.Phone != "" {
		fmt.Printf("Phone:   %s\n", u.Phone)
	}
	if u.Status != "" {
		fmt.Printf("Status:  %s\n", u.Status)
	}
	fmt.Printf("Profile: %s\n", c.profile)
	return nil
}

func (c *cli) chats() error {
	snap := c.ctrl.Snapshot()
	if c.json {
		return outputJSON(snap.Conversations)
	}
	if len(snap.Conversations) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	self := c.ctrl.User().ID
	for _, conv := range snap.Conversations {
		kind := "dm"
		if conv.IsGroup {
			kind = "group"
		}
		preview := ""
		if conv.LatestMessage != nil {
			preview = conv.LatestMessage.Content
		}
		fmt.Printf("%6d  %-5s  %3d  %-24s  %s\n", conv.ID, kind, conv.UnreadCount, conv.DisplayName(self), preview)
	}
	return nil
}

func parseConversationID(args []string, usage string) (int64, error) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chatctl "+usage)
		return 0, errUsage
	}
	id, err := api.ParseID(args[0])
	if err != nil {
		return 0, fmt.Errorf("conversation id %q: %w", args[0], err)
	}
	return id, nil
}

func (c *cli) messages(ctx context.Context, args []string) error {
	id, err := parseConversationID(args, "messages <id>")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.ctrl.Select(ctx, id); err != nil {
		return err
	}

	snap := c.ctrl.Snapshot()
	if c.json {
		return outputJSON(snap.Messages)
	}
	for _, m := range snap.Messages {
		fmt.Printf("%s  %-16s  %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), m.AuthorName(), m.Content)
	}
	return nil
}

func (c *cli) send(ctx context.Context, args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: chatctl send <id> <text>")
		return errUsage
	}
	id, err := parseConversationID(args, "send <id> <text>")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	msg, err := c.ctrl.SendTo(ctx, id, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if c.json {
		return outputJSON(msg)
	}
	fmt.Printf("Sent message %d to conversation %d.\n", msg.ID, id)
	return nil
}

func (c *cli) retry(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: chatctl retry <client-id>")
		return errUsage
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := c.ctrl.Retry(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Resent %s.\n", args[0])
	return nil
}

type tailLine struct {
	Kind    string    `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// tail prints realtime, connection and send events. Snapshots are left out;
// they restate the whole state on every change.
func (c *cli) tail(ctx context.Context) error {
	enc := json.NewEncoder(os.Stdout)
	lines := make(chan tailLine, 64)
	for _, ns := range []string{"rt.", "channel.", "status.", "message.", bus.KindDuplicateIgnored, bus.KindUnknownConversation} {
		c.ctrl.Bus().Consume(ctx, ns, 64, func(evt bus.Event) {
			payload := evt.Payload
			if err, ok := payload.(error); ok {
				payload = err.Error()
			}
			select {
			case lines <- tailLine{Kind: evt.Kind, Time: evt.Timestamp, Payload: payload}:
			case <-ctx.Done():
			}
		})
	}

	fmt.Fprintf(os.Stderr, "tailing %s (ctrl-c to stop)\n", strings.Join(c.ctrl.Topics(), ", "))
	for {
		select {
		case <-ctx.Done():
			return nil
		case l := <-lines:
			if err := enc.Encode(l); err != nil {
				return err
			}
		}
	}
}

func (c *cli) outbox(args []string) error {
	filter := ""
	if len(args) > 0 {
		filter = args[0]
		switch filter {
		case store.OutboxQueued, store.OutboxSending, store.OutboxSent, store.OutboxFailed:
		default:
			return fmt.Errorf("unknown outbox status %q", filter)
		}
	}
	entries, err := c.ctrl.Outbox(filter)
	if err != nil {
		return err
	}
	if c.json {
		return outputJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("Outbox is empty.")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-7s  conv=%d  tries=%d  %q", e.ClientMsgID, e.Status, e.ConversationID, e.Attempts, e.Content)
		if e.ErrorMessage != "" {
			line += "  error: " + e.ErrorMessage
		}
		fmt.Println(line)
	}
	return nil
}

type statusReport struct {
	Profile   string         `json:"profile"`
	APIURL    string         `json:"api_url"`
	Reverb    string         `json:"reverb"`
	State     string         `json:"state"`
	User      *api.User      `json:"user,omitempty"`
	Topics    []string       `json:"topics"`
	Sync      intsync.Stats  `json:"sync"`
	Outbox    map[string]int `json:"outbox"`
	Bootstrap string         `json:"bootstrap_error,omitempty"`
	Unread    int            `json:"unread"`
	Chats     int            `json:"conversations"`
}

func (c *cli) status(ctx context.Context) error {
	r := statusReport{
		Profile: c.profile,
		APIURL:  c.cfg.APIURL,
		Reverb:  c.cfg.Reverb.Scheme + "://" + c.cfg.Reverb.Host + ":" + strconv.Itoa(c.cfg.Reverb.Port),
		Outbox:  make(map[string]int),
	}
	if err := c.bootstrap(ctx); err != nil {
		r.Bootstrap = err.Error()
	}

	r.State = string(c.ctrl.Status())
	r.User = c.ctrl.User()
	r.Topics = c.ctrl.Topics()
	r.Sync = c.ctrl.Stats()
	snap := c.ctrl.Snapshot()
	r.Unread = snap.UnreadTotal()
	r.Chats = len(snap.Conversations)

	entries, err := c.ctrl.Outbox("")
	if err != nil {
		return err
	}
	for _, e := range entries {
		r.Outbox[e.Status]++
	}

	if c.json {
		return outputJSON(r)
	}
	fmt.Printf("Profile:  %s\n", r.Profile)
	fmt.Printf("API:      %s\n", r.APIURL)
	fmt.Printf("Reverb:   %s\n", r.Reverb)
	fmt.Printf("State:    %s\n", r.State)
	if r.User != nil {
		fmt.Printf("User:     %s <%s>\n", r.User.Name, r.User.Email)
	}
	if r.Bootstrap != "" {
		fmt.Printf("Session:  %s\n", r.Bootstrap)
	}
	fmt.Printf("Chats:    %d (%d unread)\n", r.Chats, r.Unread)
	fmt.Printf("Topics:   %s\n", strings.Join(r.Topics, ", "))
	fmt.Printf("Sync:     generation %d, %d duplicates ignored, %d stale loads\n",
		r.Sync.Generation, r.Sync.Duplicates, r.Sync.StaleLoads)
	fmt.Printf("Outbox:   %d failed, %d sent\n", r.Outbox[store.OutboxFailed], r.Outbox[store.OutboxSent])
	return nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
