package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/chatterm/internal/tui/views"
)

// Command is a parsed ':' prompt line.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses input without the leading ':'. Names are lowercased
// and aliases resolved.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if alias, ok := commandAliases[cmd.Name]; ok {
		cmd.Name = alias
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

var commandAliases = map[string]string{
	"q":    "quit",
	"q!":   "quit",
	"h":    "help",
	"chat": "new",
	"me":   "profile",
}

// commandHelp is listed on the help page in this order.
var commandHelp = []views.HelpEntry{
	{Usage: "new <query>", Description: "Find a user and start a direct chat"},
	{Usage: "group <name> <ids>", Description: "Create a group with user ids (1,2 or 1 2)"},
	{Usage: "add <userID>", Description: "Add a user to the open group"},
	{Usage: "leave", Description: "Leave the open conversation"},
	{Usage: "delete", Description: "Delete the open conversation"},
	{Usage: "retry", Description: "Resend the last failed message here"},
	{Usage: "discard", Description: "Drop the last failed message here"},
	{Usage: "refresh", Description: "Reload the conversation list"},
	{Usage: "profile", Description: "Show and edit your profile"},
	{Usage: "logout", Description: "Sign out of this profile"},
	{Usage: "help", Description: "Show this page"},
	{Usage: "quit", Description: "Exit"},
}

var errNoIDs = errors.New("no user ids given")

// ParseIDs reads user ids separated by spaces or commas.
func ParseIDs(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil, errNoIDs
	}
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseGroup splits "<name> <ids>" where the name may contain spaces and
// the trailing fields are ids.
func ParseGroup(args string) (string, []int64, error) {
	fields := strings.Fields(args)
	split := len(fields)
	for split > 0 {
		if _, err := ParseIDs(fields[split-1]); err != nil {
			break
		}
		split--
	}
	if split == 0 {
		return "", nil, errors.New("usage: group <name> <ids>")
	}
	if split == len(fields) {
		return "", nil, errNoIDs
	}
	ids, err := ParseIDs(strings.Join(fields[split:], " "))
	if err != nil {
		return "", nil, err
	}
	return strings.Join(fields[:split], " "), ids, nil
}
