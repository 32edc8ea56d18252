package ui

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/NicolasHaas/mediachat/pkg/model"
)

var errUsage = errors.New("usage")

// argKind tells the completer what to suggest for an argument.
type argKind int

const (
	argNone argKind = iota
	argUser
	argFile
	argText
	argBookmark
)

// commandSpec describes one slash command. parts is the number of
// whitespace-separated arguments; the last one swallows the rest of the line.
type commandSpec struct {
	name  string
	parts int
	min   int
	args  []argKind
	usage string
	desc  string
}

var commands = []commandSpec{
	{name: "msg", parts: 2, min: 2, args: []argKind{argUser, argText}, usage: "/msg <user> <text>", desc: "Send a private message"},
	{name: "send", parts: 2, min: 2, args: []argKind{argUser, argFile}, usage: "/send <user> <path>", desc: "Offer a file"},
	{name: "accept", parts: 2, min: 2, args: []argKind{argUser, argText}, usage: "/accept <user> <file>", desc: "Accept a pending file offer"},
	{name: "decline", parts: 2, min: 2, args: []argKind{argUser, argText}, usage: "/decline <user> <file>", desc: "Decline a pending file offer"},
	{name: "cancel", parts: 1, min: 1, usage: "/cancel <id>", desc: "Abort a running transfer"},
	{name: "transfers", usage: "/transfers", desc: "List live transfers"},
	{name: "history", usage: "/history", desc: "List finished transfers"},
	{name: "users", usage: "/users", desc: "List online users"},
	{name: "admin", parts: 1, usage: "/admin [password]", desc: "Request the admin role"},
	{name: "mute", parts: 1, min: 1, args: []argKind{argUser}, usage: "/mute <user>", desc: "Mute a user (admin)"},
	{name: "kick", parts: 1, min: 1, args: []argKind{argUser}, usage: "/kick <user>", desc: "Disconnect a user (admin)"},
	{name: "ban", parts: 1, min: 1, args: []argKind{argUser}, usage: "/ban <user>", desc: "Ban a user's address (admin)"},
	{name: "unmute", parts: 1, min: 1, usage: "/unmute <address>", desc: "Lift a mute (admin)"},
	{name: "unban", parts: 1, min: 1, usage: "/unban <address>", desc: "Lift a ban (admin)"},
	{name: "punishments", usage: "/punishments", desc: "List stored mutes and bans (admin)"},
	{name: "autoaccept", parts: 1, min: 1, usage: "/autoaccept on|off", desc: "Accept incoming files automatically"},
	{name: "bookmarks", usage: "/bookmarks", desc: "List saved servers"},
	{name: "connect", parts: 2, min: 1, args: []argKind{argBookmark, argNone}, usage: "/connect <server|bookmark> [user]", desc: "Connect to a server"},
	{name: "disconnect", usage: "/disconnect", desc: "Leave the server"},
	{name: "help", usage: "/help", desc: "Show commands"},
	{name: "quit", usage: "/quit", desc: "Exit"},
}

func lookupCommand(name string) (commandSpec, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return commandSpec{}, false
}

// command is one parsed input line. An empty name is a broadcast chat
// carrying the whole line in args[0].
type command struct {
	name string
	args []string
}

// parseCommand splits an input line. Lines not starting with '/' are chat;
// a leading "//" sends a literal slash.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errUsage
	}
	if strings.HasPrefix(line, "//") {
		return command{args: []string{line[1:]}}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{args: []string{line}}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	name = strings.ToLower(name)
	spec, ok := lookupCommand(name)
	if !ok {
		return command{}, fmt.Errorf("unknown command /%s, try /help", name)
	}

	args := splitArgs(rest, spec.parts)
	if len(args) < spec.min {
		return command{}, fmt.Errorf("%w: %s", errUsage, spec.usage)
	}
	return command{name: name, args: args}, nil
}

// splitArgs splits s into at most n fields; the last field keeps its inner
// spacing so file names and message text survive intact.
func splitArgs(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" || n <= 0 {
		return nil
	}
	var out []string
	for len(out) < n-1 {
		head, tail, found := strings.Cut(s, " ")
		out = append(out, head)
		s = strings.TrimSpace(tail)
		if !found || s == "" {
			return out
		}
	}
	return append(out, s)
}

// punishmentFor maps a punishment command to its kind.
func punishmentFor(name string) (model.PunishmentKind, bool) {
	switch name {
	case "mute", "unmute":
		return model.PunishMute, true
	case "ban", "unban":
		return model.PunishBan, true
	case "kick":
		return model.PunishKick, true
	}
	return 0, false
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseTransferID(s string) (int32, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 32)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid transfer id %q", s)
	}
	return int32(id), nil
}

// helpText lists every command, sorted.
func helpText() string {
	specs := append([]commandSpec(nil), commands...)
	sort.Slice(specs, func(i, j int) bool { return specs[i].name < specs[j].name })

	var b strings.Builder
	b.WriteString("Type a line to chat with everyone. Commands:\n")
	for _, c := range specs {
		fmt.Fprintf(&b, "  %-36s %s\n", c.usage, c.desc)
	}
	return b.String()
}
