// Package ui implements the interactive terminal client: a prompt with
// command completion, colored event output and table listings.
package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/NicolasHaas/mediachat/pkg/client"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
	"github.com/NicolasHaas/mediachat/pkg/transfer"
)

const (
	defaultPort    = "7777"
	connectTimeout = 10 * time.Second
)

// App is the terminal client application.
type App struct {
	out          io.Writer
	in           *bufio.Reader
	theme        *theme
	bookmarks    *client.BookmarkStore
	settings     *client.Settings
	settingsPath string

	mu       sync.Mutex
	client   *client.Client
	username string
	server   string // address of the current connection
	quitting bool
}

// NewApp creates the application with settings and bookmarks stored next
// to the executable.
func NewApp() *App {
	settingsPath := client.SettingsPath()
	a := newApp(color.Output, client.LoadSettings(settingsPath), client.NewBookmarkStore())
	a.settingsPath = settingsPath
	return a
}

func newApp(out io.Writer, settings *client.Settings, bookmarks *client.BookmarkStore) *App {
	if err := bookmarks.Load(); err != nil {
		slog.Debug("load bookmarks", "err", err)
	}
	return &App{
		out:       out,
		in:        bufio.NewReader(os.Stdin),
		theme:     newTheme(settings.Color),
		bookmarks: bookmarks,
		settings:  settings,
	}
}

// Run connects to addr as username, asking for whatever is missing, then
// reads commands until /quit. password may be empty to ask interactively.
func (a *App) Run(addr, username, password string) error {
	if addr == "" {
		addr = prompt.Input("server> ", func(d prompt.Document) []prompt.Suggest {
			return prompt.FilterHasPrefix(a.bookmarkSuggestions(), d.GetWordBeforeCursor(), true)
		})
	}
	addr, username = a.resolveBookmark(strings.TrimSpace(addr), username)
	if username == "" {
		username = strings.TrimSpace(prompt.Input("username> ", func(prompt.Document) []prompt.Suggest { return nil }))
	}
	if password == "" {
		var err error
		if password, err = a.readPassword("server password: "); err != nil {
			return err
		}
	}

	if err := a.connect(addr, username, password); err != nil {
		return err
	}

	p := prompt.New(
		a.execute,
		a.completer,
		prompt.OptionTitle("mediachat"),
		prompt.OptionLivePrefix(a.livePrefix),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
			return breakline && a.isQuitting()
		}),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlC,
			Fn: func(*prompt.Buffer) {
				a.disconnect()
				fmt.Fprintln(a.out)
				os.Exit(0)
			},
		}),
	)
	p.Run()
	a.disconnect()
	return nil
}

// resolveBookmark maps a bookmark name to its address and saved username.
func (a *App) resolveBookmark(target, username string) (string, string) {
	b := a.bookmarks.Find(target)
	if b == nil {
		return target, username
	}
	if username == "" {
		username = b.Username
	}
	return b.Addr, username
}

func (a *App) readPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	fmt.Fprint(a.out, label)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(a.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// normalizeAddr appends defaultPort when input has none.
func normalizeAddr(input, defaultPort string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("address is required")
	}
	if host, port, err := net.SplitHostPort(input); err == nil {
		return net.JoinHostPort(host, port), nil
	}
	if strings.Count(input, ":") > 1 {
		return net.JoinHostPort(strings.Trim(input, "[]"), defaultPort), nil
	}
	return net.JoinHostPort(input, defaultPort), nil
}

// connect logs in and makes the new client current. A previous connection
// is closed first.
func (a *App) connect(addr, username, password string) error {
	addr, err := normalizeAddr(addr, defaultPort)
	if err != nil {
		return err
	}
	a.disconnect()

	a.mu.Lock()
	a.username = username
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	c, err := client.Dial(ctx, addr, username, password, client.Options{
		DownloadDir: a.settings.DownloadDir,
		OnEvent:     a.onEvent,
	})
	if err != nil {
		var le *client.LoginError
		if errors.As(err, &le) {
			return fmt.Errorf("%s rejected the login: %s", addr, le.Status)
		}
		return err
	}

	a.mu.Lock()
	a.client = c
	a.server = addr
	a.mu.Unlock()

	a.saveCurrentBookmark(addr, username)
	a.println(a.theme.system.Sprintf("* connected to %s (%s)", c.ServerName(), addr))
	a.println(a.theme.system.Sprint(formatUsers(c.Users(), c.Name())))
	return nil
}

func (a *App) disconnect() {
	a.mu.Lock()
	c := a.client
	a.client = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Debug("close connection", "err", err)
	}
}

func (a *App) saveCurrentBookmark(addr, username string) {
	now := time.Now().Unix()
	if !a.bookmarks.Touch(addr, username, now) {
		a.bookmarks.Add(client.Bookmark{
			Name:     username + "@" + addr,
			Addr:     addr,
			Username: username,
			LastUsed: now,
		})
	}
	if err := a.bookmarks.Save(); err != nil {
		slog.Error("failed to save bookmark", "err", err)
	}
}

// current returns the live client, or nil when offline.
func (a *App) current() *client.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

func (a *App) isQuitting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quitting
}

func (a *App) livePrefix() (string, bool) {
	c := a.current()
	if c == nil {
		return "offline> ", true
	}
	select {
	case <-c.Done():
		return "offline> ", true
	default:
	}
	mark := ">"
	if c.IsAdmin() {
		mark = "#"
	}
	return fmt.Sprintf("%s@%s%s ", c.Name(), c.ServerName(), mark), true
}

func (a *App) println(s string) {
	fmt.Fprintln(a.out, s)
}

func (a *App) printErr(err error) {
	a.println(a.theme.errorC.Sprintf("! %v", err))
}

// onEvent runs on the client's reader goroutine.
func (a *App) onEvent(ev client.Event) {
	a.mu.Lock()
	self := a.username
	auto := a.settings.AutoAccept
	a.mu.Unlock()

	if line := a.theme.formatEvent(ev, self); line != "" {
		a.println(line)
	}

	switch ev.Kind {
	case client.EventPunishList:
		list := ev.Message.(protocol.AdminPunishList)
		if list.Result == protocol.ResultSuccess {
			if err := renderPunishments(a.out, list.Records); err != nil {
				a.printErr(err)
			}
		}
	case client.EventTransfer:
		if ev.Transfer.Kind == transfer.EventRequested && auto {
			a.acceptOffer(ev.Transfer.Transfer)
		}
	}
}

func (a *App) acceptOffer(info transfer.Info) {
	c := a.current()
	if c == nil {
		return
	}
	if _, err := c.AcceptTransfer(info.Sender, info.FileName); err != nil {
		a.printErr(err)
	}
}
