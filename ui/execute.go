package ui

import (
	"errors"
	"fmt"
	"strings"
)

var errOffline = errors.New("not connected, use /connect")

// execute runs one input line from the prompt.
func (a *App) execute(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	cmd, err := parseCommand(line)
	if err != nil {
		a.printErr(err)
		return
	}
	if err := a.run(cmd); err != nil {
		a.printErr(err)
	}
}

func (a *App) run(cmd command) error {
	switch cmd.name {
	case "help":
		fmt.Fprint(a.out, helpText())
		return nil
	case "quit":
		a.mu.Lock()
		a.quitting = true
		a.mu.Unlock()
		return nil
	case "bookmarks":
		return renderBookmarks(a.out, a.bookmarks.Bookmarks)
	case "autoaccept":
		return a.setAutoAccept(cmd.args[0])
	case "connect":
		return a.reconnect(cmd.args)
	case "disconnect":
		a.disconnect()
		a.println(a.theme.system.Sprint("* disconnected"))
		return nil
	}

	c := a.current()
	if c == nil {
		return errOffline
	}
	select {
	case <-c.Done():
		return errOffline
	default:
	}

	switch cmd.name {
	case "":
		return c.SendChat(cmd.args[0])
	case "msg":
		return c.SendPrivate(cmd.args[0], cmd.args[1])
	case "users":
		a.println(formatUsers(c.Users(), c.Name()))
		return nil
	case "send":
		info, err := c.SendFile(cmd.args[1], cmd.args[0])
		if err != nil {
			return err
		}
		a.println(a.theme.transfer.Sprintf("offered %q (%s) to %s", info.FileName, humanSize(int64(info.Size)), info.Receiver))
		return nil
	case "accept":
		_, err := c.AcceptTransfer(cmd.args[0], cmd.args[1])
		return err
	case "decline":
		return c.DeclineTransfer(cmd.args[0], cmd.args[1])
	case "cancel":
		id, err := parseTransferID(cmd.args[0])
		if err != nil {
			return err
		}
		return c.CancelTransfer(id)
	case "transfers":
		return renderTransfers(a.out, c.Transfers())
	case "history":
		return renderTransfers(a.out, c.TransferHistory())
	case "admin":
		password := ""
		if len(cmd.args) > 0 {
			password = cmd.args[0]
		} else {
			var err error
			if password, err = a.readPassword("admin password: "); err != nil {
				return err
			}
		}
		return c.AdminLogin(password)
	case "mute", "kick", "ban":
		kind, _ := punishmentFor(cmd.name)
		return c.Punish(kind, cmd.args[0])
	case "unmute", "unban":
		kind, _ := punishmentFor(cmd.name)
		return c.RemovePunishment(kind, cmd.args[0])
	case "punishments":
		return c.ListPunishments()
	}
	return fmt.Errorf("unhandled command /%s", cmd.name)
}

func (a *App) setAutoAccept(value string) error {
	on, err := parseOnOff(value)
	if err != nil {
		return fmt.Errorf("%w: /autoaccept on|off", errUsage)
	}
	a.mu.Lock()
	a.settings.AutoAccept = on
	a.mu.Unlock()
	if a.settingsPath != "" {
		if err := a.settings.Save(a.settingsPath); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	state := "off"
	if on {
		state = "on"
	}
	a.println(a.theme.system.Sprintf("* auto-accept %s", state))
	return nil
}

// reconnect handles /connect <server|bookmark> [user].
func (a *App) reconnect(args []string) error {
	a.mu.Lock()
	username := a.username
	a.mu.Unlock()
	if len(args) > 1 {
		username = args[1]
	}
	addr, username := a.resolveBookmark(args[0], username)
	if username == "" {
		return fmt.Errorf("%w: /connect <server|bookmark> <user>", errUsage)
	}
	password, err := a.readPassword("server password: ")
	if err != nil {
		return err
	}
	return a.connect(addr, username, password)
}
