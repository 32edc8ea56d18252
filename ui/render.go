package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/NicolasHaas/mediachat/pkg/client"
	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
	"github.com/NicolasHaas/mediachat/pkg/transfer"
)

// theme holds the colors used for each kind of output line.
type theme struct {
	chat     *color.Color
	sender   *color.Color
	private  *color.Color
	system   *color.Color
	errorC   *color.Color
	transfer *color.Color
}

func newTheme(enabled bool) *theme {
	t := &theme{
		chat:     color.New(color.FgWhite),
		sender:   color.New(color.FgCyan, color.Bold),
		private:  color.New(color.FgMagenta),
		system:   color.New(color.FgYellow),
		errorC:   color.New(color.FgRed),
		transfer: color.New(color.FgGreen),
	}
	if !enabled {
		for _, c := range []*color.Color{t.chat, t.sender, t.private, t.system, t.errorC, t.transfer} {
			c.DisableColor()
		}
	}
	return t
}

// formatEvent renders ev as one or more display lines. self is the local
// username. It returns "" for events that print nothing.
func (t *theme) formatEvent(ev client.Event, self string) string {
	switch ev.Kind {
	case client.EventChat:
		m := ev.Message.(protocol.Chat)
		return t.sender.Sprint(m.Sender) + ": " + t.chat.Sprint(m.Text)

	case client.EventPrivateChat:
		m := ev.Message.(protocol.PrivateChat)
		if m.Sender == self {
			return t.private.Sprintf("[to %s] %s", m.Receiver, m.Text)
		}
		return t.private.Sprintf("[from %s] %s", m.Sender, m.Text)

	case client.EventUserJoined:
		return t.system.Sprintf("* %s joined", ev.Message.(protocol.UserAdded).Name)

	case client.EventUserLeft:
		return t.system.Sprintf("* %s left", ev.Message.(protocol.UserRemoved).Name)

	case client.EventServerError:
		return t.errorC.Sprintf("! server: %s", ev.Message.(protocol.ServerError).Message)

	case client.EventAdminLogin:
		if ev.Message.(protocol.AdminLogin).Result == protocol.ResultSuccess {
			return t.system.Sprint("* you are now an administrator")
		}
		return t.errorC.Sprint("! admin login rejected")

	case client.EventPunished:
		m := ev.Message.(protocol.AdminPunish)
		if m.Result != protocol.ResultSuccess {
			return t.errorC.Sprintf("! could not %s %s", m.Kind, m.Target)
		}
		return t.system.Sprintf("* %s was %s", m.Target, pastTense(m.Kind))

	case client.EventPunishmentRemoved:
		m := ev.Message.(protocol.AdminRemovePunishment)
		if m.Result != protocol.ResultSuccess {
			return t.errorC.Sprintf("! no %s stored for %s", m.Kind, m.Address)
		}
		return t.system.Sprintf("* %s lifted for %s", m.Kind, m.Address)

	case client.EventPunishList:
		if ev.Message.(protocol.AdminPunishList).Result != protocol.ResultSuccess {
			return t.errorC.Sprint("! punishment list denied")
		}
		return "" // printed as a table by the caller

	case client.EventTransfer:
		return t.formatTransfer(ev.Transfer)

	case client.EventKicked:
		return t.errorC.Sprintf("! %s", ev.Reason)

	case client.EventDisconnected:
		return t.errorC.Sprintf("! disconnected: %s", ev.Reason)
	}
	return ""
}

func (t *theme) formatTransfer(ev transfer.Event) string {
	info := ev.Transfer
	switch ev.Kind {
	case transfer.EventRequested:
		return t.transfer.Sprintf("%s offers %q (%s). /accept %s %s", info.Sender, info.FileName,
			humanSize(int64(info.Size)), info.Sender, info.FileName)
	case transfer.EventAccepted:
		return t.transfer.Sprintf("transfer #%d of %q with %s started", info.ID, info.FileName, info.Peer())
	case transfer.EventDeclined:
		return t.errorC.Sprintf("%s declined %q", info.Receiver, info.FileName)
	case transfer.EventCompleted:
		if info.Direction == transfer.Inbound {
			return t.transfer.Sprintf("received %q from %s (%s) -> %s", info.FileName, info.Sender,
				humanSize(info.Exchanged), info.Path)
		}
		return t.transfer.Sprintf("sent %q to %s (%s)", info.FileName, info.Receiver, humanSize(info.Exchanged))
	case transfer.EventFailed:
		reason := info.Reason
		if reason == "" {
			reason = "failed"
		}
		return t.errorC.Sprintf("transfer of %q with %s: %s", info.FileName, info.Peer(), reason)
	}
	return ""
}

func pastTense(k model.PunishmentKind) string {
	switch k {
	case model.PunishMute:
		return "muted"
	case model.PunishBan:
		return "banned"
	case model.PunishKick:
		return "kicked"
	}
	return k.String()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

func renderTransfers(w io.Writer, infos []transfer.Info) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Direction", "Peer", "File", "Stage", "Progress")
	for _, info := range infos {
		progress := humanSize(info.Exchanged) + " / " + humanSize(int64(info.Size))
		if info.Segments > 0 {
			progress += fmt.Sprintf(" (%d/%d)", info.Segment, info.Segments)
		}
		id := "-"
		if info.ID != 0 {
			id = strconv.Itoa(int(info.ID))
		}
		stage := info.Stage.String()
		if info.Declined {
			stage = "declined"
		}
		if err := table.Append([]string{id, info.Direction.String(), info.Peer(), info.FileName, stage, progress}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderPunishments(w io.Writer, records []model.Punishment) error {
	table := tablewriter.NewWriter(w)
	table.Header("Address", "Username", "Kind", "Since")
	for _, p := range records {
		if err := table.Append([]string{p.Address, p.Username, p.Kind.String(), p.CreatedAt.Local().Format(time.DateTime)}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderBookmarks(w io.Writer, bookmarks []client.Bookmark) error {
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Server", "Username", "Last used")
	for _, b := range bookmarks {
		last := "never"
		if b.LastUsed > 0 {
			last = time.Unix(b.LastUsed, 0).Format(time.DateTime)
		}
		if err := table.Append([]string{b.Name, b.Addr, b.Username, last}); err != nil {
			return err
		}
	}
	return table.Render()
}

func formatUsers(names []string, self string) string {
	marked := make([]string, len(names))
	for i, n := range names {
		marked[i] = n
		if n == self {
			marked[i] = n + " (you)"
		}
	}
	return fmt.Sprintf("%d online: %s", len(names), strings.Join(marked, ", "))
}
