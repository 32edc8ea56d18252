package client

import (
	"errors"
	"io"
	"net"

	"github.com/NicolasHaas/mediachat/pkg/protocol"
	"github.com/NicolasHaas/mediachat/pkg/transfer"
)

// EventKind classifies a server event.
type EventKind int

const (
	EventChat EventKind = iota
	EventPrivateChat
	EventUserJoined
	EventUserLeft
	EventServerError
	EventAdminLogin
	EventPunished
	EventPunishmentRemoved
	EventPunishList
	EventTransfer
	EventKicked
	EventDisconnected
)

// Event is one thing the server told us. Message holds the decoded wire
// message; Transfer is set for EventTransfer; Reason for EventKicked and
// EventDisconnected.
type Event struct {
	Kind     EventKind
	Message  protocol.Message
	Transfer transfer.Event
	Reason   string
}

// EventHandler is a callback for incoming server events.
type EventHandler func(ev Event)

func (c *Client) emit(ev Event) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}

// readLoop decodes server messages until the connection ends.
func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		msg, err := protocol.Decode(c.br)
		if err != nil {
			reason := "connection lost"
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, protocol.ErrProtocolViolation):
				reason = "protocol violation"
				c.log.Error("server sent malformed frame", "err", err)
			default:
				c.log.Debug("read error", "err", err)
			}
			c.terminate(reason, false)
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(m protocol.Message) {
	switch msg := m.(type) {
	case protocol.Chat:
		c.emit(Event{Kind: EventChat, Message: msg})

	case protocol.PrivateChat:
		c.emit(Event{Kind: EventPrivateChat, Message: msg})

	case protocol.UserList:
		c.mu.Lock()
		c.users = make(map[string]struct{}, len(msg.Names))
		for _, n := range msg.Names {
			c.users[n] = struct{}{}
		}
		c.mu.Unlock()

	case protocol.UserAdded:
		c.mu.Lock()
		c.users[msg.Name] = struct{}{}
		c.mu.Unlock()
		c.emit(Event{Kind: EventUserJoined, Message: msg})

	case protocol.UserRemoved:
		c.mu.Lock()
		delete(c.users, msg.Name)
		c.mu.Unlock()
		c.emit(Event{Kind: EventUserLeft, Message: msg})

	case protocol.FileTransfer:
		c.handleTransfer(msg)

	case protocol.AdminLogin:
		c.mu.Lock()
		c.admin = msg.Result == protocol.ResultSuccess
		c.mu.Unlock()
		c.emit(Event{Kind: EventAdminLogin, Message: msg})

	case protocol.AdminPunish:
		c.emit(Event{Kind: EventPunished, Message: msg})

	case protocol.AdminRemovePunishment:
		c.emit(Event{Kind: EventPunishmentRemoved, Message: msg})

	case protocol.AdminPunishList:
		c.emit(Event{Kind: EventPunishList, Message: msg})

	case protocol.Kicked:
		c.mu.Lock()
		c.reason = msg.Reason
		c.mu.Unlock()
		c.emit(Event{Kind: EventKicked, Message: msg, Reason: msg.Reason})

	case protocol.ServerError:
		c.log.Warn("server error", "msg", msg.Message)
		c.emit(Event{Kind: EventServerError, Message: msg})

	default:
		c.log.Debug("ignoring unexpected message", "tag", m.Tag())
	}
}

// handleTransfer feeds the ticket manager and, for new offers, applies the
// AcceptTransfer policy.
func (c *Client) handleTransfer(msg protocol.FileTransfer) {
	ev := c.transfers.Handle(msg)
	if ev.Kind == transfer.EventNone {
		return
	}
	c.emit(Event{Kind: EventTransfer, Message: msg, Transfer: ev})

	if ev.Kind != transfer.EventRequested || c.opts.AcceptTransfer == nil {
		return
	}
	info := ev.Transfer
	if !c.opts.AcceptTransfer(info) {
		if err := c.transfers.Decline(info.Sender, info.FileName); err != nil {
			c.log.Warn("decline transfer", "file", info.FileName, "err", err)
		}
		return
	}
	if _, err := c.transfers.Accept(info.Sender, info.FileName); err != nil {
		c.log.Warn("accept transfer failed, declined", "file", info.FileName, "err", err)
	}
}
