package server

import (
	"context"
	"fmt"

	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
	"github.com/NicolasHaas/mediachat/pkg/rbac"
)

// handle dispatches a decoded client message to the per-kind handler.
func (h *handler) handle(ctx context.Context, m protocol.Message) {
	switch msg := m.(type) {
	case protocol.Chat:
		h.handleChat(msg)
	case protocol.PrivateChat:
		h.handlePrivateChat(msg)
	case protocol.FileTransfer:
		h.handleFileTransfer(msg)
	case protocol.AdminLogin:
		h.handleAdminLogin(msg)
	case protocol.AdminPunishList:
		h.handlePunishList()
	case protocol.AdminPunish:
		h.handlePunish(ctx, msg)
	case protocol.AdminRemovePunishment:
		h.handleRemovePunishment(msg)
	default:
		h.log.Debug("unexpected message from client", "tag", m.Tag())
		h.reply(protocol.ServerError{Message: fmt.Sprintf("unexpected message %s", m.Tag())})
	}
}

// reply sends m to this session only.
func (h *handler) reply(m protocol.Message) {
	h.srv.dispatcher.Route(h.sess.Name(), m)
}

func (h *handler) handleChat(msg protocol.Chat) {
	if h.sess.Muted() {
		h.srv.metrics.MutedDrops.Add(1)
		return
	}
	text := model.SanitizeChat(msg.Text)
	if err := model.ValidateChat(text); err != nil {
		h.reply(protocol.ServerError{Message: err.Error()})
		return
	}
	h.srv.dispatcher.Route(h.sess.Name(), protocol.Chat{Sender: h.sess.Name(), Text: text})
}

func (h *handler) handlePrivateChat(msg protocol.PrivateChat) {
	if h.sess.Muted() {
		h.srv.metrics.MutedDrops.Add(1)
		return
	}
	text := model.SanitizeChat(msg.Text)
	if err := model.ValidateChat(text); err != nil {
		h.reply(protocol.ServerError{Message: err.Error()})
		return
	}
	h.srv.dispatcher.Route(h.sess.Name(), protocol.PrivateChat{
		Sender:   h.sess.Name(),
		Receiver: msg.Receiver,
		Text:     text,
	})
}

// handleFileTransfer validates a transfer message, mints the ID when a
// response accepts, and routes it to the peer.
func (h *handler) handleFileTransfer(msg protocol.FileTransfer) {
	if msg.Peer == "" || msg.FileName == "" || (msg.Stage == protocol.StageRequest && msg.Size < 0) {
		h.sess.Deliver(protocol.FileTransfer{
			Stage:    protocol.StageError,
			ID:       msg.ID,
			Peer:     msg.Peer,
			FileName: msg.FileName,
			Reason:   "invalid transfer request",
		})
		return
	}

	if !h.isParty(msg) {
		h.srv.metrics.ForeignTransfers.Add(1)
		h.log.Warn("transfer message for a foreign transfer dropped", "stage", msg.Stage, "id", msg.ID, "peer", msg.Peer)
		return
	}

	switch msg.Stage {
	case protocol.StageResponse:
		if msg.Result == protocol.ResultSuccess {
			msg.ID = h.srv.nextTransferID()
			// The responder learns the ID from its own echo, queued ahead
			// of anything the requester can send back.
			h.sess.Deliver(msg)
			h.log.Info("transfer accepted", "id", msg.ID, "file", msg.FileName, "sender", msg.Peer)
		}
	case protocol.StageData:
		h.srv.metrics.TransferBytes.Add(int64(len(msg.Data)))
	}

	h.track(msg)
	h.srv.dispatcher.Route(h.sess.Name(), msg)
}

func (h *handler) handleAdminLogin(msg protocol.AdminLogin) {
	result := protocol.ResultFailure
	if h.srv.cfg.AdminPassword != "" && msg.Password == h.srv.cfg.AdminPassword {
		h.sess.SetRole(model.RoleAdmin)
		result = protocol.ResultSuccess
		h.log.Info("admin login")
	} else {
		h.log.Warn("admin login rejected")
	}
	h.reply(protocol.AdminLogin{Result: result})
}

func (h *handler) handlePunishList() {
	if err := rbac.Require(h.sess.Role(), model.PermListPunishments); err != nil {
		h.reply(protocol.AdminPunishList{Result: protocol.ResultFailure})
		return
	}
	records, err := h.srv.store.ListPunishments()
	if err != nil {
		h.srv.metrics.PersistenceErrors.Add(1)
		h.log.Error("list punishments", "err", err)
		h.reply(protocol.AdminPunishList{Result: protocol.ResultFailure})
		return
	}
	h.reply(protocol.AdminPunishList{Result: protocol.ResultSuccess, Records: records})
}

// handlePunish resolves the target's address, persists mutes and bans, and
// routes the outcome: to everyone when committed, to the requester otherwise.
func (h *handler) handlePunish(ctx context.Context, msg protocol.AdminPunish) {
	out := protocol.AdminPunish{Kind: msg.Kind, Target: msg.Target, Result: protocol.ResultFailure}

	if err := rbac.Require(h.sess.Role(), model.PermPunish); err != nil {
		h.log.Warn("punish denied", "err", err)
		h.reply(out)
		return
	}

	target, online, err := h.srv.dispatcher.Lookup(ctx, msg.Target)
	if err != nil || !online {
		h.reply(out)
		return
	}
	out.Address = target.Address

	if msg.Kind.Persistent() {
		if err := h.srv.store.SetPunishment(target.Address, target.Name, msg.Kind); err != nil {
			h.srv.metrics.PersistenceErrors.Add(1)
			h.log.Error("persist punishment", "kind", msg.Kind, "target", msg.Target, "err", err)
			h.reply(out)
			return
		}
	}

	switch msg.Kind {
	case model.PunishMute:
		h.srv.metrics.MuteCount.Add(1)
	case model.PunishBan:
		h.srv.metrics.BanCount.Add(1)
	case model.PunishKick:
		h.srv.metrics.KickCount.Add(1)
	}
	h.log.Info("punishment committed", "kind", msg.Kind, "target", msg.Target, "address", target.Address)

	out.Result = protocol.ResultSuccess
	h.srv.dispatcher.Route(h.sess.Name(), out)
}

func (h *handler) handleRemovePunishment(msg protocol.AdminRemovePunishment) {
	out := protocol.AdminRemovePunishment{Kind: msg.Kind, Address: msg.Address, Result: protocol.ResultFailure}

	if err := rbac.Require(h.sess.Role(), model.PermRemovePunishment); err != nil || !msg.Kind.Persistent() {
		h.reply(out)
		return
	}

	removed, err := h.srv.store.RemovePunishment(msg.Address, msg.Kind)
	if err != nil {
		h.srv.metrics.PersistenceErrors.Add(1)
		h.log.Error("remove punishment", "kind", msg.Kind, "address", msg.Address, "err", err)
		h.reply(out)
		return
	}
	if removed {
		out.Result = protocol.ResultSuccess
		h.log.Info("punishment removed", "kind", msg.Kind, "address", msg.Address)
	}
	h.srv.dispatcher.Route(h.sess.Name(), out)
}
