package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/mediachat/pkg/logging"
	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

// HandlerState is the lifecycle phase of a connection handler.
type HandlerState int32

const (
	StateConnecting HandlerState = iota
	StateAuthenticating
	StateActive
	StateTerminating
	StateClosed
)

func (s HandlerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// transferKey identifies an in-flight transfer from this session's side.
type transferKey struct {
	peer string
	file string
}

// handler owns one client connection from handshake to close.
type handler struct {
	srv  *Server
	conn net.Conn
	br   *bufio.Reader
	log  *slog.Logger
	addr string

	state atomic.Int32
	sess  *Session

	mu        sync.Mutex
	transfers map[transferKey]int32

	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

func newHandler(srv *Server, conn net.Conn) *handler {
	remote := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	log, _ := logging.ForConnection(remote)
	return &handler{
		srv:       srv,
		conn:      conn,
		br:        bufio.NewReader(conn),
		log:       log,
		addr:      host,
		transfers: make(map[transferKey]int32),
	}
}

// State returns the current lifecycle phase.
func (h *handler) State() HandlerState {
	return HandlerState(h.state.Load())
}

func (h *handler) setState(s HandlerState) {
	h.state.Store(int32(s))
}

// serve runs the connection to completion.
func (h *handler) serve(ctx context.Context) {
	h.log.Debug("new connection")

	sess, ok := h.authenticate(ctx)
	if !ok {
		h.setState(StateTerminating)
		_ = h.conn.Close()
		h.setState(StateClosed)
		return
	}
	h.sess = sess
	h.log = h.log.With("user", sess.Name())
	h.setState(StateActive)
	h.srv.metrics.SuccessfulAuths.Add(1)
	h.log.Info("client authenticated", "muted", sess.Muted())

	h.writerWG.Add(1)
	go h.writeLoop(ctx)

	h.readLoop(ctx)
	h.terminate()
	h.writerWG.Wait()
	h.setState(StateClosed)
}

// authenticate reads the raw handshake and registers the session. Every
// failure answers with one LoginResult.
func (h *handler) authenticate(ctx context.Context) (*Session, bool) {
	h.setState(StateAuthenticating)

	_ = h.conn.SetReadDeadline(time.Now().Add(h.srv.cfg.LoginTimeout))
	name, password, err := protocol.ReadLogin(h.br)
	if err != nil {
		if errors.Is(err, protocol.ErrProtocolViolation) {
			h.srv.metrics.ProtocolViolations.Add(1)
		}
		h.log.Debug("handshake read failed", "err", err)
		return nil, false
	}
	_ = h.conn.SetReadDeadline(time.Time{})

	status := h.checkLogin(ctx, name, password)
	var muted bool
	if status == protocol.LoginOK {
		muted, err = h.srv.store.IsMuted(h.addr)
		if err != nil {
			h.srv.metrics.PersistenceErrors.Add(1)
			h.log.Error("mute check failed, assuming not muted", "err", err)
			muted = false
		}
	}

	var sess *Session
	if status == protocol.LoginOK {
		sess = NewSession(name, h.addr, muted)
		switch err := h.srv.dispatcher.Register(ctx, sess); {
		case err == nil:
		case errors.Is(err, ErrNameTaken):
			status = protocol.LoginNameTaken
		case errors.Is(err, ErrAddressInUse):
			status = protocol.LoginAddressInUse
		default:
			h.log.Error("register failed", "err", err)
			status = protocol.LoginServerError
		}
	}

	if status != protocol.LoginOK {
		h.srv.metrics.FailedAuths.Add(1)
		h.log.Info("login rejected", "user", name, "status", status)
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.srv.cfg.WriteTimeout))
		_ = protocol.Write(h.conn, protocol.LoginResult{Status: status, Message: status.String()})
		return nil, false
	}
	return sess, true
}

// checkLogin applies the login rules in order and returns the first failure.
func (h *handler) checkLogin(ctx context.Context, name, password string) protocol.LoginStatus {
	switch err := model.ValidateUsername(name); {
	case errors.Is(err, model.ErrUsernameTooLong):
		return protocol.LoginNameTooLong
	case err != nil:
		return protocol.LoginNameInvalid
	}

	_, taken, err := h.srv.dispatcher.Lookup(ctx, name)
	if err != nil {
		h.log.Error("lookup failed", "err", err)
		return protocol.LoginServerError
	}
	if taken {
		return protocol.LoginNameTaken
	}

	if password != h.srv.cfg.ServerPassword {
		return protocol.LoginWrongPassword
	}

	banned, err := h.srv.store.IsBanned(h.addr)
	if err != nil {
		h.srv.metrics.PersistenceErrors.Add(1)
		h.log.Error("ban check failed, admitting", "err", err)
		return protocol.LoginOK
	}
	if banned {
		return protocol.LoginBanned
	}
	return protocol.LoginOK
}

// readLoop polls the socket with a short deadline so it notices shutdown
// between frames. Peek never consumes bytes, so a poll timeout cannot split
// a frame; once a frame has started the longer frame deadline applies.
func (h *handler) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil || h.State() != StateActive {
			return
		}

		_ = h.conn.SetReadDeadline(time.Now().Add(h.srv.cfg.PollInterval))
		if _, err := h.br.Peek(1); err != nil {
			if isTimeout(err) {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				h.log.Debug("read error", "err", err)
			}
			return
		}

		_ = h.conn.SetReadDeadline(time.Now().Add(h.srv.cfg.FrameTimeout))
		msg, err := protocol.Decode(h.br)
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrProtocolViolation):
				h.srv.metrics.ProtocolViolations.Add(1)
				h.log.Warn("protocol violation", "err", err)
			case errors.Is(err, net.ErrClosed):
			default:
				h.log.Debug("decode error", "err", err)
			}
			return
		}
		h.handle(ctx, msg)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// writeLoop drains the session mailbox onto the socket.
func (h *handler) writeLoop(ctx context.Context) {
	defer h.writerWG.Done()
	for {
		msg, err := h.sess.mailbox.Next(ctx)
		if err != nil {
			return
		}

		kick := h.observe(msg)

		_ = h.conn.SetWriteDeadline(time.Now().Add(h.srv.cfg.WriteTimeout))
		if err := protocol.Write(h.conn, msg); err != nil {
			h.log.Debug("write failed", "err", err)
			h.terminate()
			return
		}

		if kick != nil {
			_ = protocol.Write(h.conn, *kick)
			h.log.Info("session punished, disconnecting", "kind", kick.Kind)
			h.terminate()
			return
		}
	}
}

// observe inspects a delivery before it is written. A committed ban or kick
// naming this session returns the Kicked notice to send; the dispatcher has
// already muted the session for a committed mute. Unmutes are keyed by address, the only
// identity a persisted record keeps.
func (h *handler) observe(m protocol.Message) *protocol.Kicked {
	switch msg := m.(type) {
	case protocol.AdminPunish:
		if msg.Result != protocol.ResultSuccess || msg.Target != h.sess.Name() {
			return nil
		}
		switch msg.Kind {
		case model.PunishBan:
			return &protocol.Kicked{Kind: msg.Kind, Reason: "banned by an administrator"}
		case model.PunishKick:
			return &protocol.Kicked{Kind: msg.Kind, Reason: "kicked by an administrator"}
		}

	case protocol.AdminRemovePunishment:
		if msg.Result == protocol.ResultSuccess && msg.Kind == model.PunishMute && msg.Address == h.sess.Address() {
			h.sess.SetMuted(false)
		}

	case protocol.FileTransfer:
		h.track(msg)
	}
	return nil
}

// track keeps the set of transfers this session is part of, keyed by the
// counterpart and file name. It sees both directions: messages the client
// sent (Peer is the destination) and deliveries (Peer is the originator).
func (h *handler) track(msg protocol.FileTransfer) {
	k := transferKey{peer: msg.Peer, file: msg.FileName}
	h.mu.Lock()
	defer h.mu.Unlock()

	switch msg.Stage {
	case protocol.StageRequest:
		h.transfers[k] = 0
	case protocol.StageResponse:
		if msg.Result == protocol.ResultSuccess {
			h.transfers[k] = msg.ID
		} else {
			delete(h.transfers, k)
		}
	case protocol.StageEnd:
		if msg.Result != protocol.ResultSuccess {
			delete(h.transfers, k)
		}
	case protocol.StageDone, protocol.StageError:
		delete(h.transfers, k)
	}
}

// isParty reports whether a transfer message this client sent belongs to a
// transfer it takes part in. A request opens one; a response needs the
// request it answers; later stages need the ID minted for that peer.
func (h *handler) isParty(msg protocol.FileTransfer) bool {
	if msg.Stage == protocol.StageRequest {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.ID == 0 {
		_, ok := h.transfers[transferKey{peer: msg.Peer, file: msg.FileName}]
		return ok
	}
	for k, id := range h.transfers {
		if id == msg.ID && k.peer == msg.Peer {
			return true
		}
	}
	return false
}

// terminate tears the session down exactly once: unregister, tell every
// counterpart of an unfinished transfer it failed, close mailbox and socket.
func (h *handler) terminate() {
	h.closeOnce.Do(func() {
		h.setState(StateTerminating)

		h.srv.dispatcher.Unregister(h.sess)

		h.mu.Lock()
		for k, id := range h.transfers {
			h.srv.dispatcher.Route(h.sess.Name(), protocol.FileTransfer{
				Stage:    protocol.StageEnd,
				ID:       id,
				Peer:     k.peer,
				FileName: k.file,
				Result:   protocol.ResultFailure,
			})
		}
		clear(h.transfers)
		h.mu.Unlock()

		h.sess.mailbox.Close()
		_ = h.conn.Close()
		h.srv.metrics.TotalDisconnects.Add(1)
		h.log.Info("client disconnected")
	})
}
