package server

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/NicolasHaas/mediachat/pkg/mailbox"
	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

var (
	ErrNameTaken        = errors.New("dispatcher: name already registered")
	ErrAddressInUse     = errors.New("dispatcher: address already logged in")
	ErrDispatcherClosed = errors.New("dispatcher: closed")
)

type opKind int

const (
	opRegister opKind = iota
	opUnregister
	opRoute
	opLookup
	opUsers
)

type command struct {
	op      opKind
	session *Session
	name    string
	msg     protocol.Message
	reply   chan reply
}

type reply struct {
	err   error
	info  model.SessionInfo
	found bool
	names []string
}

// Dispatcher owns the session registry. All access goes through its inbox
// and is serialized by the single Run goroutine, so routing decisions see a
// consistent registry.
type Dispatcher struct {
	serverName string
	allowMulti bool
	metrics    *Metrics
	log        *slog.Logger

	inbox    *mailbox.Mailbox[command]
	sessions map[string]*Session // owned by Run
	done     chan struct{}
}

// NewDispatcher creates a dispatcher. serverName is sent in the login
// result; allowMulti lifts the one-session-per-address rule.
func NewDispatcher(serverName string, allowMulti bool, metrics *Metrics) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Dispatcher{
		serverName: serverName,
		allowMulti: allowMulti,
		metrics:    metrics,
		log:        slog.Default().With("component", "dispatcher"),
		inbox:      mailbox.New[command](),
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
	}
}

// Run processes commands until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	defer d.inbox.Close()

	for {
		cmd, err := d.inbox.Next(ctx)
		if err != nil {
			return
		}
		d.apply(cmd)
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) submit(cmd command) bool {
	return d.inbox.Enqueue(cmd)
}

func (d *Dispatcher) call(ctx context.Context, cmd command) (reply, error) {
	cmd.reply = make(chan reply, 1)
	if !d.submit(cmd) {
		return reply{}, ErrDispatcherClosed
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-d.done:
		// Run may have answered just before exiting.
		select {
		case r := <-cmd.reply:
			return r, nil
		default:
			return reply{}, ErrDispatcherClosed
		}
	}
}

// Register adds s to the registry, re-checking name and address uniqueness.
// On success the session's mailbox starts with the login result and the
// roster, ahead of any other delivery, and every other session is told
// about the newcomer.
func (d *Dispatcher) Register(ctx context.Context, s *Session) error {
	r, err := d.call(ctx, command{op: opRegister, session: s})
	if err != nil {
		return err
	}
	return r.err
}

// Unregister removes s if it is still the registered holder of its name.
func (d *Dispatcher) Unregister(s *Session) {
	d.submit(command{op: opUnregister, session: s})
}

// Route delivers m on behalf of the session named from.
func (d *Dispatcher) Route(from string, m protocol.Message) {
	d.submit(command{op: opRoute, name: from, msg: m})
}

// Lookup returns the session registered under name.
func (d *Dispatcher) Lookup(ctx context.Context, name string) (model.SessionInfo, bool, error) {
	r, err := d.call(ctx, command{op: opLookup, name: name})
	if err != nil {
		return model.SessionInfo{}, false, err
	}
	return r.info, r.found, nil
}

// Users returns the registered names, sorted.
func (d *Dispatcher) Users(ctx context.Context) ([]string, error) {
	r, err := d.call(ctx, command{op: opUsers})
	if err != nil {
		return nil, err
	}
	return r.names, nil
}

func (d *Dispatcher) apply(cmd command) {
	switch cmd.op {
	case opRegister:
		cmd.reply <- reply{err: d.register(cmd.session)}
	case opUnregister:
		d.unregister(cmd.session)
	case opRoute:
		d.route(cmd.name, cmd.msg)
	case opLookup:
		s, ok := d.sessions[cmd.name]
		r := reply{found: ok}
		if ok {
			r.info = s.Info()
		}
		cmd.reply <- r
	case opUsers:
		cmd.reply <- reply{names: d.names()}
	}
}

func (d *Dispatcher) names() []string {
	names := make([]string, 0, len(d.sessions))
	for name := range d.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) register(s *Session) error {
	if _, ok := d.sessions[s.name]; ok {
		return ErrNameTaken
	}
	if !d.allowMulti {
		for _, other := range d.sessions {
			if other.address == s.address {
				return ErrAddressInUse
			}
		}
	}
	d.sessions[s.name] = s

	s.Deliver(protocol.LoginResult{Status: protocol.LoginOK, Message: d.serverName})
	s.Deliver(protocol.UserList{Names: d.names()})
	d.broadcast(protocol.UserAdded{Name: s.name}, s.name)
	d.log.Info("session registered", "user", s.name, "address", s.address, "online", len(d.sessions))
	return nil
}

func (d *Dispatcher) unregister(s *Session) {
	if cur, ok := d.sessions[s.name]; !ok || cur != s {
		return
	}
	delete(d.sessions, s.name)
	d.broadcast(protocol.UserRemoved{Name: s.name}, s.name)
	d.log.Info("session unregistered", "user", s.name, "online", len(d.sessions))
}

// broadcast delivers m to every session except the one named except.
func (d *Dispatcher) broadcast(m protocol.Message, except string) {
	for name, s := range d.sessions {
		if name == except {
			continue
		}
		d.deliver(s, m)
	}
}

func (d *Dispatcher) deliver(s *Session, m protocol.Message) {
	if !s.Deliver(m) {
		d.metrics.RoutingMisses.Add(1)
	}
}

// deliverTo delivers m to the session named name, counting a miss if it is
// not registered.
func (d *Dispatcher) deliverTo(name string, m protocol.Message) {
	s, ok := d.sessions[name]
	if !ok {
		d.metrics.RoutingMisses.Add(1)
		d.log.Debug("routing miss", "target", name, "tag", m.Tag())
		return
	}
	d.deliver(s, m)
}

func (d *Dispatcher) route(from string, m protocol.Message) {
	switch msg := m.(type) {
	case protocol.Chat:
		d.broadcast(msg, "")
		d.metrics.ChatMessages.Add(1)

	case protocol.PrivateChat:
		sender, okS := d.sessions[from]
		receiver, okR := d.sessions[msg.Receiver]
		if !okS || !okR {
			d.metrics.RoutingMisses.Add(1)
			return
		}
		d.deliver(sender, msg)
		if receiver != sender {
			d.deliver(receiver, msg)
		}
		d.metrics.PrivateMessages.Add(1)

	case protocol.FileTransfer:
		target := msg.Peer
		msg.Peer = from
		d.deliverTo(target, msg)
		d.metrics.TransferMessages.Add(1)

	case protocol.AdminPunish:
		if msg.Result == protocol.ResultSuccess && msg.Kind == model.PunishMute {
			if target, ok := d.sessions[msg.Target]; ok {
				target.SetMuted(true)
			}
		}
		d.routeOutcome(from, msg, msg.Result)

	case protocol.AdminRemovePunishment:
		d.routeOutcome(from, msg, msg.Result)

	case protocol.UserAdded:
		d.broadcast(msg, msg.Name)

	case protocol.UserRemoved:
		d.broadcast(msg, msg.Name)

	default:
		// admin-login, admin-punish-list, server-error, kicked, login-result,
		// user-list, invalid
		d.deliverTo(from, m)
	}
}

// routeOutcome broadcasts a committed admin action and answers a failed one
// to the requester only.
func (d *Dispatcher) routeOutcome(from string, m protocol.Message, result protocol.Result) {
	if result == protocol.ResultSuccess {
		d.broadcast(m, "")
		return
	}
	d.deliverTo(from, m)
}
