package server

import (
	"sync/atomic"

	"github.com/NicolasHaas/mediachat/pkg/mailbox"
	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

// Session is one logged-in connection as seen by the Dispatcher. The
// connection handler owns it; the Dispatcher only posts to its mailbox.
type Session struct {
	name    string
	address string
	mailbox *mailbox.Mailbox[protocol.Message]

	role  atomic.Int32
	muted atomic.Bool
}

// NewSession creates a session with an empty outbound mailbox.
func NewSession(name, address string, muted bool) *Session {
	s := &Session{
		name:    name,
		address: address,
		mailbox: mailbox.New[protocol.Message](),
	}
	s.muted.Store(muted)
	s.role.Store(int32(model.RoleUser))
	return s
}

// Name returns the display name.
func (s *Session) Name() string { return s.name }

// Address returns the host part of the remote address.
func (s *Session) Address() string { return s.address }

// Muted reports whether chat from this session is suppressed.
func (s *Session) Muted() bool { return s.muted.Load() }

// SetMuted updates the muted flag.
func (s *Session) SetMuted(v bool) { s.muted.Store(v) }

// Role returns the current permission level.
func (s *Session) Role() model.Role { return model.Role(s.role.Load()) }

// SetRole changes the permission level.
func (s *Session) SetRole(r model.Role) { s.role.Store(int32(r)) }

// Deliver queues m for the session's writer. It returns false once the
// session is closing.
func (s *Session) Deliver(m protocol.Message) bool {
	return s.mailbox.Enqueue(m)
}

// Info returns a snapshot of the session.
func (s *Session) Info() model.SessionInfo {
	return model.SessionInfo{
		Name:    s.name,
		Address: s.address,
		Role:    s.Role(),
		Muted:   s.Muted(),
	}
}
