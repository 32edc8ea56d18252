// Package server implements the mediachat server: the dispatcher that routes
// messages between sessions and the per-connection handlers.
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/mediachat/pkg/datastore"
)

// Config holds server configuration.
type Config struct {
	ServerName      string // sent to clients in the login result
	ServerPassword  string // shared password every client must present
	AdminPassword   string // grants the admin role; empty disables admin login
	AllowMultiLogin bool   // allow several sessions from one address
	ListenAddr      string // TCP bind address (e.g. ":7777")
	DBPath          string // SQLite database path
	MaxConnections  int    // concurrent sockets, 0 = unlimited
	MetricsAddr     string // HTTP bind address for /metrics endpoint (empty = disabled)

	LoginTimeout time.Duration // deadline for the raw handshake
	PollInterval time.Duration // reader wake-up interval between frames
	FrameTimeout time.Duration // deadline for the rest of a frame once its first byte arrived
	WriteTimeout time.Duration // deadline for one outbound frame
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.DataStore
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ServerName:     "mediachat",
		ServerPassword: "",
		AdminPassword:  "",
		ListenAddr:     ":7777",
		DBPath:         "mediachat.db",
		MaxConnections: 256,
		MetricsAddr:    "",
		LoginTimeout:   10 * time.Second,
		PollInterval:   250 * time.Millisecond,
		FrameTimeout:   30 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

// Server is the main mediachat server.
type Server struct {
	cfg        Config
	store      datastore.DataStore
	dispatcher *Dispatcher
	metrics    *Metrics
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc

	transferID atomic.Int32

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		dispatcher: NewDispatcher(cfg.ServerName, cfg.AllowMultiLogin, metrics),
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Dispatcher returns the message dispatcher.
func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// nextTransferID mints a positive transfer ID, wrapping past MaxInt32.
func (s *Server) nextTransferID() int32 {
	for {
		id := s.transferID.Add(1)
		if id > 0 {
			s.metrics.TransfersStarted.Add(1)
			return id
		}
		s.transferID.CompareAndSwap(id, 0)
	}
}

func (s *Server) trackConn(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}
