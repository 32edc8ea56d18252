package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/NicolasHaas/mediachat/pkg/version"
)

// Start binds the listener and launches the dispatcher, the accept loop and
// the metrics endpoint. It returns once the server is accepting.
func (s *Server) Start() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln

	go s.dispatcher.Run(s.ctx)

	if err := s.StartMetricsHTTP(); err != nil {
		_ = ln.Close()
		s.cancel()
		return err
	}

	s.wg.Add(1)
	go s.acceptLoop()

	slog.Info("mediachat server running",
		"addr", ln.Addr().String(),
		"name", s.cfg.ServerName,
		"multi_login", s.cfg.AllowMultiLogin,
		"max_connections", s.cfg.MaxConnections,
		version.Attr(),
	)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("accept error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.metrics.TotalConnections.Add(1)
		s.metrics.ActiveConnections.Add(1)
		s.trackConn(conn, true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.trackConn(conn, false)
				s.metrics.ActiveConnections.Add(-1)
			}()
			newHandler(s, conn).serve(s.ctx)
		}()
	}
}

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown stops accepting, closes every connection, waits for the handlers
// to finish and closes the store.
func (s *Server) Shutdown() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if s.listener != nil {
		<-s.dispatcher.Done()
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("close store", "err", err)
		}
	}
}
