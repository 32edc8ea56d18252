package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format and /healthz. It runs in the
// background and shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() error {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return nil // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", s.handleHealthz)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen metrics: %w", err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	select {
	case <-s.dispatcher.Done():
		http.Error(w, "dispatcher stopped", http.StatusServiceUnavailable)
		return
	default:
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("mediachat_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("mediachat_connections_active", "Current open connections.", "gauge",
		m.ActiveConnections.Load())
	write("mediachat_connections_total", "Lifetime TCP connections accepted.", "counter",
		m.TotalConnections.Load())
	write("mediachat_disconnects_total", "Sessions torn down.", "counter",
		m.TotalDisconnects.Load())
	write("mediachat_protocol_violations_total", "Connections dropped for malformed frames.", "counter",
		m.ProtocolViolations.Load())

	write("mediachat_auth_success_total", "Successful logins.", "counter",
		m.SuccessfulAuths.Load())
	write("mediachat_auth_failed_total", "Rejected logins.", "counter",
		m.FailedAuths.Load())

	write("mediachat_chat_messages_total", "Broadcast chat messages routed.", "counter",
		m.ChatMessages.Load())
	write("mediachat_private_messages_total", "Private messages routed.", "counter",
		m.PrivateMessages.Load())
	write("mediachat_muted_drops_total", "Chat messages dropped from muted sessions.", "counter",
		m.MutedDrops.Load())

	write("mediachat_transfers_started_total", "File transfers accepted.", "counter",
		m.TransfersStarted.Load())
	write("mediachat_transfer_messages_total", "File-transfer messages routed.", "counter",
		m.TransferMessages.Load())
	write("mediachat_transfer_bytes_total", "File data bytes relayed.", "counter",
		m.TransferBytes.Load())
	write("mediachat_foreign_transfer_messages_total", "File-transfer messages dropped because the sender was not a party.", "counter",
		m.ForeignTransfers.Load())

	write("mediachat_routing_misses_total", "Messages addressed to sessions that were gone.", "counter",
		m.RoutingMisses.Load())

	write("mediachat_mutes_total", "Users muted.", "counter",
		m.MuteCount.Load())
	write("mediachat_kicks_total", "Users kicked.", "counter",
		m.KickCount.Load())
	write("mediachat_bans_total", "Users banned.", "counter",
		m.BanCount.Load())
	write("mediachat_persistence_errors_total", "Punishment store failures.", "counter",
		m.PersistenceErrors.Load())
}
