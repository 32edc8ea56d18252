package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections   atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections  atomic.Int64 // current open connections
	FailedAuths        atomic.Int64 // logins answered with a failure status
	SuccessfulAuths    atomic.Int64 // logins that registered a session
	TotalDisconnects   atomic.Int64 // sessions torn down
	ProtocolViolations atomic.Int64 // connections dropped for malformed frames

	// Chat counters
	ChatMessages    atomic.Int64 // broadcast chat messages routed
	PrivateMessages atomic.Int64 // private messages routed
	MutedDrops      atomic.Int64 // chat dropped because the sender is muted

	// Transfer counters
	TransfersStarted atomic.Int64 // transfer IDs minted
	TransferMessages atomic.Int64 // file-transfer messages routed
	TransferBytes    atomic.Int64 // data segment payload bytes relayed
	ForeignTransfers atomic.Int64 // transfer messages dropped, sender not a party

	// Routing
	RoutingMisses atomic.Int64 // deliveries to sessions that were gone

	// Admin counters
	MuteCount         atomic.Int64
	KickCount         atomic.Int64
	BanCount          atomic.Int64
	PersistenceErrors atomic.Int64 // punishment gateway failures
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections  int64 `json:"active_connections"`
	TotalConnections   int64 `json:"total_connections"`
	SuccessfulAuths    int64 `json:"successful_auths"`
	FailedAuths        int64 `json:"failed_auths"`
	TotalDisconnects   int64 `json:"total_disconnects"`
	ProtocolViolations int64 `json:"protocol_violations"`

	ChatMessages    int64 `json:"chat_messages"`
	PrivateMessages int64 `json:"private_messages"`
	MutedDrops      int64 `json:"muted_drops"`

	TransfersStarted int64 `json:"transfers_started"`
	TransferMessages int64 `json:"transfer_messages"`
	TransferBytes    int64 `json:"transfer_bytes"`
	ForeignTransfers int64 `json:"foreign_transfers"`

	RoutingMisses int64 `json:"routing_misses"`

	MuteCount         int64 `json:"mute_count"`
	KickCount         int64 `json:"kick_count"`
	BanCount          int64 `json:"ban_count"`
	PersistenceErrors int64 `json:"persistence_errors"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:             uptime.Truncate(time.Second).String(),
		UptimeSeconds:      int64(uptime.Seconds()),
		ActiveConnections:  m.ActiveConnections.Load(),
		TotalConnections:   m.TotalConnections.Load(),
		SuccessfulAuths:    m.SuccessfulAuths.Load(),
		FailedAuths:        m.FailedAuths.Load(),
		TotalDisconnects:   m.TotalDisconnects.Load(),
		ProtocolViolations: m.ProtocolViolations.Load(),
		ChatMessages:       m.ChatMessages.Load(),
		PrivateMessages:    m.PrivateMessages.Load(),
		MutedDrops:         m.MutedDrops.Load(),
		TransfersStarted:   m.TransfersStarted.Load(),
		TransferMessages:   m.TransferMessages.Load(),
		TransferBytes:      m.TransferBytes.Load(),
		ForeignTransfers:   m.ForeignTransfers.Load(),
		RoutingMisses:      m.RoutingMisses.Load(),
		MuteCount:          m.MuteCount.Load(),
		KickCount:          m.KickCount.Load(),
		BanCount:           m.BanCount.Load(),
		PersistenceErrors:  m.PersistenceErrors.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"chat_msgs", s.ChatMessages,
		"private_msgs", s.PrivateMessages,
		"transfers", s.TransfersStarted,
		"transfer_bytes", s.TransferBytes,
		"routing_misses", s.RoutingMisses,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
