// Package model defines the core domain types for mediachat.
package model

// SessionInfo is a read-only view of a live session, safe to hand out
// across goroutines.
type SessionInfo struct {
	Name    string
	Address string // host part of the remote address
	Role    Role
	Muted   bool
}
