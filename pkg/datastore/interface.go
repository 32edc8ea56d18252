package datastore

import (
	"errors"

	"github.com/NicolasHaas/mediachat/pkg/model"
)

// ErrNotPersistable is returned when asked to store a momentary punishment.
var ErrNotPersistable = errors.New("datastore: punishment kind is not persisted")

// PunishmentReadProvider answers the login-time and admin-list queries.
type PunishmentReadProvider interface {
	IsBanned(address string) (bool, error)
	IsMuted(address string) (bool, error)
	ListPunishments() ([]model.Punishment, error)
}

// PunishmentWriteProvider records and lifts persisted punishments.
type PunishmentWriteProvider interface {
	// SetPunishment stores (address, name, kind). Setting an existing
	// (address, kind) pair replaces the recorded name.
	SetPunishment(address, username string, kind model.PunishmentKind) error

	// RemovePunishment deletes the (address, kind) record. It reports whether
	// a record existed.
	RemovePunishment(address string, kind model.PunishmentKind) (bool, error)
}

// DataStore is the punishment gateway consulted by the server at login time
// and by admin commands. Implementations: the SQLite store and MemoryStore.
type DataStore interface {
	PunishmentReadProvider
	PunishmentWriteProvider
	Close() error
}

// Compile-time checks.
var (
	_ DataStore = (*SQLStore)(nil)
	_ DataStore = (*MemoryStore)(nil)
)
