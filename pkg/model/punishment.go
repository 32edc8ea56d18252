package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PunishmentKind is one of mute, ban or kick.
type PunishmentKind int

const (
	PunishMute PunishmentKind = iota + 1
	PunishBan
	PunishKick
)

// Wire tags, always four ASCII characters.
const (
	TagMute = "MUTE"
	TagBan  = "BAN_"
	TagKick = "KICK"
)

var ErrUnknownPunishment = errors.New("unknown punishment kind")

func (k PunishmentKind) String() string {
	switch k {
	case PunishMute:
		return "mute"
	case PunishBan:
		return "ban"
	case PunishKick:
		return "kick"
	default:
		return "unknown"
	}
}

// Tag returns the 4-character wire tag, or "" for an invalid kind.
func (k PunishmentKind) Tag() string {
	switch k {
	case PunishMute:
		return TagMute
	case PunishBan:
		return TagBan
	case PunishKick:
		return TagKick
	default:
		return ""
	}
}

// Valid returns true for mute, ban and kick.
func (k PunishmentKind) Valid() bool {
	return k >= PunishMute && k <= PunishKick
}

// Persistent reports whether records of this kind outlive the session.
// Kicks are momentary and never stored.
func (k PunishmentKind) Persistent() bool {
	return k == PunishMute || k == PunishBan
}

// ParsePunishmentTag converts a wire tag into a kind.
func ParsePunishmentTag(tag string) (PunishmentKind, error) {
	switch tag {
	case TagMute:
		return PunishMute, nil
	case TagBan:
		return PunishBan, nil
	case TagKick:
		return PunishKick, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPunishment, tag)
	}
}

// ParsePunishment converts a human name ("mute", "ban", "kick") into a kind.
func ParsePunishment(name string) (PunishmentKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mute":
		return PunishMute, nil
	case "ban":
		return PunishBan, nil
	case "kick":
		return PunishKick, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPunishment, name)
	}
}

// Punishment is a persisted mute or ban keyed by network address.
type Punishment struct {
	Address   string         `json:"address"`
	Username  string         `json:"username"` // name at the time of punishment
	Kind      PunishmentKind `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
}
