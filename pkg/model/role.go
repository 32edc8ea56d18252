package model

// Role represents a session's permission level.
type Role int

const (
	RoleUser  Role = iota // Default role, can chat and transfer files
	RoleAdmin             // Granted by admin login: mute, ban, kick, list punishments
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole converts a string to a Role.
func ParseRole(s string) Role {
	if s == "admin" {
		return RoleAdmin
	}
	return RoleUser
}

// Valid returns true if the role is a recognised value.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Permission represents a specific action that can be checked against a role.
type Permission int

const (
	PermPunish Permission = iota
	PermRemovePunishment
	PermListPunishments
)
