package model

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid punctuation", "a.b@c-d", nil},
		{"case is kept", "Alice", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameWhitespace},
		{"tab character", "user\tname", ErrUsernameWhitespace},
		{"newline", "user\nname", ErrUsernameWhitespace},
		{"leading space", " bob", ErrUsernameWhitespace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	tests := []struct {
		role Role
		want string
	}{
		{RoleUser, "user"},
		{RoleAdmin, "admin"},
		{Role(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.role.String(); got != tt.want {
				t.Errorf("Role(%d).String() = %q, want %q", tt.role, got, tt.want)
			}
		})
	}
}

func TestPunishmentTags(t *testing.T) {
	for _, k := range []PunishmentKind{PunishMute, PunishBan, PunishKick} {
		tag := k.Tag()
		if len(tag) != 4 {
			t.Fatalf("%s tag %q is not 4 characters", k, tag)
		}
		got, err := ParsePunishmentTag(tag)
		if err != nil || got != k {
			t.Errorf("ParsePunishmentTag(%q) = %v, %v; want %v", tag, got, err, k)
		}
		byName, err := ParsePunishment(k.String())
		if err != nil || byName != k {
			t.Errorf("ParsePunishment(%q) = %v, %v; want %v", k.String(), byName, err, k)
		}
	}

	if _, err := ParsePunishmentTag("NOPE"); !errors.Is(err, ErrUnknownPunishment) {
		t.Errorf("ParsePunishmentTag(NOPE) error = %v, want ErrUnknownPunishment", err)
	}
	if PunishKick.Persistent() {
		t.Error("kick must not be persistent")
	}
	if !PunishMute.Persistent() || !PunishBan.Persistent() {
		t.Error("mute and ban must be persistent")
	}
}

func TestSanitizeChat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hi", "hi"},
		{"  padded  ", "padded"},
		{"line1\nline2", "line1 line2"},
		{"bell\x07", "bell"},
		{"\x1b[31mred", "[31mred"},
	}
	for _, tt := range tests {
		if got := SanitizeChat(tt.in); got != tt.want {
			t.Errorf("SanitizeChat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if err := ValidateChat(""); err != ErrChatEmpty {
		t.Errorf("ValidateChat(\"\") = %v, want ErrChatEmpty", err)
	}
	if err := ValidateChat(strings.Repeat("x", MaxChatLength+1)); err != ErrChatTooLong {
		t.Errorf("ValidateChat(long) = %v, want ErrChatTooLong", err)
	}
}
