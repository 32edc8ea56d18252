package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const MaxChatLength = 2000

var ErrChatEmpty = errors.New("chat message cannot be empty")
var ErrChatTooLong = fmt.Errorf("chat message exceeds %d characters", MaxChatLength)

// SanitizeChat strips control characters and collapses newlines to spaces.
func SanitizeChat(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// ValidateChat reports whether already sanitized text may be relayed.
func ValidateChat(text string) error {
	if text == "" {
		return ErrChatEmpty
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return ErrChatTooLong
	}
	return nil
}
