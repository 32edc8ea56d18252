package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameWhitespace = errors.New("username must not contain whitespace")

// ValidateUsername checks the length and whitespace rules for display names.
// Names are case-sensitive; any non-space character is allowed.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return ErrUsernameWhitespace
	}
	return nil
}
