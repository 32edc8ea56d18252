// Package protocol defines the mediachat wire format: a 4-character header tag
// followed by a kind-specific body of big-endian int32 fields and
// length-prefixed byte strings.
package protocol

import "errors"

const (
	// TagSize is the byte size of every header tag.
	TagSize = 4

	// MaxStringLength bounds every length-prefixed string field.
	MaxStringLength = 64 * 1024

	// MaxSegmentSize bounds a single file-transfer data segment.
	MaxSegmentSize = 64 * 1024

	// MaxListEntries bounds counted lists (user list, punishment list).
	MaxListEntries = 65536

	// MaxHandshakeField bounds each field of the raw login handshake. Names
	// longer than model.MaxUsernameLength but within this bound are answered
	// with a login result instead of a protocol violation.
	MaxHandshakeField = 1024
)

var (
	// ErrProtocolViolation marks a malformed frame. It is fatal to the connection.
	ErrProtocolViolation = errors.New("protocol: violation")

	// ErrTruncatedStream is returned when the peer closes mid-message.
	ErrTruncatedStream = errors.New("protocol: truncated stream")
)

// Tag is the 4-character header identifying a message kind.
type Tag string

const (
	TagLoginResult           Tag = "0001"
	TagChat                  Tag = "0100"
	TagPrivateChat           Tag = "0200"
	TagFileTransfer          Tag = "0300"
	TagAdminLogin            Tag = "0800"
	TagAdminPunishList       Tag = "0809"
	TagAdminPunish           Tag = "0810"
	TagAdminRemovePunishment Tag = "0811"
	TagUserList              Tag = "0905"
	TagUserAdded             Tag = "0906"
	TagUserRemoved           Tag = "0907"
	TagKicked                Tag = "0970"
	TagServerError           Tag = "0999"
	TagInvalid               Tag = "9999"
)

// Result is the one-byte outcome code carried by responses.
type Result int8

const (
	ResultInvalid Result = -1
	ResultFailure Result = 0
	ResultSuccess Result = 1
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func (r Result) valid() bool {
	return r >= ResultInvalid && r <= ResultSuccess
}

// Stage is a file-transfer phase. Stages only move forward; StageError is
// terminal and reachable from any stage.
type Stage int8

const (
	StageError    Stage = -1
	StageRequest  Stage = 1
	StageResponse Stage = 2
	StageData     Stage = 3
	StageEnd      Stage = 4
	StageDone     Stage = 5
)

func (s Stage) String() string {
	switch s {
	case StageRequest:
		return "request"
	case StageResponse:
		return "response"
	case StageData:
		return "data"
	case StageEnd:
		return "end"
	case StageDone:
		return "done"
	case StageError:
		return "error"
	default:
		return "unknown"
	}
}

// Valid returns true for the five ordered stages and StageError.
func (s Stage) Valid() bool {
	return s == StageError || (s >= StageRequest && s <= StageDone)
}

// LoginStatus is the outcome of the raw login handshake.
type LoginStatus int8

const (
	LoginOK            LoginStatus = 1
	LoginNameTooLong   LoginStatus = 2
	LoginNameInvalid   LoginStatus = 3
	LoginNameTaken     LoginStatus = 4
	LoginWrongPassword LoginStatus = 5
	LoginBanned        LoginStatus = 6
	LoginAddressInUse  LoginStatus = 7
	LoginServerError   LoginStatus = 8
)

func (s LoginStatus) String() string {
	switch s {
	case LoginOK:
		return "ok"
	case LoginNameTooLong:
		return "username too long"
	case LoginNameInvalid:
		return "username invalid"
	case LoginNameTaken:
		return "username already in use"
	case LoginWrongPassword:
		return "wrong server password"
	case LoginBanned:
		return "banned"
	case LoginAddressInUse:
		return "address already logged in"
	case LoginServerError:
		return "server error"
	default:
		return "unknown"
	}
}

func (s LoginStatus) valid() bool {
	return s >= LoginOK && s <= LoginServerError
}
