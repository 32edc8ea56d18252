package protocol

import "github.com/NicolasHaas/mediachat/pkg/model"

// Message is the closed set of wire messages. Every implementation lives in
// this package; callers switch on the concrete type.
type Message interface {
	Tag() Tag
	isMessage()
}

// ----- Session -----

// LoginResult answers the raw handshake. On success Message holds the server name.
type LoginResult struct {
	Status  LoginStatus
	Message string
}

// UserList is the full roster sent after a successful login.
type UserList struct {
	Names []string
}

// UserAdded announces a newly registered session.
type UserAdded struct {
	Name string
}

// UserRemoved announces an unregistered session.
type UserRemoved struct {
	Name string
}

// Kicked tells a session it is being disconnected by an admin.
type Kicked struct {
	Kind   model.PunishmentKind
	Reason string
}

// ServerError reports a non-fatal problem with a request.
type ServerError struct {
	Message string
}

// Invalid is sent in place of a message the peer could not interpret.
type Invalid struct{}

// ----- Chat -----

// Chat is a broadcast message. Sender is stamped by the server.
type Chat struct {
	Sender string
	Text   string
}

// PrivateChat is delivered to the sender and the receiver only.
type PrivateChat struct {
	Sender   string
	Receiver string
	Text     string
}

// ----- File transfer -----

// FileTransfer carries one stage of a transfer. Peer names the counterpart:
// the destination when sent by a client, the originator when delivered by
// the server. Fields not used by Stage are zero.
type FileTransfer struct {
	Stage    Stage
	ID       int32
	Peer     string
	FileName string

	Size   int32  // StageRequest
	Result Result // StageResponse, StageEnd, StageDone

	Index int32  // StageData, 1-based
	Total int32  // StageData
	Data  []byte // StageData

	Reason string // StageError
}

// ----- Admin -----

// AdminLogin carries the admin password from the client and the Result back.
type AdminLogin struct {
	Password string
	Result   Result
}

// AdminPunishList requests (empty) or returns the persisted punishments.
type AdminPunishList struct {
	Result  Result
	Records []model.Punishment
}

// AdminPunish asks the server to punish Target. The server fills Address and
// Result before routing the outcome.
type AdminPunish struct {
	Kind    model.PunishmentKind
	Target  string
	Address string
	Result  Result
}

// AdminRemovePunishment lifts a persisted punishment by address.
type AdminRemovePunishment struct {
	Kind    model.PunishmentKind
	Address string
	Result  Result
}

func (LoginResult) Tag() Tag           { return TagLoginResult }
func (UserList) Tag() Tag              { return TagUserList }
func (UserAdded) Tag() Tag             { return TagUserAdded }
func (UserRemoved) Tag() Tag           { return TagUserRemoved }
func (Kicked) Tag() Tag                { return TagKicked }
func (ServerError) Tag() Tag           { return TagServerError }
func (Invalid) Tag() Tag               { return TagInvalid }
func (Chat) Tag() Tag                  { return TagChat }
func (PrivateChat) Tag() Tag           { return TagPrivateChat }
func (FileTransfer) Tag() Tag          { return TagFileTransfer }
func (AdminLogin) Tag() Tag            { return TagAdminLogin }
func (AdminPunishList) Tag() Tag       { return TagAdminPunishList }
func (AdminPunish) Tag() Tag           { return TagAdminPunish }
func (AdminRemovePunishment) Tag() Tag { return TagAdminRemovePunishment }

func (LoginResult) isMessage()           {}
func (UserList) isMessage()              {}
func (UserAdded) isMessage()             {}
func (UserRemoved) isMessage()           {}
func (Kicked) isMessage()                {}
func (ServerError) isMessage()           {}
func (Invalid) isMessage()               {}
func (Chat) isMessage()                  {}
func (PrivateChat) isMessage()           {}
func (FileTransfer) isMessage()          {}
func (AdminLogin) isMessage()            {}
func (AdminPunishList) isMessage()       {}
func (AdminPunish) isMessage()           {}
func (AdminRemovePunishment) isMessage() {}
