package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/NicolasHaas/mediachat/pkg/model"
)

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocolViolation}, args...)...)
}

// ---- Encoding ----

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) tag(t string) {
	if e.err != nil {
		return
	}
	if len(t) != TagSize {
		e.err = fmt.Errorf("protocol: encode: tag %q is not %d bytes", t, TagSize)
		return
	}
	e.buf = append(e.buf, t...)
}

func (e *encoder) int8(v int8) {
	e.buf = append(e.buf, byte(v))
}

func (e *encoder) int32(v int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v)) //nolint:gosec // two's complement on the wire
}

func (e *encoder) bytes(b []byte, limit int) {
	if e.err != nil {
		return
	}
	if len(b) > limit {
		e.err = fmt.Errorf("protocol: encode: field too large: %d bytes", len(b))
		return
	}
	e.int32(int32(len(b))) //nolint:gosec // bounded above
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) {
	e.bytes([]byte(s), MaxStringLength)
}

func (e *encoder) kind(k model.PunishmentKind) {
	if e.err != nil {
		return
	}
	if !k.Valid() {
		e.err = fmt.Errorf("protocol: encode: invalid punishment kind %d", k)
		return
	}
	e.tag(k.Tag())
}

// Encode serializes a message into its framed wire form.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("protocol: encode: nil message")
	}
	e := &encoder{buf: make([]byte, 0, 64)}
	e.tag(string(m.Tag()))

	switch m := m.(type) {
	case LoginResult:
		e.int8(int8(m.Status))
		e.str(m.Message)
	case UserList:
		if len(m.Names) > MaxListEntries {
			return nil, fmt.Errorf("protocol: encode: user list too long: %d", len(m.Names))
		}
		e.int32(int32(len(m.Names))) //nolint:gosec // bounded above
		for _, n := range m.Names {
			e.str(n)
		}
	case UserAdded:
		e.str(m.Name)
	case UserRemoved:
		e.str(m.Name)
	case Kicked:
		e.kind(m.Kind)
		e.str(m.Reason)
	case ServerError:
		e.str(m.Message)
	case Invalid:
	case Chat:
		e.str(m.Sender)
		e.str(m.Text)
	case PrivateChat:
		e.str(m.Sender)
		e.str(m.Receiver)
		e.str(m.Text)
	case FileTransfer:
		encodeFileTransfer(e, m)
	case AdminLogin:
		e.str(m.Password)
		e.int8(int8(m.Result))
	case AdminPunishList:
		if len(m.Records) > MaxListEntries {
			return nil, fmt.Errorf("protocol: encode: punishment list too long: %d", len(m.Records))
		}
		e.int8(int8(m.Result))
		e.int32(int32(len(m.Records))) //nolint:gosec // bounded above
		for _, r := range m.Records {
			e.str(r.Address)
			e.str(r.Username)
			e.kind(r.Kind)
		}
	case AdminPunish:
		e.kind(m.Kind)
		e.str(m.Target)
		e.str(m.Address)
		e.int8(int8(m.Result))
	case AdminRemovePunishment:
		e.kind(m.Kind)
		e.str(m.Address)
		e.int8(int8(m.Result))
	default:
		return nil, fmt.Errorf("protocol: encode: unsupported message %T", m)
	}

	if e.err != nil {
		return nil, e.err
	}
	return e.buf, nil
}

func encodeFileTransfer(e *encoder, m FileTransfer) {
	if !m.Stage.Valid() {
		e.err = fmt.Errorf("protocol: encode: invalid transfer stage %d", m.Stage)
		return
	}
	e.int8(int8(m.Stage))
	e.int32(m.ID)
	e.str(m.Peer)
	e.str(m.FileName)

	switch m.Stage {
	case StageRequest:
		e.int32(m.Size)
	case StageResponse, StageEnd, StageDone:
		e.int8(int8(m.Result))
	case StageData:
		e.int32(m.Index)
		e.int32(m.Total)
		e.bytes(m.Data, MaxSegmentSize)
	case StageError:
		e.str(m.Reason)
	}
}

// Write encodes m and writes it with a single Write call.
func Write(w io.Writer, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write %s: %w", m.Tag(), err)
	}
	return nil
}

// ---- Decoding ----

type decoder struct {
	r       io.Reader
	scratch [4]byte
}

func (d *decoder) full(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncatedStream
		}
		return fmt.Errorf("protocol: read: %w", err)
	}
	return nil
}

func (d *decoder) int8() (int8, error) {
	if err := d.full(d.scratch[:1]); err != nil {
		return 0, err
	}
	return int8(d.scratch[0]), nil
}

func (d *decoder) int32() (int32, error) {
	if err := d.full(d.scratch[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(d.scratch[:4])), nil //nolint:gosec // two's complement on the wire
}

func (d *decoder) length(limit int) (int, error) {
	n, err := d.int32()
	if err != nil {
		return 0, err
	}
	if n < 0 || int(n) > limit {
		return 0, violation("declared length %d outside [0,%d]", n, limit)
	}
	return int(n), nil
}

func (d *decoder) bytes(limit int) ([]byte, error) {
	n, err := d.length(limit)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := d.full(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytes(MaxStringLength)
	return string(b), err
}

func (d *decoder) result() (Result, error) {
	v, err := d.int8()
	if err != nil {
		return 0, err
	}
	r := Result(v)
	if !r.valid() {
		return 0, violation("unknown result code %d", v)
	}
	return r, nil
}

func (d *decoder) kind() (model.PunishmentKind, error) {
	if err := d.full(d.scratch[:TagSize]); err != nil {
		return 0, err
	}
	k, err := model.ParsePunishmentTag(string(d.scratch[:TagSize]))
	if err != nil {
		return 0, violation("%v", err)
	}
	return k, nil
}

// fields reads a sequence of string fields in order.
func (d *decoder) fields(dst ...*string) error {
	for _, p := range dst {
		s, err := d.str()
		if err != nil {
			return err
		}
		*p = s
	}
	return nil
}

// Decode blocks until one complete message has been read from r. It returns
// io.EOF if r is closed before the first byte, ErrTruncatedStream if it is
// closed mid-message, and ErrProtocolViolation for malformed frames.
func Decode(r io.Reader) (Message, error) {
	var hdr [TagSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncatedStream
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read header: %w", err)
	}

	d := &decoder{r: r}
	switch tag := Tag(hdr[:]); tag {
	case TagLoginResult:
		v, err := d.int8()
		if err != nil {
			return nil, err
		}
		status := LoginStatus(v)
		if !status.valid() {
			return nil, violation("unknown login status %d", v)
		}
		m := LoginResult{Status: status}
		if err := d.fields(&m.Message); err != nil {
			return nil, err
		}
		return m, nil

	case TagUserList:
		n, err := d.length(MaxListEntries)
		if err != nil {
			return nil, err
		}
		m := UserList{Names: make([]string, 0, n)}
		for i := 0; i < n; i++ {
			name, err := d.str()
			if err != nil {
				return nil, err
			}
			m.Names = append(m.Names, name)
		}
		return m, nil

	case TagUserAdded:
		var m UserAdded
		if err := d.fields(&m.Name); err != nil {
			return nil, err
		}
		return m, nil

	case TagUserRemoved:
		var m UserRemoved
		if err := d.fields(&m.Name); err != nil {
			return nil, err
		}
		return m, nil

	case TagKicked:
		kind, err := d.kind()
		if err != nil {
			return nil, err
		}
		m := Kicked{Kind: kind}
		if err := d.fields(&m.Reason); err != nil {
			return nil, err
		}
		return m, nil

	case TagServerError:
		var m ServerError
		if err := d.fields(&m.Message); err != nil {
			return nil, err
		}
		return m, nil

	case TagInvalid:
		return Invalid{}, nil

	case TagChat:
		var m Chat
		if err := d.fields(&m.Sender, &m.Text); err != nil {
			return nil, err
		}
		return m, nil

	case TagPrivateChat:
		var m PrivateChat
		if err := d.fields(&m.Sender, &m.Receiver, &m.Text); err != nil {
			return nil, err
		}
		return m, nil

	case TagFileTransfer:
		return decodeFileTransfer(d)

	case TagAdminLogin:
		var m AdminLogin
		if err := d.fields(&m.Password); err != nil {
			return nil, err
		}
		res, err := d.result()
		if err != nil {
			return nil, err
		}
		m.Result = res
		return m, nil

	case TagAdminPunishList:
		res, err := d.result()
		if err != nil {
			return nil, err
		}
		n, err := d.length(MaxListEntries)
		if err != nil {
			return nil, err
		}
		m := AdminPunishList{Result: res, Records: make([]model.Punishment, 0, n)}
		for i := 0; i < n; i++ {
			var p model.Punishment
			if err := d.fields(&p.Address, &p.Username); err != nil {
				return nil, err
			}
			if p.Kind, err = d.kind(); err != nil {
				return nil, err
			}
			m.Records = append(m.Records, p)
		}
		return m, nil

	case TagAdminPunish:
		kind, err := d.kind()
		if err != nil {
			return nil, err
		}
		m := AdminPunish{Kind: kind}
		if err := d.fields(&m.Target, &m.Address); err != nil {
			return nil, err
		}
		if m.Result, err = d.result(); err != nil {
			return nil, err
		}
		return m, nil

	case TagAdminRemovePunishment:
		kind, err := d.kind()
		if err != nil {
			return nil, err
		}
		m := AdminRemovePunishment{Kind: kind}
		if err := d.fields(&m.Address); err != nil {
			return nil, err
		}
		if m.Result, err = d.result(); err != nil {
			return nil, err
		}
		return m, nil

	default:
		return nil, violation("unknown header tag %q", string(tag))
	}
}

func decodeFileTransfer(d *decoder) (Message, error) {
	v, err := d.int8()
	if err != nil {
		return nil, err
	}
	stage := Stage(v)
	if !stage.Valid() {
		return nil, violation("unknown transfer stage %d", v)
	}
	m := FileTransfer{Stage: stage}
	if m.ID, err = d.int32(); err != nil {
		return nil, err
	}
	if err := d.fields(&m.Peer, &m.FileName); err != nil {
		return nil, err
	}

	switch stage {
	case StageRequest:
		if m.Size, err = d.int32(); err != nil {
			return nil, err
		}
	case StageResponse, StageEnd, StageDone:
		if m.Result, err = d.result(); err != nil {
			return nil, err
		}
	case StageData:
		if m.Index, err = d.int32(); err != nil {
			return nil, err
		}
		if m.Total, err = d.int32(); err != nil {
			return nil, err
		}
		if m.Index < 0 || m.Total < 0 {
			return nil, violation("negative segment counter %d/%d", m.Index, m.Total)
		}
		if m.Data, err = d.bytes(MaxSegmentSize); err != nil {
			return nil, err
		}
	case StageError:
		if err := d.fields(&m.Reason); err != nil {
			return nil, err
		}
	}
	return m, nil
}
