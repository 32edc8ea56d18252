// Package transfer implements the client side of the five-stage file
// transfer: tickets, the manager that drives them from wire messages, and
// the paced sender worker.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

var (
	ErrStageOrder       = errors.New("transfer: stage out of order")
	ErrTicketClosed     = errors.New("transfer: ticket already finished")
	ErrTooManyTransfers = errors.New("transfer: too many active outbound transfers")
	ErrUnknownTransfer  = errors.New("transfer: unknown transfer")
	ErrFileTooLarge     = errors.New("transfer: file too large")
	ErrDuplicate        = errors.New("transfer: same file already offered to receiver")
	ErrInvalidName      = errors.New("transfer: invalid file name")
)

// Direction tells which side of a transfer the local party is on.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Ticket is the local record of one file transfer. A ticket holds either a
// read handle (outbound) or a write handle (inbound), never both.
//
// Tickets are owned by a Manager and guarded by its lock.
type Ticket struct {
	ID        int32
	Direction Direction
	Sender    string
	Receiver  string
	FileName  string
	Path      string // source file (outbound) or download target (inbound)
	Size      int32
	Exchanged int64
	Segment   int32 // last segment index sent or received
	Segments  int32 // total segments, 0 until known on the inbound side

	Declined bool
	Reason   string // failure description for Error and failed End

	stage    protocol.Stage
	history  []protocol.Stage
	reader   *os.File
	writer   *os.File
	cancel   context.CancelFunc
	finished time.Time
}

func newTicket(dir Direction, sender, receiver, fileName string, size int32) *Ticket {
	t := &Ticket{
		Direction: dir,
		Sender:    sender,
		Receiver:  receiver,
		FileName:  fileName,
		Size:      size,
	}
	t.stage = protocol.StageRequest
	t.history = []protocol.Stage{protocol.StageRequest}
	return t
}

// Stage returns the current stage.
func (t *Ticket) Stage() protocol.Stage { return t.stage }

// Peer returns the counterpart's name.
func (t *Ticket) Peer() string {
	if t.Direction == Inbound {
		return t.Sender
	}
	return t.Receiver
}

// Terminal reports whether the ticket reached Done or Error, or ended early
// through a decline or a failed End.
func (t *Ticket) Terminal() bool {
	return !t.finished.IsZero()
}

// Advance moves the ticket to s. Stages only move forward; Data may repeat
// and Error is reachable from any non-terminal stage.
func (t *Ticket) Advance(s protocol.Stage) error {
	if t.Terminal() || t.stage == protocol.StageError || t.stage == protocol.StageDone {
		return fmt.Errorf("%w: %s", ErrTicketClosed, s)
	}
	switch {
	case s == protocol.StageError:
	case s == protocol.StageData && t.stage == protocol.StageData:
	case s > t.stage:
	default:
		return fmt.Errorf("%w: %s after %s", ErrStageOrder, s, t.stage)
	}
	t.stage = s
	t.history = append(t.history, s)
	return nil
}

// Info is a copy of a ticket safe to hand out of the manager.
type Info struct {
	ID        int32
	Direction Direction
	Stage     protocol.Stage
	Sender    string
	Receiver  string
	FileName  string
	Path      string
	Size      int32
	Exchanged int64
	Segment   int32
	Segments  int32
	Declined  bool
	Reason    string
	History   []protocol.Stage
	Finished  time.Time
}

// Peer returns the counterpart's name.
func (i Info) Peer() string {
	if i.Direction == Inbound {
		return i.Sender
	}
	return i.Receiver
}

// Succeeded reports whether the transfer reached Done.
func (i Info) Succeeded() bool {
	return i.Stage == protocol.StageDone
}

func (t *Ticket) info() Info {
	return Info{
		ID:        t.ID,
		Direction: t.Direction,
		Stage:     t.stage,
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		FileName:  t.FileName,
		Path:      t.Path,
		Size:      t.Size,
		Exchanged: t.Exchanged,
		Segment:   t.Segment,
		Segments:  t.Segments,
		Declined:  t.Declined,
		Reason:    t.Reason,
		History:   append([]protocol.Stage(nil), t.history...),
		Finished:  t.finished,
	}
}

// message builds a client-to-server FileTransfer addressed to the peer.
func (t *Ticket) message(stage protocol.Stage) protocol.FileTransfer {
	return protocol.FileTransfer{
		Stage:    stage,
		ID:       t.ID,
		Peer:     t.Peer(),
		FileName: t.FileName,
	}
}

// closeHandles closes whichever handle the ticket holds.
func (t *Ticket) closeHandles() error {
	var err error
	if t.reader != nil {
		err = t.reader.Close()
		t.reader = nil
	}
	if t.writer != nil {
		if cerr := t.writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.writer = nil
	}
	return err
}
