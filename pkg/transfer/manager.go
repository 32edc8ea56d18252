package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

const (
	// SegmentSize is the payload size of every data segment but the last.
	SegmentSize = 16 * 1024

	// MaxFileSize is the largest size expressible in the request's int32 field.
	MaxFileSize = 1<<31 - 1

	// MaxActiveSenders caps pending plus active outbound transfers.
	MaxActiveSenders = 3

	// DefaultRetention is how long finished tickets stay in History.
	DefaultRetention = 10 * time.Minute
)

// Poster queues an outbound message for the connection writer. It returns
// false once the connection is closing.
type Poster interface {
	Post(m protocol.Message) bool
}

// PostFunc adapts a function to Poster.
type PostFunc func(m protocol.Message) bool

func (f PostFunc) Post(m protocol.Message) bool { return f(m) }

// Pacing sleeps the sender after segment indices that are multiples of
// ShortEvery and LongEvery. A zero interval disables that pause.
type Pacing struct {
	ShortEvery int32
	Short      time.Duration
	LongEvery  int32
	Long       time.Duration
}

// DefaultPacing keeps a large file from flooding the outbound mailbox.
var DefaultPacing = Pacing{ShortEvery: 8, Short: 2 * time.Millisecond, LongEvery: 64, Long: 20 * time.Millisecond}

// Options configures a Manager.
type Options struct {
	DownloadDir string
	Pacing      Pacing
	Retention   time.Duration // 0 selects DefaultRetention
	SegmentSize int           // 0 selects SegmentSize
	Logger      *slog.Logger
}

// EventKind classifies what Handle observed.
type EventKind int

const (
	EventNone      EventKind = iota
	EventRequested           // a peer offered a file
	EventAccepted            // the transfer got its ID and is streaming
	EventDeclined            // the receiver said no
	EventCompleted           // Done reached
	EventFailed              // Error, or End with failure
)

func (k EventKind) String() string {
	switch k {
	case EventRequested:
		return "requested"
	case EventAccepted:
		return "accepted"
	case EventDeclined:
		return "declined"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "none"
	}
}

// Event reports a ticket change caused by an incoming message.
type Event struct {
	Kind     EventKind
	Transfer Info
}

type key struct {
	file string
	peer string
}

// Manager tracks the local party's tickets and drives them from incoming
// file-transfer messages.
type Manager struct {
	self   string
	opts   Options
	post   Poster
	log    *slog.Logger
	now    func() time.Time
	segLen int

	mu        sync.Mutex
	pending   map[key]*Ticket   // outbound, awaiting response
	incoming  map[key]*Ticket   // inbound, awaiting local decision
	accepting map[key]*Ticket   // inbound, accepted, awaiting ID
	active    map[int32]*Ticket // both directions, ID assigned
	history   []*Ticket
	closing   bool

	wg sync.WaitGroup
}

// NewManager creates a manager for the session named self.
func NewManager(self string, post Poster, opts Options) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	segLen := opts.SegmentSize
	if segLen <= 0 || segLen > protocol.MaxSegmentSize {
		segLen = SegmentSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		self:      self,
		opts:      opts,
		post:      post,
		log:       log,
		now:       time.Now,
		segLen:    segLen,
		pending:   make(map[key]*Ticket),
		incoming:  make(map[key]*Ticket),
		accepting: make(map[key]*Ticket),
		active:    make(map[int32]*Ticket),
	}
}

// outboundLocked counts pending and active outbound tickets.
func (m *Manager) outboundLocked() int {
	n := len(m.pending)
	for _, t := range m.active {
		if t.Direction == Outbound {
			n++
		}
	}
	return n
}

// ActiveSenders returns the number of admission slots in use.
func (m *Manager) ActiveSenders() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outboundLocked()
}

// Offer validates path, takes an admission slot and sends a request to
// receiver. Nothing is sent when it fails.
func (m *Manager) Offer(path, receiver string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("transfer: offer: %w", err)
	}
	if !st.Mode().IsRegular() {
		return Info{}, fmt.Errorf("transfer: offer: %s is not a regular file", path)
	}
	if st.Size() > MaxFileSize {
		return Info{}, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, st.Size())
	}
	name, err := SanitizeFileName(filepath.Base(path))
	if err != nil {
		return Info{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outboundLocked() >= MaxActiveSenders {
		return Info{}, ErrTooManyTransfers
	}
	k := key{file: name, peer: receiver}
	if _, ok := m.pending[k]; ok {
		return Info{}, fmt.Errorf("%w: %s to %s", ErrDuplicate, name, receiver)
	}

	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("transfer: offer: %w", err)
	}

	t := newTicket(Outbound, m.self, receiver, name, int32(st.Size()))
	t.Path = path
	t.reader = f
	t.Segments = segmentCount(int64(t.Size), m.segLen)

	msg := t.message(protocol.StageRequest)
	msg.Size = t.Size
	if !m.post.Post(msg) {
		_ = f.Close()
		return Info{}, fmt.Errorf("transfer: offer: connection closed")
	}
	m.pending[k] = t
	m.log.Debug("transfer offered", "file", name, "receiver", receiver, "size", t.Size)
	return t.info(), nil
}

// Accept answers a pending incoming request positively. If the target file
// cannot be created the request is declined instead and the error returned.
func (m *Manager) Accept(sender, fileName string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{file: fileName, peer: sender}
	t, ok := m.incoming[k]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s from %s", ErrUnknownTransfer, fileName, sender)
	}
	delete(m.incoming, k)

	name, err := SanitizeFileName(fileName)
	var f *os.File
	var path string
	if err == nil {
		f, path, err = createUnique(m.opts.DownloadDir, name)
	}
	if err != nil {
		m.declineLocked(t, err.Error())
		return t.info(), err
	}

	t.writer = f
	t.Path = path
	m.accepting[k] = t

	resp := t.message(protocol.StageResponse)
	resp.Result = protocol.ResultSuccess
	m.post.Post(resp)
	return t.info(), nil
}

// Decline answers a pending incoming request negatively.
func (m *Manager) Decline(sender, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{file: fileName, peer: sender}
	t, ok := m.incoming[k]
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrUnknownTransfer, fileName, sender)
	}
	delete(m.incoming, k)
	m.declineLocked(t, "declined")
	return nil
}

func (m *Manager) declineLocked(t *Ticket, reason string) {
	resp := t.message(protocol.StageResponse)
	resp.Result = protocol.ResultFailure
	m.post.Post(resp)
	_ = t.Advance(protocol.StageResponse)
	t.Declined = true
	t.Reason = reason
	m.finishLocked(t)
}

// Cancel aborts an active transfer. An outbound transfer's worker stops at
// the next segment boundary and sends End(failure); an inbound transfer is
// torn down and the sender told with an Error.
func (m *Manager) Cancel(id int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownTransfer, id)
	}
	if t.Direction == Outbound {
		if t.cancel != nil {
			t.cancel()
		}
		return nil
	}
	m.failLocked(t, "cancelled by receiver", true)
	return nil
}

// Handle applies a server-delivered FileTransfer, whose Peer names the
// originator, and reports what changed.
func (m *Manager) Handle(msg protocol.FileTransfer) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg.Stage {
	case protocol.StageRequest:
		return m.handleRequestLocked(msg)
	case protocol.StageResponse:
		return m.handleResponseLocked(msg)
	case protocol.StageData:
		return m.handleDataLocked(msg)
	case protocol.StageEnd:
		return m.handleEndLocked(msg)
	case protocol.StageDone:
		return m.handleDoneLocked(msg)
	case protocol.StageError:
		return m.handleErrorLocked(msg)
	}
	return Event{}
}

func (m *Manager) handleRequestLocked(msg protocol.FileTransfer) Event {
	k := key{file: msg.FileName, peer: msg.Peer}
	if _, dup := m.incoming[k]; dup {
		m.log.Warn("duplicate transfer request", "file", msg.FileName, "sender", msg.Peer)
		return Event{}
	}
	if _, dup := m.accepting[k]; dup {
		m.log.Warn("duplicate transfer request", "file", msg.FileName, "sender", msg.Peer)
		return Event{}
	}
	t := newTicket(Inbound, msg.Peer, m.self, msg.FileName, msg.Size)
	m.incoming[k] = t
	return Event{Kind: EventRequested, Transfer: t.info()}
}

// handleResponseLocked covers both the echo of our own accept, carrying the
// minted ID, and the receiver's answer to our request.
func (m *Manager) handleResponseLocked(msg protocol.FileTransfer) Event {
	k := key{file: msg.FileName, peer: msg.Peer}

	if t, ok := m.accepting[k]; ok && msg.Result == protocol.ResultSuccess {
		delete(m.accepting, k)
		t.ID = msg.ID
		_ = t.Advance(protocol.StageResponse)
		m.active[t.ID] = t
		return Event{Kind: EventAccepted, Transfer: t.info()}
	}

	t, ok := m.pending[k]
	if !ok {
		m.log.Debug("response for unknown transfer", "file", msg.FileName, "peer", msg.Peer)
		return Event{}
	}
	delete(m.pending, k)

	if msg.Result != protocol.ResultSuccess || msg.ID == 0 {
		_ = t.Advance(protocol.StageResponse)
		t.Declined = true
		t.Reason = "declined by receiver"
		m.finishLocked(t)
		return Event{Kind: EventDeclined, Transfer: t.info()}
	}

	t.ID = msg.ID
	_ = t.Advance(protocol.StageResponse)
	m.active[t.ID] = t
	m.startSenderLocked(t)
	return Event{Kind: EventAccepted, Transfer: t.info()}
}

func (m *Manager) handleDataLocked(msg protocol.FileTransfer) Event {
	t := m.activeLocked(msg)
	if t == nil || t.Direction != Inbound {
		m.log.Debug("data for unknown transfer", "id", msg.ID)
		return Event{}
	}

	switch {
	case msg.Index != t.Segment+1:
		m.failLocked(t, fmt.Sprintf("segment %d out of order, expected %d", msg.Index, t.Segment+1), true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	case msg.Total <= 0 || msg.Index > msg.Total || (t.Segments != 0 && msg.Total != t.Segments):
		m.failLocked(t, fmt.Sprintf("segment total %d inconsistent", msg.Total), true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	case t.Exchanged+int64(len(msg.Data)) > int64(t.Size):
		m.failLocked(t, "more data than declared size", true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}

	if _, err := t.writer.Write(msg.Data); err != nil {
		m.failLocked(t, fmt.Sprintf("write: %v", err), true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}
	_ = t.Advance(protocol.StageData)
	t.Segment = msg.Index
	t.Segments = msg.Total
	t.Exchanged += int64(len(msg.Data))
	return Event{}
}

func (m *Manager) handleEndLocked(msg protocol.FileTransfer) Event {
	t := m.lookupLocked(msg)
	if t == nil {
		return Event{}
	}

	if t.Direction == Outbound {
		// Only a synthesized End(failure) reaches the sender: the receiver
		// went away.
		if t.cancel != nil {
			t.cancel()
		}
		_ = t.Advance(protocol.StageEnd)
		t.Reason = "receiver disconnected"
		m.finishLocked(t)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}

	if msg.Result != protocol.ResultSuccess {
		_ = t.Advance(protocol.StageEnd)
		t.Reason = "sender aborted"
		m.discardLocked(t)
		m.finishLocked(t)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}

	if t.Exchanged != int64(t.Size) || t.Segment != t.Segments {
		m.failLocked(t, fmt.Sprintf("received %d of %d bytes", t.Exchanged, t.Size), true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}
	if err := t.closeHandles(); err != nil {
		m.failLocked(t, fmt.Sprintf("close: %v", err), true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}

	_ = t.Advance(protocol.StageEnd)
	done := t.message(protocol.StageDone)
	done.Result = protocol.ResultSuccess
	m.post.Post(done)
	_ = t.Advance(protocol.StageDone)
	m.finishLocked(t)
	return Event{Kind: EventCompleted, Transfer: t.info()}
}

func (m *Manager) handleDoneLocked(msg protocol.FileTransfer) Event {
	t := m.activeLocked(msg)
	if t == nil || t.Direction != Outbound {
		return Event{}
	}
	if t.stage != protocol.StageEnd {
		m.failLocked(t, fmt.Sprintf("done received in stage %s", t.stage), true)
		return Event{Kind: EventFailed, Transfer: t.info()}
	}
	_ = t.Advance(protocol.StageDone)
	m.finishLocked(t)
	return Event{Kind: EventCompleted, Transfer: t.info()}
}

func (m *Manager) handleErrorLocked(msg protocol.FileTransfer) Event {
	t := m.lookupLocked(msg)
	if t == nil {
		return Event{}
	}
	m.failLocked(t, msg.Reason, false)
	return Event{Kind: EventFailed, Transfer: t.info()}
}

// activeLocked returns the ticket with msg's ID, provided msg came from that
// ticket's counterpart.
func (m *Manager) activeLocked(msg protocol.FileTransfer) *Ticket {
	t, ok := m.active[msg.ID]
	if !ok {
		return nil
	}
	if msg.Peer != t.Peer() {
		m.log.Warn("transfer message from a non-party dropped", "id", msg.ID, "from", msg.Peer, "peer", t.Peer())
		return nil
	}
	return t
}

// lookupLocked finds a ticket by ID or, for ID 0, by (file, peer) among the
// tickets that have not been assigned one yet.
func (m *Manager) lookupLocked(msg protocol.FileTransfer) *Ticket {
	if msg.ID != 0 {
		return m.activeLocked(msg)
	}
	k := key{file: msg.FileName, peer: msg.Peer}
	if t, ok := m.pending[k]; ok {
		delete(m.pending, k)
		return t
	}
	if t, ok := m.incoming[k]; ok {
		delete(m.incoming, k)
		return t
	}
	if t, ok := m.accepting[k]; ok {
		delete(m.accepting, k)
		return t
	}
	return nil
}

// failLocked moves t to Error, tears down its handles and, when notify is
// set, tells the counterpart why.
func (m *Manager) failLocked(t *Ticket, reason string, notify bool) {
	if t.Terminal() {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	_ = t.Advance(protocol.StageError)
	t.Reason = reason
	if notify && !m.closing {
		msg := t.message(protocol.StageError)
		msg.Reason = reason
		m.post.Post(msg)
	}
	if t.Direction == Inbound {
		m.discardLocked(t)
	}
	m.finishLocked(t)
	m.log.Warn("transfer failed", "id", t.ID, "file", t.FileName, "peer", t.Peer(), "reason", reason)
}

// discardLocked closes and deletes a partial download.
func (m *Manager) discardLocked(t *Ticket) {
	_ = t.closeHandles()
	if t.Path != "" && t.Direction == Inbound {
		if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
			m.log.Warn("remove partial download", "path", t.Path, "error", err)
		}
	}
}

// finishLocked closes handles, removes t from the live maps and records it
// in history.
func (m *Manager) finishLocked(t *Ticket) {
	if t.Terminal() {
		return
	}
	if t.Direction == Inbound || t.cancel == nil {
		// A running worker owns the read handle and closes it on exit.
		_ = t.closeHandles()
	}
	t.finished = m.now()
	if t.ID != 0 && m.active[t.ID] == t {
		delete(m.active, t.ID)
	}
	k := key{file: t.FileName, peer: t.Peer()}
	for _, mp := range []map[key]*Ticket{m.pending, m.incoming, m.accepting} {
		if mp[k] == t {
			delete(mp, k)
		}
	}
	m.history = append(m.history, t)
	m.pruneLocked()
}

func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.opts.Retention)
	kept := m.history[:0]
	for _, t := range m.history {
		if t.finished.After(cutoff) {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(m.history); i++ {
		m.history[i] = nil
	}
	m.history = kept
}

// Transfers returns the live tickets: pending, incoming and active.
func (m *Manager) Transfers() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Info
	for _, mp := range []map[key]*Ticket{m.pending, m.incoming, m.accepting} {
		for _, t := range mp {
			out = append(out, t.info())
		}
	}
	for _, t := range m.active {
		out = append(out, t.info())
	}
	return out
}

// History returns finished tickets still inside the retention window,
// oldest first.
func (m *Manager) History() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked()
	out := make([]Info, 0, len(m.history))
	for _, t := range m.history {
		out = append(out, t.info())
	}
	return out
}

// Lookup returns the live ticket with the given ID.
func (m *Manager) Lookup(id int32) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	if !ok {
		return Info{}, false
	}
	return t.info(), true
}

// CloseAll abandons every live ticket: workers are stopped, handles closed
// and partial downloads deleted. Nothing is sent, not even by the stopped
// workers; the server tells the counterparts when the connection drops.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	m.closing = true
	var tickets []*Ticket
	for _, mp := range []map[key]*Ticket{m.pending, m.incoming, m.accepting} {
		for _, t := range mp {
			tickets = append(tickets, t)
		}
	}
	for _, t := range m.active {
		tickets = append(tickets, t)
	}
	for _, t := range tickets {
		if t.cancel != nil {
			t.cancel()
		}
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	var result *multierror.Error
	for _, t := range tickets {
		if err := t.closeHandles(); err != nil {
			result = multierror.Append(result, fmt.Errorf("transfer %q: %w", t.FileName, err))
		}
		if t.Direction == Inbound && t.Path != "" && !t.Terminal() {
			if err := os.Remove(t.Path); err != nil && !os.IsNotExist(err) {
				result = multierror.Append(result, err)
			}
		}
		t.Reason = "connection closed"
		m.finishLocked(t)
	}
	return result.ErrorOrNil()
}

func segmentCount(size int64, segLen int) int32 {
	if size <= 0 {
		return 0
	}
	return int32((size + int64(segLen) - 1) / int64(segLen))
}

// startSenderLocked launches the worker for an accepted outbound ticket.
func (m *Manager) startSenderLocked(t *Ticket) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	m.wg.Add(1)
	go m.send(ctx, t)
}
