package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

func writeFile(t *testing.T, dir, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func completedHistory(segments int) []protocol.Stage {
	h := []protocol.Stage{protocol.StageRequest, protocol.StageResponse}
	for i := 0; i < segments; i++ {
		h = append(h, protocol.StageData)
	}
	return append(h, protocol.StageEnd, protocol.StageDone)
}

func TestTicketAdvance(t *testing.T) {
	tk := newTicket(Outbound, "alice", "bob", "a.txt", 10)
	require.NoError(t, tk.Advance(protocol.StageResponse))
	require.NoError(t, tk.Advance(protocol.StageData))
	require.NoError(t, tk.Advance(protocol.StageData))

	err := tk.Advance(protocol.StageResponse)
	assert.ErrorIs(t, err, ErrStageOrder)

	require.NoError(t, tk.Advance(protocol.StageEnd))
	assert.ErrorIs(t, tk.Advance(protocol.StageEnd), ErrStageOrder)
	require.NoError(t, tk.Advance(protocol.StageDone))
	assert.ErrorIs(t, tk.Advance(protocol.StageError), ErrTicketClosed)

	assert.Equal(t, []protocol.Stage{
		protocol.StageRequest, protocol.StageResponse, protocol.StageData,
		protocol.StageData, protocol.StageEnd, protocol.StageDone,
	}, tk.info().History)
}

func TestTicketErrorFromAnyStage(t *testing.T) {
	tk := newTicket(Inbound, "alice", "bob", "a.txt", 10)
	require.NoError(t, tk.Advance(protocol.StageError))
	assert.Equal(t, protocol.StageError, tk.Stage())
	assert.ErrorIs(t, tk.Advance(protocol.StageData), ErrTicketClosed)
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"report.pdf", "report.pdf", true},
		{"../../etc/passwd", "passwd", true},
		{`..\..\boot.ini`, "boot.ini", true},
		{"dir/sub/file.txt", "file.txt", true},
		{"evil\x00name\n.txt", "evilname.txt", true},
		{"..", "", false},
		{"", "", false},
		{"...", "", false},
		{"/", "", false},
	}
	for _, tt := range tests {
		got, err := SanitizeFileName(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidName, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestCreateUniqueSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song.mp3"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "song (1).mp3"), nil, 0o644))

	f, path, err := createUnique(dir, "song.mp3")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, filepath.Join(dir, "song (2).mp3"), path)
}

func TestTransferCompletes(t *testing.T) {
	r := newRelay(t)
	src := t.TempDir()
	dl := t.TempDir()

	alice := r.join("alice", Options{SegmentSize: 1024, Pacing: Pacing{ShortEvery: 2, Short: time.Millisecond}})
	bob := r.join("bob", Options{DownloadDir: dl})

	path, data := writeFile(t, src, "clip.bin", 4*1024+100)

	info, err := alice.mgr.Offer(path, "bob")
	require.NoError(t, err)
	assert.Equal(t, int32(5), info.Segments)
	assert.Equal(t, int32(0), info.ID)

	req := bob.await(t, EventRequested)
	assert.Equal(t, "alice", req.Transfer.Sender)
	assert.Equal(t, int32(len(data)), req.Transfer.Size)

	_, err = bob.mgr.Accept("alice", "clip.bin")
	require.NoError(t, err)

	recv := bob.await(t, EventCompleted).Transfer
	sent := alice.await(t, EventCompleted).Transfer

	assert.NotZero(t, sent.ID)
	assert.Equal(t, sent.ID, recv.ID)
	assert.Equal(t, int64(len(data)), recv.Exchanged)
	assert.Equal(t, completedHistory(5), recv.History)
	assert.Equal(t, completedHistory(5), sent.History)

	got, err := os.ReadFile(filepath.Join(dl, "clip.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "downloaded content differs")

	assert.Equal(t, 0, alice.mgr.ActiveSenders())
	assert.Len(t, alice.mgr.History(), 1)
}

func TestEmptyFileSkipsData(t *testing.T) {
	r := newRelay(t)
	alice := r.join("alice", Options{})
	bob := r.join("bob", Options{DownloadDir: t.TempDir()})

	path, _ := writeFile(t, t.TempDir(), "empty.txt", 0)
	_, err := alice.mgr.Offer(path, "bob")
	require.NoError(t, err)

	bob.await(t, EventRequested)
	_, err = bob.mgr.Accept("alice", "empty.txt")
	require.NoError(t, err)

	recv := bob.await(t, EventCompleted).Transfer
	assert.Equal(t, completedHistory(0), recv.History)
	alice.await(t, EventCompleted)
}

func TestDeclineFreesSlot(t *testing.T) {
	r := newRelay(t)
	alice := r.join("alice", Options{})
	bob := r.join("bob", Options{DownloadDir: t.TempDir()})

	path, _ := writeFile(t, t.TempDir(), "a.txt", 10)
	_, err := alice.mgr.Offer(path, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.mgr.ActiveSenders())

	bob.await(t, EventRequested)
	require.NoError(t, bob.mgr.Decline("alice", "a.txt"))

	ev := alice.await(t, EventDeclined)
	assert.True(t, ev.Transfer.Declined)
	assert.Equal(t, []protocol.Stage{protocol.StageRequest, protocol.StageResponse}, ev.Transfer.History)
	assert.Equal(t, 0, alice.mgr.ActiveSenders())
}

func TestAdmissionLimit(t *testing.T) {
	r := newRelay(t)
	alice := r.join("alice", Options{})
	dir := t.TempDir()

	for i, name := range []string{"1.txt", "2.txt", "3.txt"} {
		path, _ := writeFile(t, dir, name, 10)
		_, err := alice.mgr.Offer(path, "nobody")
		require.NoError(t, err, "offer %d", i)
	}
	before := r.posted.Load()

	path, _ := writeFile(t, dir, "4.txt", 10)
	_, err := alice.mgr.Offer(path, "nobody")
	assert.ErrorIs(t, err, ErrTooManyTransfers)
	assert.Equal(t, before, r.posted.Load(), "rejected offer must not reach the network")
	assert.Equal(t, MaxActiveSenders, alice.mgr.ActiveSenders())
}

func TestDuplicateOffer(t *testing.T) {
	r := newRelay(t)
	alice := r.join("alice", Options{})
	path, _ := writeFile(t, t.TempDir(), "a.txt", 10)

	_, err := alice.mgr.Offer(path, "bob")
	require.NoError(t, err)
	_, err = alice.mgr.Offer(path, "bob")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCancelStopsSender(t *testing.T) {
	r := newRelay(t)
	dl := t.TempDir()
	alice := r.join("alice", Options{
		SegmentSize: 512,
		Pacing:      Pacing{ShortEvery: 1, Short: 20 * time.Millisecond},
	})
	bob := r.join("bob", Options{DownloadDir: dl})

	path, _ := writeFile(t, t.TempDir(), "big.bin", 512*200)
	_, err := alice.mgr.Offer(path, "bob")
	require.NoError(t, err)

	bob.await(t, EventRequested)
	_, err = bob.mgr.Accept("alice", "big.bin")
	require.NoError(t, err)

	acc := alice.await(t, EventAccepted)
	require.NoError(t, alice.mgr.Cancel(acc.Transfer.ID))

	failed := bob.await(t, EventFailed).Transfer
	assert.Equal(t, protocol.StageEnd, failed.Stage)
	assert.Less(t, failed.Segment, int32(200))
	_, err = os.Stat(filepath.Join(dl, "big.bin"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "partial download must be deleted")

	require.Eventually(t, func() bool { return alice.mgr.ActiveSenders() == 0 }, 5*time.Second, 10*time.Millisecond)
	hist := alice.mgr.History()
	require.Len(t, hist, 1)
	assert.Equal(t, protocol.StageEnd, hist[0].Stage)
}

// recorder is a Poster that keeps everything posted.
type recorder struct {
	msgs []protocol.FileTransfer
}

func (r *recorder) Post(m protocol.Message) bool {
	r.msgs = append(r.msgs, m.(protocol.FileTransfer))
	return true
}

func (r *recorder) last() protocol.FileTransfer {
	return r.msgs[len(r.msgs)-1]
}

// acceptedInbound drives a manager to an active inbound ticket with ID 7.
func acceptedInbound(t *testing.T, size int32) (*Manager, *recorder, string) {
	t.Helper()
	rec := &recorder{}
	dl := t.TempDir()
	m := NewManager("bob", rec, Options{DownloadDir: dl})

	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageRequest, Peer: "alice", FileName: "f.bin", Size: size})
	require.Equal(t, EventRequested, ev.Kind)
	info, err := m.Accept("alice", "f.bin")
	require.NoError(t, err)
	assert.Equal(t, protocol.FileTransfer{Stage: protocol.StageResponse, Peer: "alice", FileName: "f.bin", Result: protocol.ResultSuccess}, rec.last())

	ev = m.Handle(protocol.FileTransfer{Stage: protocol.StageResponse, ID: 7, Peer: "alice", FileName: "f.bin", Result: protocol.ResultSuccess})
	require.Equal(t, EventAccepted, ev.Kind)
	require.Equal(t, int32(7), ev.Transfer.ID)
	return m, rec, info.Path
}

func TestOutOfOrderSegmentIsError(t *testing.T) {
	m, rec, path := acceptedInbound(t, 20)

	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageData, ID: 7, Peer: "alice", FileName: "f.bin", Index: 2, Total: 2, Data: []byte("0123456789")})
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, protocol.StageError, ev.Transfer.Stage)
	assert.Equal(t, protocol.StageError, rec.last().Stage)
	assert.Equal(t, "alice", rec.last().Peer)

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOverflowIsError(t *testing.T) {
	m, rec, _ := acceptedInbound(t, 4)

	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageData, ID: 7, Peer: "alice", FileName: "f.bin", Index: 1, Total: 1, Data: []byte("too long")})
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, protocol.StageError, rec.last().Stage)
}

func TestEndWithShortCountIsError(t *testing.T) {
	m, rec, _ := acceptedInbound(t, 20)

	m.Handle(protocol.FileTransfer{Stage: protocol.StageData, ID: 7, Peer: "alice", FileName: "f.bin", Index: 1, Total: 1, Data: []byte("0123456789")})
	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageEnd, ID: 7, Peer: "alice", FileName: "f.bin", Result: protocol.ResultSuccess})
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Equal(t, protocol.StageError, rec.last().Stage)
}

func TestSynthesizedEndForPendingRequest(t *testing.T) {
	rec := &recorder{}
	m := NewManager("bob", rec, Options{DownloadDir: t.TempDir()})
	m.Handle(protocol.FileTransfer{Stage: protocol.StageRequest, Peer: "alice", FileName: "f.bin", Size: 3})

	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageEnd, Peer: "alice", FileName: "f.bin", Result: protocol.ResultFailure})
	assert.Equal(t, EventFailed, ev.Kind)
	assert.Empty(t, m.Transfers())
	_, err := m.Accept("alice", "f.bin")
	assert.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestAcceptStorageFailureDeclines(t *testing.T) {
	rec := &recorder{}
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	// A regular file where the download directory should be.
	m := NewManager("bob", rec, Options{DownloadDir: blocker})

	m.Handle(protocol.FileTransfer{Stage: protocol.StageRequest, Peer: "alice", FileName: "f.bin", Size: 3})
	info, err := m.Accept("alice", "f.bin")
	require.Error(t, err)
	assert.True(t, info.Declined)
	assert.Equal(t, protocol.ResultFailure, rec.last().Result)
	assert.Equal(t, protocol.StageResponse, rec.last().Stage)
}

func TestHistoryPruned(t *testing.T) {
	rec := &recorder{}
	m := NewManager("bob", rec, Options{DownloadDir: t.TempDir(), Retention: time.Minute})
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Handle(protocol.FileTransfer{Stage: protocol.StageRequest, Peer: "alice", FileName: "f.bin", Size: 3})
	require.NoError(t, m.Decline("alice", "f.bin"))
	assert.Len(t, m.History(), 1)

	now = now.Add(2 * time.Minute)
	assert.Empty(t, m.History())
}

func TestPauseReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Pacing{LongEvery: 1, Long: time.Hour}

	start := time.Now()
	p.pause(ctx, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMessagesFromNonPartyIgnored(t *testing.T) {
	m, rec, path := acceptedInbound(t, 4)
	posted := len(rec.msgs)

	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageData, ID: 7, Peer: "mallory", FileName: "f.bin", Index: 1, Total: 1, Data: []byte("EVIL")})
	assert.Equal(t, EventNone, ev.Kind)
	ev = m.Handle(protocol.FileTransfer{Stage: protocol.StageEnd, ID: 7, Peer: "mallory", FileName: "f.bin", Result: protocol.ResultSuccess})
	assert.Equal(t, EventNone, ev.Kind)
	ev = m.Handle(protocol.FileTransfer{Stage: protocol.StageError, ID: 7, Peer: "mallory", FileName: "f.bin", Reason: "boom"})
	assert.Equal(t, EventNone, ev.Kind)
	assert.Len(t, rec.msgs, posted, "nothing may be answered to a non-party")

	info, ok := m.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, int64(0), info.Exchanged)
	assert.Equal(t, protocol.StageResponse, info.Stage)

	m.Handle(protocol.FileTransfer{Stage: protocol.StageData, ID: 7, Peer: "alice", FileName: "f.bin", Index: 1, Total: 1, Data: []byte("good")})
	ev = m.Handle(protocol.FileTransfer{Stage: protocol.StageEnd, ID: 7, Peer: "alice", FileName: "f.bin", Result: protocol.ResultSuccess})
	require.Equal(t, EventCompleted, ev.Kind)
	assert.Equal(t, protocol.StageDone, rec.last().Stage)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("good"), got)
}

func TestDoneFromNonPartyIgnored(t *testing.T) {
	rec := &lockedRecorder{}
	m := NewManager("alice", rec, Options{SegmentSize: 512})
	path, _ := writeFile(t, t.TempDir(), "a.txt", 10)

	_, err := m.Offer(path, "bob")
	require.NoError(t, err)
	ev := m.Handle(protocol.FileTransfer{Stage: protocol.StageResponse, ID: 3, Peer: "bob", FileName: "a.txt", Result: protocol.ResultSuccess})
	require.Equal(t, EventAccepted, ev.Kind)
	require.Eventually(t, func() bool { return rec.count(protocol.StageEnd) == 1 }, 5*time.Second, 10*time.Millisecond)

	ev = m.Handle(protocol.FileTransfer{Stage: protocol.StageDone, ID: 3, Peer: "mallory", FileName: "a.txt", Result: protocol.ResultSuccess})
	assert.Equal(t, EventNone, ev.Kind)
	ev = m.Handle(protocol.FileTransfer{Stage: protocol.StageDone, ID: 3, Peer: "bob", FileName: "a.txt", Result: protocol.ResultSuccess})
	assert.Equal(t, EventCompleted, ev.Kind)
}

func TestCloseAllPostsNothing(t *testing.T) {
	rec := &lockedRecorder{}
	m := NewManager("alice", rec, Options{
		SegmentSize: 512,
		Pacing:      Pacing{ShortEvery: 1, Short: time.Hour},
	})
	path, _ := writeFile(t, t.TempDir(), "big.bin", 512*4)

	_, err := m.Offer(path, "bob")
	require.NoError(t, err)
	m.Handle(protocol.FileTransfer{Stage: protocol.StageResponse, ID: 5, Peer: "bob", FileName: "big.bin", Result: protocol.ResultSuccess})
	require.Eventually(t, func() bool { return rec.count(protocol.StageData) == 1 }, 5*time.Second, 10*time.Millisecond)

	before := rec.len()
	require.NoError(t, m.CloseAll())
	assert.Equal(t, before, rec.len())
	assert.Zero(t, rec.count(protocol.StageEnd))
	assert.Zero(t, m.ActiveSenders())
}

// lockedRecorder is a recorder safe for posts from sender workers.
type lockedRecorder struct {
	mu   sync.Mutex
	msgs []protocol.FileTransfer
}

func (r *lockedRecorder) Post(m protocol.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m.(protocol.FileTransfer))
	return true
}

func (r *lockedRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *lockedRecorder) count(stage protocol.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.msgs {
		if msg.Stage == stage {
			n++
		}
	}
	return n
}
