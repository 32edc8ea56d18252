package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

// send streams t's file as Data segments, then posts End. It checks ctx at
// every segment boundary; cancellation ends the transfer with End(failure).
func (m *Manager) send(ctx context.Context, t *Ticket) {
	defer m.wg.Done()

	m.mu.Lock()
	r := t.reader
	id, total, size := t.ID, t.Segments, int64(t.Size)
	peer, name := t.Receiver, t.FileName
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		_ = t.closeHandles()
		m.mu.Unlock()
	}()

	buf := make([]byte, m.segLen)
	var sent int64
	for idx := int32(1); idx <= total; idx++ {
		if ctx.Err() != nil {
			m.endOutbound(t, false, "cancelled")
			return
		}

		want := int64(m.segLen)
		if rem := size - sent; rem < want {
			want = rem
		}
		n, err := io.ReadFull(r, buf[:want])
		if err != nil {
			m.abortOutbound(t, fmt.Sprintf("read %s: %v", name, err))
			return
		}

		msg := protocol.FileTransfer{
			Stage:    protocol.StageData,
			ID:       id,
			Peer:     peer,
			FileName: name,
			Index:    idx,
			Total:    total,
			Data:     append([]byte(nil), buf[:n]...),
		}
		if !m.post.Post(msg) {
			m.abortOutbound(t, "connection closed")
			return
		}
		sent += int64(n)

		m.mu.Lock()
		if !t.Terminal() {
			_ = t.Advance(protocol.StageData)
			t.Segment = idx
			t.Exchanged = sent
		}
		m.mu.Unlock()

		if idx < total {
			m.opts.Pacing.pause(ctx, idx)
		}
	}

	if ctx.Err() != nil {
		m.endOutbound(t, false, "cancelled")
		return
	}
	m.endOutbound(t, true, "")
}

// endOutbound posts End and advances the ticket. A failed End finishes the
// ticket; a successful one waits for the receiver's Done. Once CloseAll has
// started nothing is posted.
func (m *Manager) endOutbound(t *Ticket, ok bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Terminal() {
		return
	}
	end := t.message(protocol.StageEnd)
	end.Result = protocol.ResultFailure
	if ok {
		end.Result = protocol.ResultSuccess
	}
	if !m.closing {
		m.post.Post(end)
	}
	_ = t.Advance(protocol.StageEnd)
	if !ok {
		t.Reason = reason
		m.finishLocked(t)
		m.log.Info("transfer cancelled", "id", t.ID, "file", t.FileName, "receiver", t.Receiver)
	}
}

func (m *Manager) abortOutbound(t *Ticket, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(t, reason, true)
}

// pause sleeps after segment idx according to the pacing rules, returning
// early if ctx is cancelled.
func (p Pacing) pause(ctx context.Context, idx int32) {
	var d time.Duration
	if p.ShortEvery > 0 && idx%p.ShortEvery == 0 {
		d += p.Short
	}
	if p.LongEvery > 0 && idx%p.LongEvery == 0 {
		d += p.Long
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
