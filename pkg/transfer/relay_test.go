package transfer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NicolasHaas/mediachat/pkg/mailbox"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
)

// relay stands in for the server: it rewrites Peer to the originator, mints
// IDs on accepted responses and echoes them to the responder.
type relay struct {
	t       *testing.T
	in      *mailbox.Mailbox[envelope]
	mu      sync.Mutex
	parties map[string]*party
	nextID  atomic.Int32
	posted  atomic.Int64
	done    chan struct{}
}

type envelope struct {
	from string
	msg  protocol.FileTransfer
}

type party struct {
	name   string
	mgr    *Manager
	events chan Event
}

func newRelay(t *testing.T) *relay {
	r := &relay{
		t:       t,
		in:      mailbox.New[envelope](),
		parties: make(map[string]*party),
		done:    make(chan struct{}),
	}
	go r.run()
	t.Cleanup(func() {
		r.in.Close()
		<-r.done
	})
	return r
}

func (r *relay) join(name string, opts Options) *party {
	p := &party{name: name, events: make(chan Event, 64)}
	p.mgr = NewManager(name, PostFunc(func(m protocol.Message) bool {
		ft, ok := m.(protocol.FileTransfer)
		if !ok {
			r.t.Errorf("%s posted non-transfer message %T", name, m)
			return false
		}
		r.posted.Add(1)
		return r.in.Enqueue(envelope{from: name, msg: ft})
	}), opts)
	r.mu.Lock()
	r.parties[name] = p
	r.mu.Unlock()
	r.t.Cleanup(func() { _ = p.mgr.CloseAll() })
	return p
}

func (r *relay) party(name string) *party {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parties[name]
}

func (r *relay) run() {
	defer close(r.done)
	for {
		env, err := r.in.Next(context.Background())
		if err != nil {
			return
		}
		dest := r.party(env.msg.Peer)
		if dest == nil {
			continue
		}
		msg := env.msg
		if msg.Stage == protocol.StageResponse && msg.Result == protocol.ResultSuccess {
			msg.ID = r.nextID.Add(1)
			if src := r.party(env.from); src != nil {
				src.deliver(msg)
			}
		}
		msg.Peer = env.from
		dest.deliver(msg)
	}
}

func (p *party) deliver(msg protocol.FileTransfer) {
	if ev := p.mgr.Handle(msg); ev.Kind != EventNone {
		p.events <- ev
	}
}

func (p *party) await(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-p.events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s event", p.name, kind)
			return Event{}
		}
	}
}
