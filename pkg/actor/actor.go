// Package actor implements the single-writer ping handler and the mailbox
// that serializes submissions to it. All transports funnel their requests
// through a Ref; the mailbox consumer goroutine is the only writer of the
// handler state, which makes it the linearization point for the counter.
package actor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/watercompany/pingmesh/pkg/ping"
)

var log = logging.MustGetLogger("actor")

// DefaultInboxSize is the mailbox capacity used by SpawnPing.
const DefaultInboxSize = 32

// Submission errors.
var (
	// ErrHandlerGone is returned for submissions made after or during
	// shutdown of the mailbox.
	ErrHandlerGone = errors.New("handler gone")
	// ErrOverloaded is returned by TryAsk when the mailbox is full.
	ErrOverloaded = errors.New("mailbox overloaded")
)

// Handler processes one ping at a time. Implementations are never called
// concurrently; the mailbox consumer owns all calls.
type Handler interface {
	HandlePing(ping.Ping) ping.Pong
}

// PingHandler owns the processed-pings counter. It increments the counter
// exactly once per handled ping, before building the reply, so the totals
// observed over any mix of transports form the sequence 1..N.
type PingHandler struct {
	processed uint64
}

// NewPingHandler constructs a PingHandler with a zero counter.
func NewPingHandler() *PingHandler {
	return &PingHandler{}
}

// HandlePing implements Handler.
func (h *PingHandler) HandlePing(p ping.Ping) ping.Pong {
	h.processed++
	return ping.Pong{
		Message:    "Pong! Responding to: " + p.Message,
		Sequence:   p.Sequence,
		TotalPings: h.processed,
	}
}

// Mailbox states.
const (
	stateStarting int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

func stateString(s int32) string {
	switch s {
	case stateStarting:
		return "starting"
	case stateRunning:
		return "running"
	case stateDraining:
		return "draining"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type submission struct {
	req     ping.Ping
	replyCh chan ping.Pong
}

// Ref is a handle to a spawned handler. It is safe for concurrent use by
// any number of transports.
type Ref struct {
	h     Handler
	inbox chan submission

	state     int32
	drainCh   chan struct{}
	doneCh    chan struct{}
	drainOnce sync.Once
}

// Spawn starts the mailbox consumer for h and returns its handle.
func Spawn(h Handler, inboxSize int) *Ref {
	r := &Ref{
		h:       h,
		inbox:   make(chan submission, inboxSize),
		state:   stateStarting,
		drainCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	atomic.StoreInt32(&r.state, stateRunning)
	go r.run()
	return r
}

// SpawnPing spawns a fresh PingHandler with the default mailbox capacity.
func SpawnPing() *Ref {
	return Spawn(NewPingHandler(), DefaultInboxSize)
}

func (r *Ref) run() {
	defer close(r.doneCh)
	defer atomic.StoreInt32(&r.state, stateStopped)

	for {
		select {
		case <-r.drainCh:
			atomic.StoreInt32(&r.state, stateDraining)
			for {
				select {
				case sub := <-r.inbox:
					sub.replyCh <- r.h.HandlePing(sub.req)
				default:
					log.Info("Mailbox drained")
					return
				}
			}
		case sub := <-r.inbox:
			sub.replyCh <- r.h.HandlePing(sub.req)
		}
	}
}

// Ask submits req and awaits the reply. A full mailbox blocks the caller
// until space frees up (back-pressure). When ctx is done before the reply
// arrives, the reply is discarded on arrival; the handler still counts the
// request.
func (r *Ref) Ask(ctx context.Context, req ping.Ping) (ping.Pong, error) {
	if atomic.LoadInt32(&r.state) != stateRunning {
		return ping.Pong{}, ErrHandlerGone
	}

	sub := submission{req: req, replyCh: make(chan ping.Pong, 1)}
	select {
	case r.inbox <- sub:
	case <-r.doneCh:
		return ping.Pong{}, ErrHandlerGone
	case <-ctx.Done():
		return ping.Pong{}, ctx.Err()
	}
	return r.await(ctx, sub)
}

// TryAsk is Ask without back-pressure: a full mailbox fails immediately
// with ErrOverloaded.
func (r *Ref) TryAsk(ctx context.Context, req ping.Ping) (ping.Pong, error) {
	if atomic.LoadInt32(&r.state) != stateRunning {
		return ping.Pong{}, ErrHandlerGone
	}

	sub := submission{req: req, replyCh: make(chan ping.Pong, 1)}
	select {
	case r.inbox <- sub:
	default:
		return ping.Pong{}, ErrOverloaded
	}
	return r.await(ctx, sub)
}

func (r *Ref) await(ctx context.Context, sub submission) (ping.Pong, error) {
	select {
	case pong := <-sub.replyCh:
		return pong, nil
	case <-r.doneCh:
		// The consumer may have replied right before exiting.
		select {
		case pong := <-sub.replyCh:
			return pong, nil
		default:
			return ping.Pong{}, ErrHandlerGone
		}
	case <-ctx.Done():
		return ping.Pong{}, ctx.Err()
	}
}

// Drain stops intake, lets the consumer finish buffered submissions and
// waits for it to stop. Submissions enqueued after the drain started
// resolve with ErrHandlerGone.
func (r *Ref) Drain(ctx context.Context) error {
	r.drainOnce.Do(func() {
		log.WithField("state", r.State()).Info("Draining mailbox")
		close(r.drainCh)
	})
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the mailbox state for logging and tests.
func (r *Ref) State() string {
	return stateString(atomic.LoadInt32(&r.state))
}
