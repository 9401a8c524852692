package mesh

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"

	"github.com/watercompany/pingmesh/internal/ioutil"
	"github.com/watercompany/pingmesh/pkg/cipher"
	"github.com/watercompany/pingmesh/pkg/ping"
	"github.com/watercompany/pingmesh/pkg/registry"
)

// outQueue is an unbounded FIFO of registry records awaiting gossip to one
// peer. Unbounded so a slow peer never blocks the registry broadcast path.
type outQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	recs   []registry.Record
	closed bool
}

func newOutQueue() *outQueue {
	q := new(outQueue)
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *outQueue) push(rec registry.Record) {
	q.mu.Lock()
	if !q.closed {
		q.recs = append(q.recs, rec)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// pop blocks until a record is available or the queue is closed.
func (q *outQueue) pop() (registry.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.recs) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.recs) == 0 {
		return registry.Record{}, false
	}
	rec := q.recs[0]
	q.recs = q.recs[1:]
	return rec, true
}

func (q *outQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

type callResult struct {
	pong ping.Pong
	err  error
}

// session wraps one established, authenticated connection to a peer:
// a yamux session carrying one gossip stream per direction plus call
// streams for request/reply exchanges.
type session struct {
	n      *Node
	remote cipher.PubKey
	ys     *yamux.Session
	log    *logrus.Entry

	gossip *outQueue

	// Outbound call stream, opened lazily on the first ask.
	callMu  sync.Mutex
	callLRW *ioutil.LenReadWriter
	callWMu sync.Mutex

	pendMu  sync.Mutex
	nextID  uint32
	pending map[uint32]chan callResult

	lastActive int64 // unix nano, atomic

	doneCh chan struct{}
	once   sync.Once
}

func newSession(n *Node, remote cipher.PubKey, ys *yamux.Session) *session {
	s := &session{
		n:       n,
		remote:  remote,
		ys:      ys,
		log:     log.WithField("remotePeer", remote),
		gossip:  newOutQueue(),
		pending: make(map[uint32]chan callResult),
		doneCh:  make(chan struct{}),
	}
	s.touch()
	return s
}

func (s *session) touch() {
	atomic.StoreInt64(&s.lastActive, time.Now().UnixNano())
}

func (s *session) idleFor() time.Duration {
	return time.Duration(time.Now().UnixNano() - atomic.LoadInt64(&s.lastActive))
}

// serve runs the accept and gossip loops. It returns when the session dies
// and tears it down.
func (s *session) serve() {
	go s.runGossipOut()

	for {
		stream, err := s.ys.Accept()
		if err != nil {
			s.log.WithError(err).Debug("Session accept ended")
			s.close()
			return
		}
		go s.serveStream(stream)
	}
}

func (s *session) serveStream(stream io.ReadWriteCloser) {
	var t [1]byte
	if _, err := io.ReadFull(stream, t[:]); err != nil {
		_ = stream.Close() //nolint:errcheck
		return
	}
	switch t[0] {
	case streamGossip:
		s.serveGossipIn(stream)
	case streamCall:
		s.serveCalls(stream)
	default:
		s.log.Warnf("Unknown stream type: %d", t[0])
		_ = stream.Close() //nolint:errcheck
	}
}

// runGossipOut opens the outbound gossip stream and forwards queued
// records to the peer.
func (s *session) runGossipOut() {
	stream, err := s.ys.Open()
	if err != nil {
		s.close()
		return
	}
	defer stream.Close() //nolint:errcheck

	if _, err := stream.Write([]byte{streamGossip}); err != nil {
		s.close()
		return
	}
	lrw := ioutil.NewLenReadWriter(stream)

	for {
		rec, ok := s.gossip.pop()
		if !ok {
			return
		}
		if _, err := lrw.Write(rec.Encode()); err != nil {
			s.log.WithError(err).Debug("Gossip send failed")
			s.close()
			return
		}
		s.touch()
	}
}

// serveGossipIn merges records gossiped by the peer and forwards the ones
// that changed the view to the other sessions.
func (s *session) serveGossipIn(stream io.ReadWriteCloser) {
	defer stream.Close() //nolint:errcheck

	lrw := ioutil.NewLenReadWriter(stream)
	for {
		p, err := lrw.ReadPacket()
		if err != nil {
			return
		}
		s.touch()

		rec, err := registry.DecodeRecord(p)
		if err != nil {
			s.log.WithError(err).Warn("Dropping malformed registry record")
			continue
		}
		if s.n.reg.Merge(rec) {
			s.n.broadcast(rec, s)
			s.n.emit(Event{Kind: EventRegistryUpdate, PK: s.remote, Record: rec})
		}
	}
}

// serveCalls answers KindCall frames arriving on an inbound call stream.
// Calls dispatch concurrently; replies to one stream share a write lock.
func (s *session) serveCalls(stream io.ReadWriteCloser) {
	defer stream.Close() //nolint:errcheck

	lrw := ioutil.NewLenReadWriter(stream)
	var wMu sync.Mutex

	for {
		p, err := lrw.ReadPacket()
		if err != nil {
			return
		}
		s.touch()

		f, err := decodeCallFrame(p)
		if err != nil || f.Kind != KindCall {
			s.log.Warn("Dropping malformed call frame")
			continue
		}
		go func(f callFrame) {
			res := s.n.dispatch(f.Payload)
			wMu.Lock()
			_, err := lrw.Write(res.withID(f.CallID).encode())
			wMu.Unlock()
			if err != nil {
				s.log.WithError(err).Debug("Reply send failed")
				return
			}
			s.touch()
		}(f)
	}
}

// ask performs one request/reply exchange with the peer. The call id
// correlates the reply; the pending slot is abandoned on timeout.
func (s *session) ask(ctx context.Context, env callEnvelope) (ping.Pong, error) {
	lrw, err := s.ensureCallStream()
	if err != nil {
		return ping.Pong{}, err
	}

	resCh := make(chan callResult, 1)
	s.pendMu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = resCh
	s.pendMu.Unlock()

	defer func() {
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
	}()

	f := callFrame{Kind: KindCall, CallID: id, Payload: env.encode()}
	s.callWMu.Lock()
	_, err = lrw.Write(f.encode())
	s.callWMu.Unlock()
	if err != nil {
		s.close()
		return ping.Pong{}, ErrDisconnected
	}
	s.touch()

	select {
	case res := <-resCh:
		return res.pong, res.err
	case <-s.doneCh:
		return ping.Pong{}, ErrDisconnected
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ping.Pong{}, ErrTimeout
		}
		return ping.Pong{}, ctx.Err()
	}
}

func (s *session) ensureCallStream() (*ioutil.LenReadWriter, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	if s.callLRW != nil {
		return s.callLRW, nil
	}

	stream, err := s.ys.Open()
	if err != nil {
		s.close()
		return nil, ErrDisconnected
	}
	if _, err := stream.Write([]byte{streamCall}); err != nil {
		_ = stream.Close() //nolint:errcheck
		s.close()
		return nil, ErrDisconnected
	}
	s.callLRW = ioutil.NewLenReadWriter(stream)
	go s.readReplies(s.callLRW)
	return s.callLRW, nil
}

func (s *session) readReplies(lrw *ioutil.LenReadWriter) {
	for {
		p, err := lrw.ReadPacket()
		if err != nil {
			s.close()
			return
		}
		s.touch()

		f, err := decodeCallFrame(p)
		if err != nil {
			s.log.Warn("Dropping malformed reply frame")
			continue
		}
		s.resolve(f)
	}
}

func (s *session) resolve(f callFrame) {
	s.pendMu.Lock()
	resCh, ok := s.pending[f.CallID]
	delete(s.pending, f.CallID)
	s.pendMu.Unlock()
	if !ok {
		// Reply to a timed out or cancelled call; drop it.
		return
	}

	switch f.Kind {
	case KindReply:
		pong, err := ping.DecodePong(f.Payload)
		if err != nil {
			resCh <- callResult{err: err}
			return
		}
		resCh <- callResult{pong: pong}
	case KindError:
		resCh <- callResult{err: &RemoteError{Msg: string(f.Payload)}}
	default:
		resCh <- callResult{err: ErrInvalidCallFrame}
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.doneCh)
		s.gossip.close()
		_ = s.ys.Close() //nolint:errcheck

		s.pendMu.Lock()
		for id, resCh := range s.pending {
			resCh <- callResult{err: ErrDisconnected}
			delete(s.pending, id)
		}
		s.pendMu.Unlock()

		s.n.removeSession(s)
	})
}

// reply helpers used by the serving side.

func replyFrame(pong ping.Pong) callFrame {
	return callFrame{Kind: KindReply, Payload: ping.EncodePong(pong)}
}

func errorFrame(msg string) callFrame {
	return callFrame{Kind: KindError, Payload: []byte(msg)}
}

func (f callFrame) withID(id uint32) callFrame {
	f.CallID = id
	return f
}
