// Package mesh implements the peer-to-peer transport: noise-authenticated,
// encrypted TCP connections multiplexed with yamux, carrying registry
// gossip and correlated request/reply streams.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/yamux"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/watercompany/pingmesh/internal/maddr"
	"github.com/watercompany/pingmesh/internal/noise"
	"github.com/watercompany/pingmesh/pkg/actor"
	"github.com/watercompany/pingmesh/pkg/cipher"
	"github.com/watercompany/pingmesh/pkg/ping"
	"github.com/watercompany/pingmesh/pkg/registry"
)

var log = logging.MustGetLogger("mesh")

// Default tunables.
const (
	DefaultAskTimeout       = 120 * time.Second
	DefaultIdleTimeout      = 600 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second

	idleSweepInterval = 30 * time.Second
)

// Transport errors.
var (
	// ErrNoPeerID is returned when a dial address lacks the /p2p/ suffix.
	ErrNoPeerID = errors.New("dial address carries no peer identity")
	// ErrIdentityMismatch is returned when the handshake proves an identity
	// other than the one advertised in the dial address.
	ErrIdentityMismatch = errors.New("remote identity does not match dial address")
	// ErrTimeout is returned when an ask deadline elapses.
	ErrTimeout = errors.New("ask timed out")
	// ErrNotFound is returned when no peer currently advertises a name.
	ErrNotFound = errors.New("name not found")
	// ErrDisconnected is returned for asks pending on a dead session.
	ErrDisconnected = errors.New("peer disconnected")
	// ErrClosed is returned by operations on a closed node.
	ErrClosed = errors.New("node closed")
)

// RemoteError is an error reported by the serving peer, e.g. an unknown
// name or an actor type mismatch.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Msg
}

// EventKind enumerates node lifecycle events.
type EventKind int

// Node events.
const (
	EventConnUp EventKind = iota + 1
	EventConnDown
	EventNewListenAddr
	EventRegistryUpdate
)

// Event is delivered to OnEvent callbacks. Callbacks run on transport
// goroutines and must not block.
type Event struct {
	Kind   EventKind
	PK     cipher.PubKey
	Addr   maddr.Addr
	Record registry.Record
}

// Config configures a Node. The zero value is usable: an identity key is
// generated and the default timeouts apply.
type Config struct {
	SecKey           cipher.SecKey // Static identity key; generated when null.
	AskTimeout       time.Duration // Per-ask deadline when ctx carries none.
	IdleTimeout      time.Duration // Idle sessions older than this are closed.
	HandshakeTimeout time.Duration
}

// Node is one process's endpoint on the mesh.
type Node struct {
	conf Config
	lpk  cipher.PubKey
	lsk  cipher.SecKey
	reg  *registry.Registry

	mu        sync.Mutex
	listeners []net.Listener
	sessions  map[cipher.PubKey]*session

	cbMu sync.RWMutex
	cbs  []func(Event)

	doneCh chan struct{}
	once   sync.Once
}

// New constructs a Node and starts its idle sweeper.
func New(conf Config) (*Node, error) {
	var pk cipher.PubKey
	sk := conf.SecKey
	if sk.Null() {
		pk, sk = cipher.GenerateKeyPair()
	} else {
		var err error
		if pk, err = sk.PubKey(); err != nil {
			return nil, fmt.Errorf("invalid secret key: %w", err)
		}
	}

	if conf.AskTimeout <= 0 {
		conf.AskTimeout = DefaultAskTimeout
	}
	if conf.IdleTimeout <= 0 {
		conf.IdleTimeout = DefaultIdleTimeout
	}
	if conf.HandshakeTimeout <= 0 {
		conf.HandshakeTimeout = DefaultHandshakeTimeout
	}
	conf.SecKey = sk

	n := &Node{
		conf:     conf,
		lpk:      pk,
		lsk:      sk,
		reg:      registry.New(pk),
		sessions: make(map[cipher.PubKey]*session),
		doneCh:   make(chan struct{}),
	}
	go n.sweepIdle()

	log.WithField("localPeer", pk).Info("Node created")
	return n, nil
}

// Local returns the node's peer identity.
func (n *Node) Local() cipher.PubKey {
	return n.lpk
}

// Registry exposes the node's registry view.
func (n *Node) Registry() *registry.Registry {
	return n.reg
}

// OnEvent registers a callback for node events.
func (n *Node) OnEvent(cb func(Event)) {
	n.cbMu.Lock()
	n.cbs = append(n.cbs, cb)
	n.cbMu.Unlock()
}

func (n *Node) emit(ev Event) {
	n.cbMu.RLock()
	cbs := n.cbs
	n.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Listen starts accepting connections on the given multiaddress, e.g.
// /ip4/0.0.0.0/tcp/36341. The returned address reports the actual port
// and carries the node's identity suffix.
func (n *Node) Listen(address string) (maddr.Addr, error) {
	if n.isClosed() {
		return maddr.Addr{}, ErrClosed
	}

	a, err := maddr.Parse(address)
	if err != nil {
		return maddr.Addr{}, err
	}

	ls, err := net.Listen("tcp", a.TCPAddr())
	if err != nil {
		return maddr.Addr{}, err
	}

	actual, err := maddr.FromTCPAddr(ls.Addr())
	if err != nil {
		_ = ls.Close() //nolint:errcheck
		return maddr.Addr{}, err
	}
	a.Port = actual.Port
	a = a.WithPeer(n.lpk)

	n.mu.Lock()
	n.listeners = append(n.listeners, ls)
	n.mu.Unlock()

	go n.acceptLoop(ls)

	log.WithField("addr", a).Info("Listening")
	n.emit(Event{Kind: EventNewListenAddr, PK: n.lpk, Addr: a})
	return a, nil
}

func (n *Node) acceptLoop(ls net.Listener) {
	for {
		conn, err := ls.Accept()
		if err != nil {
			if !n.isClosed() {
				log.WithError(err).Warn("Accept failed, listener stopped")
			}
			return
		}
		go func() {
			if err := n.setupConn(conn, false, cipher.PubKey{}); err != nil {
				log.WithError(err).Warn("Failed to set up incoming connection")
			}
		}()
	}
}

// Dial establishes an outgoing connection. The address must carry the
// remote identity as a /p2p/ suffix; the handshake verifies it.
func (n *Node) Dial(ctx context.Context, address string) (cipher.PubKey, error) {
	if n.isClosed() {
		return cipher.PubKey{}, ErrClosed
	}

	a, err := maddr.Parse(address)
	if err != nil {
		return cipher.PubKey{}, err
	}
	if !a.HasPeer() {
		return cipher.PubKey{}, ErrNoPeerID
	}

	n.mu.Lock()
	_, ok := n.sessions[a.PK]
	n.mu.Unlock()
	if ok {
		return a.PK, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.TCPAddr())
	if err != nil {
		return cipher.PubKey{}, err
	}

	if err := n.setupConn(conn, true, a.PK); err != nil {
		return cipher.PubKey{}, err
	}
	return a.PK, nil
}

// setupConn performs the noise handshake over conn, stacks yamux on top
// and starts serving the session. conn is consumed either way.
func (n *Node) setupConn(conn net.Conn, initiator bool, remotePK cipher.PubKey) error {
	ns, err := noise.XKAndSecp256k1(noise.Config{
		LocalPK:   n.lpk,
		LocalSK:   n.lsk,
		RemotePK:  remotePK,
		Initiator: initiator,
	})
	if err != nil {
		_ = conn.Close() //nolint:errcheck
		return err
	}

	nConn, err := noise.WrapConn(conn, ns, n.conf.HandshakeTimeout)
	if err != nil {
		return err
	}

	remote := nConn.RemoteStatic()
	if initiator && remote != remotePK {
		_ = nConn.Close() //nolint:errcheck
		return ErrIdentityMismatch
	}

	ycfg := yamux.DefaultConfig()
	ycfg.LogOutput = io.Discard

	var ys *yamux.Session
	if initiator {
		ys, err = yamux.Client(nConn, ycfg)
	} else {
		ys, err = yamux.Server(nConn, ycfg)
	}
	if err != nil {
		_ = nConn.Close() //nolint:errcheck
		return err
	}

	s := newSession(n, remote, ys)

	// Install the replacement before closing any old session, so its
	// teardown sees the newer session and leaves the peer's records alone.
	n.mu.Lock()
	old := n.sessions[remote]
	n.sessions[remote] = s
	for _, rec := range n.reg.Snapshot() {
		s.gossip.push(rec)
	}
	n.mu.Unlock()
	if old != nil {
		old.close()
	}

	go s.serve()

	log.WithField("remotePeer", remote).Info("Connection established")
	n.emit(Event{Kind: EventConnUp, PK: remote})
	return nil
}

func (n *Node) removeSession(s *session) {
	n.mu.Lock()
	cur, ok := n.sessions[s.remote]
	if ok && cur == s {
		delete(n.sessions, s.remote)
	}
	n.mu.Unlock()

	log.WithField("remotePeer", s.remote).Info("Connection closed")

	// The peer's endpoints are unreachable now; its names leave the view
	// with it. A replacement session keeps them.
	if ok && cur == s {
		for _, rec := range n.reg.DropOwner(s.remote) {
			n.emit(Event{Kind: EventRegistryUpdate, PK: s.remote, Record: rec})
		}
	}
	n.emit(Event{Kind: EventConnDown, PK: s.remote})
}

// broadcast forwards rec to every live session except the one it arrived
// on.
func (n *Node) broadcast(rec registry.Record, except *session) {
	n.mu.Lock()
	for _, s := range n.sessions {
		if s != except {
			s.gossip.push(rec)
		}
	}
	n.mu.Unlock()
}

// Register publishes name on this node and announces it to connected
// peers.
func (n *Node) Register(name string, ref *actor.Ref, actorType string, typeID uuid.UUID) error {
	rec, err := n.reg.Register(name, ref, actorType, typeID)
	if err != nil {
		return err
	}
	n.broadcast(rec, nil)
	n.emit(Event{Kind: EventRegistryUpdate, PK: n.lpk, Record: rec})
	return nil
}

// Unregister retracts a locally published name.
func (n *Node) Unregister(name string) {
	if rec, ok := n.reg.Unregister(name); ok {
		n.broadcast(rec, nil)
	}
}

// RetractAll retracts every locally published name and announces the
// retractions, so a clean shutdown removes the names from peers without
// waiting for the disconnect.
func (n *Node) RetractAll() {
	for _, rec := range n.reg.RetractAll() {
		n.broadcast(rec, nil)
	}
}

// RemoteHandle routes asks for one name to whichever peer currently owns
// it.
type RemoteHandle struct {
	n    *Node
	name string
}

// Lookup resolves name against the gossiped view. The boolean is false
// when no peer currently advertises the name.
func (n *Node) Lookup(name string) (*RemoteHandle, bool) {
	if _, ok := n.reg.Lookup(name); !ok {
		return nil, false
	}
	return &RemoteHandle{n: n, name: name}, true
}

// Name returns the name the handle resolves.
func (h *RemoteHandle) Name() string {
	return h.name
}

// Ask sends req to the handler registered under the handle's name and
// awaits the reply. The expected actor type identifiers are verified by
// the serving side.
func (h *RemoteHandle) Ask(ctx context.Context, actorType string, typeID uuid.UUID, req ping.Ping) (ping.Pong, error) {
	return h.n.ask(ctx, h.name, actorType, typeID, req)
}

func (n *Node) ask(ctx context.Context, name, actorType string, typeID uuid.UUID, req ping.Ping) (ping.Pong, error) {
	rec, ok := n.reg.Lookup(name)
	if !ok {
		return ping.Pong{}, ErrNotFound
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.conf.AskTimeout)
		defer cancel()
	}

	if rec.Owner == n.lpk {
		ref, lrec, ok := n.reg.LocalRef(name)
		if !ok {
			return ping.Pong{}, ErrNotFound
		}
		if err := checkType(lrec, actorType, typeID); err != nil {
			return ping.Pong{}, err
		}
		return ref.Ask(ctx, req)
	}

	n.mu.Lock()
	s, ok := n.sessions[rec.Owner]
	n.mu.Unlock()
	if !ok {
		return ping.Pong{}, ErrDisconnected
	}

	env := callEnvelope{
		Name:      name,
		ActorType: actorType,
		TypeID:    typeID,
		Ping:      ping.EncodePing(req),
	}
	return s.ask(ctx, env)
}

// dispatch serves one inbound call payload against the local registry and
// mailbox. It always produces a frame; failures become error frames.
func (n *Node) dispatch(payload []byte) callFrame {
	env, err := decodeCallEnvelope(payload)
	if err != nil {
		return errorFrame("malformed call envelope")
	}

	ref, rec, ok := n.reg.LocalRef(env.Name)
	if !ok {
		return errorFrame(fmt.Sprintf("no handler registered under %q", env.Name))
	}
	if err := checkType(rec, env.ActorType, env.TypeID); err != nil {
		return errorFrame(err.Error())
	}

	req, err := ping.DecodePing(env.Ping)
	if err != nil {
		return errorFrame("malformed ping envelope")
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.conf.AskTimeout)
	defer cancel()

	pong, err := ref.Ask(ctx, req)
	if err != nil {
		return errorFrame(err.Error())
	}
	return replyFrame(pong)
}

func checkType(rec registry.Record, actorType string, typeID uuid.UUID) error {
	if rec.ActorType != actorType || rec.TypeID != typeID {
		return &RemoteError{Msg: fmt.Sprintf(
			"actor type mismatch for %q: have %s/%s, want %s/%s",
			rec.Name, rec.ActorType, rec.TypeID, actorType, typeID)}
	}
	return nil
}

func (n *Node) sweepIdle() {
	t := time.NewTicker(idleSweepInterval)
	defer t.Stop()

	for {
		select {
		case <-n.doneCh:
			return
		case <-t.C:
			n.mu.Lock()
			var idle []*session
			for _, s := range n.sessions {
				if s.idleFor() > n.conf.IdleTimeout {
					idle = append(idle, s)
				}
			}
			n.mu.Unlock()
			for _, s := range idle {
				s.log.Info("Closing idle connection")
				s.close()
			}
		}
	}
}

func (n *Node) isClosed() bool {
	select {
	case <-n.doneCh:
		return true
	default:
		return false
	}
}

// Close stops listeners and sessions. Pending asks resolve with
// ErrDisconnected.
func (n *Node) Close() error {
	if n == nil {
		return nil
	}
	n.once.Do(func() {
		close(n.doneCh)

		n.mu.Lock()
		listeners := n.listeners
		n.listeners = nil
		sessions := make([]*session, 0, len(n.sessions))
		for _, s := range n.sessions {
			sessions = append(sessions, s)
		}
		n.mu.Unlock()

		for _, ls := range listeners {
			_ = ls.Close() //nolint:errcheck
		}
		for _, s := range sessions {
			s.close()
		}
	})
	return nil
}
