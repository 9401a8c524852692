// Package wsbridge exposes the ping handler to browser clients: a small
// HTTP server with an embedded demo page and a WebSocket endpoint that
// forwards JSON frames to the mailbox.
package wsbridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	"github.com/skycoin/skycoin/src/util/logging"

	"github.com/watercompany/pingmesh/internal/httputil"
	"github.com/watercompany/pingmesh/pkg/actor"
	"github.com/watercompany/pingmesh/pkg/ping"
)

var log = logging.MustGetLogger("wsbridge")

// Config configures the bridge.
type Config struct {
	// HTTPAddr is the bind address, e.g. 127.0.0.1:8080.
	HTTPAddr string
	// StaticDir is served under /static/. Empty disables the route.
	StaticDir string
	// PeerID is reported by /api/info, so browser clients can build the
	// mesh connection string.
	PeerID string
}

// Server bridges WebSocket connections to the shared mailbox.
type Server struct {
	conf Config
	ref  *actor.Ref

	upgrader websocket.Upgrader
	connSeq  uint64
}

// New constructs a Server forwarding to ref.
func New(ref *actor.Ref, conf Config) *Server {
	return &Server{
		conf: conf,
		ref:  ref,
	}
}

// Run binds the HTTP listener and serves until ctx is done. A failure to
// bind is returned immediately.
func (s *Server) Run(ctx context.Context) error {
	ls, err := net.Listen("tcp", s.conf.HTTPAddr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/", s.serveIndex)
	r.Get("/api/info", s.serveInfo)
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		s.serveWS(ctx, w, req)
	})
	if s.conf.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(s.conf.StaticDir)))
		r.Handle("/static/*", fs)
	}

	srv := &http.Server{Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ls)
	}()

	log.WithField("addr", ls.Addr()).Info("HTTP server listening")

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

func (s *Server) serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML)) //nolint:errcheck
}

func (s *Server) serveInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, r, http.StatusOK, map[string]string{
		"peer_id":         s.conf.PeerID,
		"registered_name": actor.RegisteredName,
	})
}

// serveWS handles one WebSocket connection: each text frame is parsed as
// a ping, submitted to the mailbox, and answered with one text frame.
// Malformed frames are logged and skipped; binary frames are ignored.
func (s *Server) serveWS(ctx context.Context, w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close() //nolint:errcheck

	wsLog := log.WithField("conn", atomic.AddUint64(&s.connSeq, 1))
	wsLog.Info("WebSocket client connected")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				wsLog.WithError(err).Warn("WebSocket read failed")
			} else {
				wsLog.Info("WebSocket client disconnected")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var p ping.Ping
		if err := json.Unmarshal(data, &p); err != nil {
			wsLog.WithError(err).Warn("Skipping malformed frame")
			continue
		}
		wsLog.WithField("sequence", p.Sequence).Debug("Received ping")

		pong, err := s.ref.Ask(ctx, p)
		if err != nil {
			wsLog.WithError(err).Error("Handler submission failed")
			if err == actor.ErrHandlerGone {
				return
			}
			continue
		}

		out, err := json.Marshal(pong)
		if err != nil {
			wsLog.WithError(err).Error("Failed to encode pong")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			wsLog.WithError(err).Warn("WebSocket write failed")
			return
		}
	}
}
