package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peerclass/pkg/interfaces"
)

var upgrader = websocket.Upgrader{
	// Peers join from arbitrary LAN addresses; there is no browser origin to
	// check on this transport.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Listener accepts inbound student connections on the tutor device. Every
// accepted socket is provisionally registered before any authorization
// decision: the student's PIN can only arrive through the now-open channel,
// so the accept/reject call belongs to the payload layer, not here.
type Listener struct {
	addr     string
	registry *Registry
	events   chan interfaces.EndpointEvent
	server   *http.Server
	ln       net.Listener
	logger   *zap.Logger
}

// NewListener creates a listener bound to addr (host:port).
func NewListener(addr string, registry *Registry, events chan interfaces.EndpointEvent, logger *zap.Logger) *Listener {
	return &Listener{
		addr:     addr,
		registry: registry,
		events:   events,
		logger:   logger,
	}
}

// Start begins accepting connections. A bind failure is reported to the
// caller and not retried. Serve errors after a successful bind are logged;
// they do not crash other endpoints.
func (l *Listener) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", l.handleJoin)

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("transport listen on %s: %w", l.addr, err)
	}

	l.ln = ln
	l.server = &http.Server{Handler: mux}
	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			l.logger.Warn("transport server stopped", zap.Error(err))
		}
	}()

	l.logger.Info("transport listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Port returns the bound TCP port, for inclusion in discovery beacons.
func (l *Listener) Port() int {
	if l.ln == nil {
		return 0
	}
	if tcp, ok := l.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (l *Listener) handleJoin(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(uuid.New().String(), ws, l.logger)
	if err := l.registry.Register(conn); err != nil {
		_ = conn.Close()
		return
	}

	// Provisional accept: data channel open, authorization pending.
	l.events <- interfaces.EndpointEvent{Kind: interfaces.EndpointConnected, EndpointID: conn.ID(), Endpoint: conn}

	go func() {
		conn.ReadLoop(l.events)
		l.registry.Unregister(conn)
	}()
}

// Stop shuts the listener down and closes every endpoint.
func (l *Listener) Stop(ctx context.Context) error {
	l.registry.CloseAll()
	if l.server == nil {
		return nil
	}
	return l.server.Shutdown(ctx)
}

// Dial connects a student endpoint to a tutor's transport address. Returns
// the connection; the caller starts its ReadLoop with the session's event
// channel.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Conn, error) {
	url := fmt.Sprintf("ws://%s/session", addr)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport dial %s: %w", addr, err)
	}
	return NewConn(uuid.New().String(), ws, logger), nil
}
