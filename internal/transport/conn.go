package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peerclass/pkg/interfaces"
)

const (
	writeTimeout  = 5 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
	writeBufDepth = 100
)

// frame is one queued outbound message.
type frame struct {
	binary bool
	data   []byte
}

// Conn wraps a websocket connection as a peer endpoint. Writes are serialized
// through a single writer goroutine; transport callbacks never touch the
// socket directly.
type Conn struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan frame
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger
}

var _ interfaces.Endpoint = (*Conn)(nil)

// NewConn wraps an established websocket connection and starts its writer.
func NewConn(id string, conn *websocket.Conn, logger *zap.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:      id,
		conn:    conn,
		writeCh: make(chan frame, writeBufDepth),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	go c.writeLoop()
	return c
}

// ID returns the transport-assigned endpoint identifier.
func (c *Conn) ID() string {
	return c.id
}

// writeLoop is the single writer. Serializing here removes write races
// between the dispatcher, the sync engine and ping control frames.
func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			messageType := websocket.TextMessage
			if f.binary {
				messageType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(messageType, f.data); err != nil {
				c.logger.Debug("write failed", zap.String("endpoint_id", c.id), zap.Error(err))
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) send(f frame) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrEndpointClosed
	default:
	}

	select {
	case c.writeCh <- f:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return interfaces.ErrEndpointClosed
	}
}

// SendEnvelope queues an encoded payload envelope as a text frame.
func (c *Conn) SendEnvelope(data []byte) error {
	return c.send(frame{binary: false, data: data})
}

// SendFile queues an opaque framed file as a binary frame.
func (c *Conn) SendFile(data []byte) error {
	return c.send(frame{binary: true, data: data})
}

// Close tears down the connection. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// ReadLoop pumps inbound frames into the event channel until the connection
// dies, then emits exactly one disconnect event. It blocks; run it on its own
// goroutine. Heartbeat: read deadline refreshed by pongs, pings sent on a
// ticker.
func (c *Conn) ReadLoop(events chan<- interfaces.EndpointEvent) {
	defer func() {
		_ = c.Close()
		events <- interfaces.EndpointEvent{Kind: interfaces.EndpointDisconnected, EndpointID: c.id, Endpoint: c}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Debug("read failed", zap.String("endpoint_id", c.id), zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			events <- interfaces.EndpointEvent{Kind: interfaces.EndpointEnvelope, EndpointID: c.id, Endpoint: c, Payload: data}
		case websocket.BinaryMessage:
			events <- interfaces.EndpointEvent{Kind: interfaces.EndpointFile, EndpointID: c.id, Endpoint: c, Payload: data}
		}
	}
}
