package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxPayloadBytes = 1 << 20
	sendBufferSize  = 64
	pongWait        = 45 * time.Second
	pingInterval    = 20 * time.Second
	writeWait       = 10 * time.Second
)

// Conn wraps one upgraded websocket connection: a buffered outbound write
// loop and a blocking read loop, mirroring the teacher's wsSession
// run/readLoop/writeLoop split in internal/gateway/ws_control_plane.go,
// adapted to this spec's flat (non JSON-RPC) frame envelope.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Accept upgrades r/w to a websocket connection and returns a Conn whose
// lifetime is bound to r's request context.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: upgrade: %w", err)
	}
	ctx, cancel := context.WithCancel(r.Context())
	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	return c, nil
}

// Context returns the connection's lifetime context, canceled on Close or
// when the underlying socket errors.
func (c *Conn) Context() context.Context { return c.ctx }

// Send enqueues frame for the write loop; non-blocking, matching the
// teacher's "drop with error rather than backpressure the session" choice
// for a full send buffer.
func (c *Conn) Send(frame OutboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > maxPayloadBytes {
		return fmt.Errorf("channel: outbound frame too large (%d bytes)", len(data))
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return fmt.Errorf("channel: send buffer full")
	}
}

// Close tears down the connection and stops the write loop.
func (c *Conn) Close() {
	c.cancel()
	_ = c.ws.Close()
}

// Run starts the write loop in the background and blocks in the read
// loop, invoking handle for every inbound frame that parses as a
// {"type": "..."} envelope and validates against that type's schema.
// handle receives the frame's type and its raw JSON body; a non-nil error
// from handle is sent back to the client as an `error` frame and does not
// terminate the connection, per §4.5/§7's "unknown type / protocol error
// is non-fatal" rule — only a socket-level error or ctx cancellation ends
// Run.
func (c *Conn) Run(handle func(frameType string, raw []byte) error) {
	go c.writeLoop()
	c.readLoop(handle)
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Conn) readLoop(handle func(frameType string, raw []byte) error) {
	defer c.Close()
	c.ws.SetReadLimit(maxPayloadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var envelope InboundFrame
		if err := json.Unmarshal(data, &envelope); err != nil {
			_ = c.Send(ErrorFrame("malformed frame: "+err.Error(), time.Now()))
			continue
		}
		if err := ValidateFrame(data, envelope.Type); err != nil {
			_ = c.Send(ErrorFrame(err.Error(), time.Now()))
			continue
		}

		if err := handle(envelope.Type, data); err != nil {
			_ = c.Send(ErrorFrame(err.Error(), time.Now()))
		}

		select {
		case <-c.ctx.Done():
			return
		default:
		}
	}
}
