// Package wsbridge implements the browser-facing WebSocket endpoint
// (spec.md §1: "a thin transport; its contract is a bidirectional
// binary stream carrying RFB bytes"). It upgrades an HTTP request at
// /kvm/0 to a WebSocket and wraps the connection as an rfb.Stream so
// the same Session state machine drives both raw TCP and browser
// clients.
//
// Grounded on api/pkg/desktop/ws_stream.go's upgrader configuration
// and binary-message read/write loop (gorilla/websocket,
// CheckOrigin always-allow, BinaryMessage framing).
package wsbridge

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Path is the fixed WebSocket endpoint path (spec.md §6).
const Path = "/kvm/0"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler builds an http.Handler that upgrades each request to a
// WebSocket and hands the wrapped connection to serve.
func Handler(log zerolog.Logger, serve func(conn io.ReadWriteCloser)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("wsbridge: upgrade failed")
			return
		}
		serve(newConn(ws))
	})
}

// conn adapts a *websocket.Conn into an io.ReadWriteCloser carrying a
// plain byte stream: each RFB write becomes one binary WebSocket
// message, and reads are buffered across message boundaries since RFB
// message sizes rarely line up with WebSocket frame boundaries.
type conn struct {
	ws  *websocket.Conn
	buf bytes.Buffer
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{ws: ws}
}

func (c *conn) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.buf.Write(data)
	}
	return c.buf.Read(p)
}

func (c *conn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *conn) Close() error {
	return c.ws.Close()
}
