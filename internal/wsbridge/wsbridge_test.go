package wsbridge

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHandler_EchoesBytesOverWebSocket(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(Handler(zerolog.New(io.Discard), func(c io.ReadWriteCloser) {
		defer close(done)
		buf := make([]byte, 5)
		_, err := io.ReadFull(c, buf)
		require.NoError(t, err)
		require.Equal(t, "hello", string(buf))

		_, err = c.Write([]byte("world"))
		require.NoError(t, err)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	require.Equal(t, "world", string(data))

	<-done
}

func TestConn_BuffersPartialReadsAcrossMessages(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(Handler(zerolog.New(io.Discard), func(c io.ReadWriteCloser) {
		defer close(done)
		buf := make([]byte, 3)
		_, err := io.ReadFull(c, buf)
		require.NoError(t, err)
		require.Equal(t, "abc", string(buf))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Two short messages whose bytes still combine into the three the
	// handler asked for.
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("a")))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("bc")))

	<-done
}
