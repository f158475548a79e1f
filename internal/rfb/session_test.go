package rfb

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jorgecis/kvmrs/internal/frame"
	"github.com/jorgecis/kvmrs/internal/hid"
	"github.com/jorgecis/kvmrs/internal/hub"
)

func testTranslator(t *testing.T) *hid.Translator {
	t.Helper()
	kbPath := t.TempDir() + "/kb"
	mousePath := t.TempDir() + "/mouse"
	require.NoError(t, os.WriteFile(kbPath, nil, 0o600))
	require.NoError(t, os.WriteFile(mousePath, nil, 0o600))

	kb, err := hid.OpenGadget(kbPath, 8)
	require.NoError(t, err)
	mouse, err := hid.OpenGadget(mousePath, 4)
	require.NoError(t, err)

	return &hid.Translator{Keyboard: kb, Mouse: mouse}
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// S1: Handshake, no encryption.
func TestSession_S1Handshake(t *testing.T) {
	h := hub.New()
	h.Publish(frame.Normalized{Width: 1920, Height: 1080, Pix: make([]byte, 1920*1080*3)})

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	sess := NewSession(serverConn, h, testTranslator(t), false, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Run(ctx)

	version := make([]byte, 12)
	_, err := readAll(clientConn, version)
	require.NoError(t, err)
	require.Equal(t, []byte{0x52, 0x46, 0x42, 0x20, 0x30, 0x30, 0x33, 0x2E, 0x30, 0x30, 0x38, 0x0A}, version)

	_, err = clientConn.Write(version)
	require.NoError(t, err)

	secTypes := make([]byte, 2)
	_, err = readAll(clientConn, secTypes)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x01}, secTypes)

	_, err = clientConn.Write([]byte{0x01})
	require.NoError(t, err)

	secResult := make([]byte, 4)
	_, err = readAll(clientConn, secResult)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, secResult)

	_, err = clientConn.Write([]byte{0x01}) // shared flag
	require.NoError(t, err)

	serverInit := make([]byte, 24+len("KVM-RS"))
	_, err = readAll(clientConn, serverInit)
	require.NoError(t, err)
	require.Equal(t, []byte{0x07, 0x80}, serverInit[0:2])
	require.Equal(t, []byte{0x04, 0x38}, serverInit[2:4])
	require.Equal(t, "KVM-RS", string(serverInit[24:]))
}

// S2: Update on request, following S1.
func TestSession_S2UpdateOnRequest(t *testing.T) {
	h := hub.New()
	pix := make([]byte, 1920*1080*3)
	for i := range pix {
		pix[i] = byte(i)
	}
	h.Publish(frame.Normalized{Width: 1920, Height: 1080, Pix: pix})

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	sess := NewSession(serverConn, h, testTranslator(t), false, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go sess.Run(ctx)

	completeHandshake(t, clientConn)

	req := []byte{0x03, 0x01, 0x00, 0x00, 0x00, 0x00, 0x07, 0x80, 0x04, 0x38}
	_, err := clientConn.Write(req)
	require.NoError(t, err)

	header := make([]byte, 16)
	_, err = readAll(clientConn, header)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, header[0:4])
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x07, 0x80, 0x04, 0x38, 0x00, 0x00, 0x00, 0x00}, header[4:16])

	gotPix := make([]byte, len(pix))
	_, err = readAll(clientConn, gotPix)
	require.NoError(t, err)
	require.Equal(t, pix, gotPix)
}

// VersionExchange: a client announcing an unsupported version closes
// the session instead of proceeding into Security.
func TestSession_RejectsUnsupportedClientVersion(t *testing.T) {
	h := hub.New()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	sess := NewSession(serverConn, h, testTranslator(t), false, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	version := make([]byte, 12)
	_, err := readAll(clientConn, version)
	require.NoError(t, err)

	_, err = clientConn.Write([]byte("RFB 009.999\n"))
	require.NoError(t, err)

	select {
	case err := <-runErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not close on unsupported version")
	}
}

// S6: two concurrent clients, independent disconnect.
func TestSession_S6TwoConcurrentClients(t *testing.T) {
	h := hub.New()
	h.Publish(frame.Normalized{Width: 640, Height: 480, Pix: make([]byte, 640*480*3)})
	translator := testTranslator(t)

	server1, client1 := net.Pipe()
	server2, client2 := net.Pipe()
	t.Cleanup(func() { client1.Close(); client2.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sess1 := NewSession(server1, h, translator, false, discardLogger())
	sess2 := NewSession(server2, h, translator, false, discardLogger())
	go sess1.Run(ctx)
	go sess2.Run(ctx)

	completeHandshake(t, client1)
	completeHandshake(t, client2)

	require.Equal(t, 2, h.SubscriberCount())

	client1.Close()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.SubscriberCount())
}

func completeHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	version := make([]byte, 12)
	_, err := readAll(conn, version)
	require.NoError(t, err)
	_, err = conn.Write(version)
	require.NoError(t, err)

	secTypes := make([]byte, 2)
	_, err = readAll(conn, secTypes)
	require.NoError(t, err)
	_, err = conn.Write([]byte{secTypes[1]})
	require.NoError(t, err)

	secResult := make([]byte, 4)
	_, err = readAll(conn, secResult)
	require.NoError(t, err)

	_, err = conn.Write([]byte{0x01})
	require.NoError(t, err)

	serverInit := make([]byte, 24+len("KVM-RS"))
	_, err = readAll(conn, serverInit)
	require.NoError(t, err)
}

func readAll(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
