package rfb

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadClientMessage_KeyEvent(t *testing.T) {
	// S3: KeyDown 'A'.
	in := []byte{0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x41}
	msg, err := readClientMessage(bytes.NewReader(in))
	require.NoError(t, err)

	ke, ok := msg.(KeyEventMsg)
	require.True(t, ok)
	require.True(t, ke.Down)
	require.Equal(t, uint32(0x41), ke.Keysym)
}

func TestReadClientMessage_PointerEvent(t *testing.T) {
	// S4, first event.
	in := []byte{0x05, 0x01, 0x00, 0x0A, 0x00, 0x05}
	msg, err := readClientMessage(bytes.NewReader(in))
	require.NoError(t, err)

	pe, ok := msg.(PointerEventMsg)
	require.True(t, ok)
	require.Equal(t, byte(0x01), pe.ButtonMask)
	require.Equal(t, uint16(10), pe.X)
	require.Equal(t, uint16(5), pe.Y)
}

func TestReadClientMessage_FramebufferUpdateRequest(t *testing.T) {
	in := []byte{0x03, 0x01, 0x00, 0x00, 0x00, 0x00, 0x07, 0x80, 0x04, 0x38}
	msg, err := readClientMessage(bytes.NewReader(in))
	require.NoError(t, err)

	req, ok := msg.(FramebufferUpdateRequestMsg)
	require.True(t, ok)
	require.True(t, req.Incremental)
	require.Equal(t, uint16(1920), req.W)
	require.Equal(t, uint16(1080), req.H)
}

func TestReadClientMessage_SetEncodings(t *testing.T) {
	in := []byte{0x02, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
	msg, err := readClientMessage(bytes.NewReader(in))
	require.NoError(t, err)

	se, ok := msg.(SetEncodingsMsg)
	require.True(t, ok)
	require.Equal(t, []int32{0, -1}, se.Encodings)
}

func TestReadClientMessage_ClientCutTextDiscardsPayload(t *testing.T) {
	in := []byte{0x06, 0, 0, 0, 0, 0, 0, 3, 'h', 'i', '!'}
	msg, err := readClientMessage(bytes.NewReader(in))
	require.NoError(t, err)

	ct, ok := msg.(ClientCutTextMsg)
	require.True(t, ok)
	require.Equal(t, []byte("hi!"), ct.Text)
}

func TestReadClientMessage_UnknownTypeIsLenient(t *testing.T) {
	msg, err := readClientMessage(bytes.NewReader([]byte{0x7F}))
	require.NoError(t, err)

	u, ok := msg.(UnknownMsg)
	require.True(t, ok)
	require.Equal(t, byte(0x7F), u.Type)
}

func TestReadClientMessage_SetPixelFormat(t *testing.T) {
	in := make([]byte, 20)
	in[0] = 0x00
	in[4+0] = 16 // bpp
	in[4+1] = 16 // depth
	msg, err := readClientMessage(bytes.NewReader(in))
	require.NoError(t, err)

	sp, ok := msg.(SetPixelFormatMsg)
	require.True(t, ok)
	require.Equal(t, byte(16), sp.Format.BPP)
	require.Equal(t, byte(16), sp.Format.Depth)
}
