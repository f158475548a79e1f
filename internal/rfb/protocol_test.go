package rfb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Invariant 1: ServerInit length is 24+len(name); width/height occupy
// the first four bytes big-endian.
func TestEncodeServerInit_Invariant1(t *testing.T) {
	b := encodeServerInit(1920, 1080)
	assert.Len(t, b, 24+len(DesktopName))
	assert.Equal(t, []byte{0x07, 0x80}, b[0:2])
	assert.Equal(t, []byte{0x04, 0x38}, b[2:4])
}

// Invariant 2: a one-rectangle Raw FramebufferUpdate's rectangle
// portion (header + pixels) is 12 + w*h*3 bytes.
func TestEncodeFramebufferUpdate_Invariant2(t *testing.T) {
	w, h := 64, 48
	pix := make([]byte, w*h*3)
	msg := encodeFramebufferUpdate(w, h, pix)

	rect := msg[4:] // strip the 4-byte message header (type, pad, nRects)
	assert.Len(t, rect, 12+w*h*3)
}

func TestEncodeFramebufferUpdate_S2Header(t *testing.T) {
	pix := make([]byte, 1920*1080*3)
	msg := encodeFramebufferUpdate(1920, 1080, pix)

	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, msg[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x07, 0x80, 0x04, 0x38, 0x00, 0x00, 0x00, 0x00}, msg[4:16])
}

func TestIsAcceptedClientVersion_AcceptsDocumentedVersions(t *testing.T) {
	for _, v := range []string{"RFB 003.003\n", "RFB 003.007\n", "RFB 003.008\n"} {
		assert.True(t, isAcceptedClientVersion([]byte(v)), v)
	}
}

func TestIsAcceptedClientVersion_RejectsUnknownVersion(t *testing.T) {
	assert.False(t, isAcceptedClientVersion([]byte("RFB 009.999\n")))
}

func TestCanonicalPixelFormat_EncodesCorrectly(t *testing.T) {
	b := CanonicalPixelFormat.encode()
	assert.Equal(t, byte(24), b[0]) // bpp
	assert.Equal(t, byte(24), b[1]) // depth
	assert.Equal(t, byte(0), b[2])  // big-endian flag
	assert.Equal(t, byte(1), b[3])  // true-color flag
	assert.Equal(t, []byte{0x00, 0xFF}, b[4:6])
	assert.Equal(t, byte(16), b[10]) // red shift
	assert.Equal(t, byte(8), b[11])  // green shift
	assert.Equal(t, byte(0), b[12])  // blue shift
}
