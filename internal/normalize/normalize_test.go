package normalize

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgecis/kvmrs/internal/frame"
)

// S5 from spec.md §8: Y=127, U=128, Y=127, V=128 -> 7F 7F 7F 7F 7F 7F.
func TestNormalizeYUYV_GrayInput(t *testing.T) {
	in := []byte{0x7F, 0x80, 0x7F, 0x80}
	out, err := Normalize(frame.Frame{Data: in, Layout: frame.LayoutYUYV})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7F, 0x7F, 0x7F, 0x7F, 0x7F, 0x7F}, out.Pix)
}

// Invariant 3: for all YUYV inputs of length 4k, the normalizer emits
// exactly 6k RGB bytes.
func TestNormalizeYUYV_LengthInvariant(t *testing.T) {
	k := 640 * 480 / 2 // yields a 640x480-equivalent byte count
	in := make([]byte, 4*k)
	out, err := Normalize(frame.Frame{Data: in, Layout: frame.LayoutYUYV})
	require.NoError(t, err)
	assert.Len(t, out.Pix, 6*k)
}

// Invariant 3 applies even when the byte length matches none of the
// candidate resolutions: the conversion still runs, only the
// Width/Height labeling falls back to zero.
func TestNormalizeYUYV_UnknownResolutionStillConverts(t *testing.T) {
	out, err := Normalize(frame.Frame{Data: make([]byte, 4*17), Layout: frame.LayoutYUYV})
	require.NoError(t, err)
	assert.Len(t, out.Pix, 6*17)
	assert.Equal(t, 0, out.Width)
	assert.Equal(t, 0, out.Height)
}

func TestNormalizeRGB24_PassThrough(t *testing.T) {
	in := make([]byte, 320*240*3)
	for i := range in {
		in[i] = byte(i)
	}
	out, err := Normalize(frame.Frame{Data: in, Layout: frame.LayoutRGB24})
	require.NoError(t, err)
	assert.Equal(t, 320, out.Width)
	assert.Equal(t, 240, out.Height)
	assert.Equal(t, in, out.Pix)

	// Mutating the source must not mutate the normalized copy.
	in[0] = 0xFF
	assert.NotEqual(t, in[0], out.Pix[0])
}

func TestNormalizeRawFB_BGRAtoRGB(t *testing.T) {
	// One 640x480 frame, all pixels (B=10, G=20, R=30, A=255).
	w, h := 640, 480
	in := make([]byte, w*h*4)
	for i := 0; i < len(in); i += 4 {
		in[i+0], in[i+1], in[i+2], in[i+3] = 10, 20, 30, 255
	}
	out, err := Normalize(frame.Frame{Data: in, Layout: frame.LayoutRawFB, BPP: 4})
	require.NoError(t, err)
	assert.Equal(t, w, out.Width)
	assert.Equal(t, h, out.Height)
	assert.Equal(t, byte(30), out.Pix[0]) // R
	assert.Equal(t, byte(20), out.Pix[1]) // G
	assert.Equal(t, byte(10), out.Pix[2]) // B
}

// Invariant 4: for all MJPEG inputs accepted by the normalizer, the
// emitted raster length equals width*height*3.
func TestNormalizeMJPEG_LengthInvariant(t *testing.T) {
	w, h := 64, 48
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: byte(x), G: byte(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := Normalize(frame.Frame{Data: buf.Bytes(), Layout: frame.LayoutMJPEG})
	require.NoError(t, err)
	assert.Equal(t, w, out.Width)
	assert.Equal(t, h, out.Height)
	assert.Len(t, out.Pix, w*h*3)
}

func TestNormalizeMJPEG_DetectedByMagicBytesRegardlessOfLayout(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := Normalize(frame.Frame{Data: buf.Bytes(), Layout: frame.LayoutRGB24})
	require.NoError(t, err)
	assert.Equal(t, 16, out.Width)
	assert.Equal(t, 16, out.Height)
}
