// Package normalize implements the Frame Normalizer (spec.md §4.B): a
// pure transform from a capture source's raw Frame into a canonical
// RGB24 frame.Normalized raster.
//
// Grounded on original_source/src/vnc.rs's convert_frame_to_rgb /
// convert_yuyv_to_rgb and on api/pkg/desktop/screenshot.go's use of
// the standard image/jpeg decoder.
package normalize

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/jorgecis/kvmrs/internal/frame"
)

// candidateDims is the set of resolutions the normalizer matches
// byte-length against for formats that don't self-describe their
// dimensions (YUYV, RGB24).
var candidateDims = []frame.Dimensions{
	{Width: 1920, Height: 1080},
	{Width: 1280, Height: 720},
	{Width: 640, Height: 480},
	{Width: 320, Height: 240},
}

// mjpegSOI is the two-byte JPEG start-of-image marker used to detect
// MJPEG frames regardless of their declared layout.
var mjpegSOI = []byte{0xFF, 0xD8}

// Normalize converts f into a canonical RGB24 Normalized frame.
func Normalize(f frame.Frame) (frame.Normalized, error) {
	if bytes.HasPrefix(f.Data, mjpegSOI) {
		return normalizeMJPEG(f.Data)
	}

	switch f.Layout {
	case frame.LayoutMJPEG:
		return normalizeMJPEG(f.Data)
	case frame.LayoutYUYV:
		return normalizeYUYV(f.Data)
	case frame.LayoutRGB24:
		return normalizeRGB24(f.Data)
	case frame.LayoutRawFB:
		return normalizeRawFB(f.Data, f.BPP)
	default:
		return frame.Normalized{}, fmt.Errorf("normalize: unsupported layout %v", f.Layout)
	}
}

func normalizeMJPEG(data []byte) (frame.Normalized, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return frame.Normalized{}, fmt.Errorf("normalize: decode mjpeg: %w", err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pix := make([]byte, w*h*3)

	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			pix[idx+0] = byte(r >> 8)
			pix[idx+1] = byte(g >> 8)
			pix[idx+2] = byte(bl >> 8)
			idx += 3
		}
	}
	return frame.Normalized{Width: w, Height: h, Pix: pix}, nil
}

// clip saturates a signed intermediate component to [0, 255].
func clip(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

func normalizeYUYV(data []byte) (frame.Normalized, error) {
	if len(data)%4 != 0 {
		return frame.Normalized{}, fmt.Errorf("normalize: yuyv length %d not a multiple of 4", len(data))
	}

	dims, _ := matchDims(len(data) / 2)

	pix := make([]byte, len(data)/4*6)
	out := 0
	for i := 0; i+3 < len(data); i += 4 {
		y0 := int32(data[i])
		u := int32(data[i+1]) - 128
		y1 := int32(data[i+2])
		v := int32(data[i+3]) - 128

		pix[out+0] = clip(y0 + (1402*v)/1000)
		pix[out+1] = clip(y0 - (344*u)/1000 - (714*v)/1000)
		pix[out+2] = clip(y0 + (1772*u)/1000)

		pix[out+3] = clip(y1 + (1402*v)/1000)
		pix[out+4] = clip(y1 - (344*u)/1000 - (714*v)/1000)
		pix[out+5] = clip(y1 + (1772*u)/1000)
		out += 6
	}

	return frame.Normalized{Width: dims.Width, Height: dims.Height, Pix: pix}, nil
}

func normalizeRGB24(data []byte) (frame.Normalized, error) {
	if len(data)%3 != 0 {
		return frame.Normalized{}, fmt.Errorf("normalize: rgb24 length %d not a multiple of 3", len(data))
	}
	dims, _ := matchDims(len(data) / 3)

	pix := make([]byte, len(data))
	copy(pix, data)
	return frame.Normalized{Width: dims.Width, Height: dims.Height, Pix: pix}, nil
}

func normalizeRawFB(data []byte, bpp int) (frame.Normalized, error) {
	if bpp != 4 {
		return frame.Normalized{}, fmt.Errorf("normalize: raw framebuffer bpp %d unsupported", bpp)
	}
	if len(data)%4 != 0 {
		return frame.Normalized{}, fmt.Errorf("normalize: raw framebuffer length %d not a multiple of 4", len(data))
	}

	dims, _ := matchDims(len(data) / 4)

	pix := make([]byte, len(data)/4*3)
	out := 0
	for i := 0; i+3 < len(data); i += 4 {
		// BGRA little-endian: B, G, R, A. Drop A, reorder to R,G,B.
		b, g, r := data[i], data[i+1], data[i+2]
		pix[out+0] = r
		pix[out+1] = g
		pix[out+2] = b
		out += 3
	}

	return frame.Normalized{Width: dims.Width, Height: dims.Height, Pix: pix}, nil
}

func matchDims(pixelCount int) (frame.Dimensions, bool) {
	for _, d := range candidateDims {
		if d.Width*d.Height == pixelCount {
			return d, true
		}
	}
	return frame.Dimensions{}, false
}
