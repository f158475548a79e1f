// Package frame defines the data types shared across the capture,
// normalization and fan-out stages of the pipeline (spec.md §3).
package frame

// Layout tags the pixel encoding of a raw Frame exactly as produced by
// a capture source, before normalization.
type Layout int

const (
	// LayoutMJPEG is variable-length, self-describing motion JPEG.
	LayoutMJPEG Layout = iota
	// LayoutYUYV is 4:2:2 packed luma/chroma, 2 bytes per pixel.
	LayoutYUYV
	// LayoutRGB24 is 3 bytes per pixel, R,G,B order, no padding.
	LayoutRGB24
	// LayoutRawFB is BGRA framebuffer memory; BPP carries the declared
	// bytes-per-pixel (spec.md only defines bpp=4).
	LayoutRawFB
)

func (l Layout) String() string {
	switch l {
	case LayoutMJPEG:
		return "MJPEG"
	case LayoutYUYV:
		return "YUYV"
	case LayoutRGB24:
		return "RGB24"
	case LayoutRawFB:
		return "RAW_FB"
	default:
		return "unknown"
	}
}

// Frame is an opaque byte sequence plus its declared pixel layout.
// Width*height*bytes-per-pixel equals len(Data), except for MJPEG,
// which is variable-length and self-describing.
type Frame struct {
	Data   []byte
	Layout Layout
	BPP    int // meaningful only when Layout == LayoutRawFB
}

// Normalized is a canonical RGB24 raster: width*height*3 bytes in
// R,G,B order. Once constructed, a Normalized value is never mutated —
// producers always allocate a fresh Pix slice.
type Normalized struct {
	Width, Height int
	Pix           []byte
}

// Dimensions is the (width, height) pair the Display Hub publishes
// whenever a Normalized frame's size changes.
type Dimensions struct {
	Width, Height int
}
