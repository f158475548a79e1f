package capture

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jorgecis/kvmrs/internal/frame"
)

const (
	mockWidth    = 640
	mockHeight   = 480
	mockInterval = 33 * time.Millisecond
)

// mockColors cycles red, green, blue every 30 frames, matching
// original_source/src/display.rs's spawn_mock_capture test pattern.
var mockColors = [3][3]byte{
	{255, 0, 0},
	{0, 255, 0},
	{0, 0, 255},
}

// MockSource produces a deterministic 640x480 RGB24 color-cycling test
// pattern, used when no real capture device is available (spec.md
// §4.A) so downstream components remain testable.
type MockSource struct {
	log     zerolog.Logger
	counter uint32
}

func newMockSource(log zerolog.Logger) *MockSource {
	return &MockSource{log: log}
}

// Open is a no-op: the mock source has no device to acquire.
func (s *MockSource) Open(ctx context.Context) error {
	s.log.Info().Msg("capture: using mock pattern source")
	return nil
}

// NextFrame renders one frame of the color-cycling pattern, then
// waits out the inter-frame interval.
func (s *MockSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	data := renderMockFrame(s.counter)
	s.counter++

	if err := sleepCtx(ctx, mockInterval); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{Data: data, Layout: frame.LayoutRGB24, BPP: 3}, nil
}

// Close is a no-op.
func (s *MockSource) Close() error { return nil }

func renderMockFrame(counter uint32) []byte {
	color := mockColors[(counter/30)%3]
	data := make([]byte, 0, mockWidth*mockHeight*3)

	for y := 0; y < mockHeight; y++ {
		for x := 0; x < mockWidth; x++ {
			intensity := uint16((uint32(x) + uint32(y) + counter) % 256)
			data = append(data,
				byte(uint16(color[0])*intensity/255),
				byte(uint16(color[1])*intensity/255),
				byte(uint16(color[2])*intensity/255),
			)
		}
	}
	return data
}
