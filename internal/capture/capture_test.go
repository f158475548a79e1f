package capture

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jorgecis/kvmrs/internal/frame"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard).Level(zerolog.Disabled)
}

// On a machine with no /dev/videoN or /dev/fbN device, Select must
// fall back to the deterministic mock rather than error (spec.md
// §4.A's selection policy final fallback).
func TestSelect_FallsBackToMockWhenNoDeviceExists(t *testing.T) {
	src := Select("/dev/video99-does-not-exist", false, testLogger())
	_, ok := src.(*MockSource)
	assert.True(t, ok, "expected mock source fallback, got %T", src)
}

func TestSelect_ForceFramebufferUsesConfiguredPath(t *testing.T) {
	src := Select("/dev/fb0", true, testLogger())
	fb, ok := src.(*FramebufferSource)
	require.True(t, ok)
	assert.Equal(t, "/dev/fb0", fb.path)
}

func TestMockSource_ProducesRGB24AtDeclaredSize(t *testing.T) {
	src := newMockSource(testLogger())
	require.NoError(t, src.Open(context.Background()))

	f, err := src.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frame.LayoutRGB24, f.Layout)
	assert.Len(t, f.Data, mockWidth*mockHeight*3)
}

func TestMockSource_IsDeterministicAcrossRuns(t *testing.T) {
	a := renderMockFrame(5)
	b := renderMockFrame(5)
	assert.Equal(t, a, b)

	c := renderMockFrame(6)
	assert.NotEqual(t, a, c)
}

func TestMockSource_CyclesColorEvery30Frames(t *testing.T) {
	red := renderMockFrame(0)
	stillRed := renderMockFrame(29)
	green := renderMockFrame(30)

	// Pixel (0,0): intensity = counter % 256, scaled by the base color.
	assert.NotEqual(t, red[0:3], green[0:3])
	assert.Equal(t, byte(0), red[1]) // green channel is 0 for the red phase
	assert.Equal(t, byte(0), stillRed[1])
}
