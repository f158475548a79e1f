package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/jorgecis/kvmrs/internal/frame"
	"github.com/jorgecis/kvmrs/internal/hub"
)

type fakeSource struct {
	frames []frame.Frame
	i      int
}

func (s *fakeSource) Open(ctx context.Context) error { return nil }

func (s *fakeSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	if s.i >= len(s.frames) {
		<-ctx.Done()
		return frame.Frame{}, ctx.Err()
	}
	f := s.frames[s.i]
	s.i++
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

func TestRun_PublishesNormalizedFramesToHub(t *testing.T) {
	src := &fakeSource{frames: []frame.Frame{
		{Data: make([]byte, 640*480*3), Layout: frame.LayoutRGB24},
	}}
	h := hub.New()
	sub := h.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go Run(ctx, src, h, zerolog.New(io.Discard))

	select {
	case f := <-sub.Frames():
		assert.Equal(t, 640, f.Width)
		assert.Equal(t, 480, f.Height)
	case <-ctx.Done():
		t.Fatal("timed out waiting for published frame")
	}
}
