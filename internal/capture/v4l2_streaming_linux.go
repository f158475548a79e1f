//go:build linux

package capture

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/jorgecis/kvmrs/internal/frame"
)

// v4l2StreamingSource drives an mmap'd V4L2 capture queue (spec.md
// §4.A.1): negotiates MJPEG falling back to YUYV at 1920x1080, 4
// buffers. It sets no frame rate; the device's current rate applies.
// A dequeue error recreates the queue after a 100ms backoff and
// meanwhile republishes the last successful frame.
type v4l2StreamingSource struct {
	fd   int
	path string
	log  zerolog.Logger

	pixfmt  uint32
	width   uint32
	height  uint32
	buffers [][]byte

	lastFrame []byte
	layout    frame.Layout
}

func (s *v4l2StreamingSource) Open(ctx context.Context) error {
	pixfmt, width, height, _, err := negotiateFormat(s.fd)
	if err != nil {
		unix.Close(s.fd)
		return fmt.Errorf("capture: negotiate format on %s: %w", s.path, err)
	}
	s.pixfmt, s.width, s.height = pixfmt, width, height
	s.layout = frame.LayoutYUYV
	if pixfmt == v4l2PixFmtMJPEG {
		s.layout = frame.LayoutMJPEG
	}

	if err := s.setupQueue(); err != nil {
		unix.Close(s.fd)
		return err
	}

	s.log.Info().Str("path", s.path).Uint32("width", width).Uint32("height", height).
		Bool("mjpeg", s.layout == frame.LayoutMJPEG).Msg("capture: v4l2 streaming started")
	return nil
}

func (s *v4l2StreamingSource) setupQueue() error {
	count, err := requestMmapBuffers(s.fd, v4l2StreamBuffers)
	if err != nil {
		return fmt.Errorf("capture: request buffers: %w", err)
	}

	buffers := make([][]byte, count)
	for i := uint32(0); i < count; i++ {
		data, err := mmapBuffer(s.fd, i)
		if err != nil {
			return fmt.Errorf("capture: mmap buffer %d: %w", i, err)
		}
		buffers[i] = data
		if err := queueBuffer(s.fd, i); err != nil {
			return fmt.Errorf("capture: queue buffer %d: %w", i, err)
		}
	}
	s.buffers = buffers

	return streamOn(s.fd)
}

func (s *v4l2StreamingSource) teardownQueue() {
	_ = streamOff(s.fd)
	for _, b := range s.buffers {
		_ = unix.Munmap(b)
	}
	s.buffers = nil
}

// NextFrame blocks until a buffer is dequeued. On error it recreates
// the capture queue after a 100ms backoff and, if a previous frame
// exists, returns it so the Display Hub can republish a frozen image
// rather than disconnect clients.
func (s *v4l2StreamingSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	index, bytesUsed, err := dequeueBuffer(s.fd)
	if err != nil {
		s.log.Warn().Err(err).Msg("capture: v4l2 dequeue failed, recreating stream")
		s.teardownQueue()

		if err := sleepCtx(ctx, v4l2StreamRetry); err != nil {
			return frame.Frame{}, err
		}
		if setupErr := s.setupQueue(); setupErr != nil {
			s.log.Warn().Err(setupErr).Msg("capture: failed to recreate v4l2 stream")
		}

		if s.lastFrame != nil {
			return frame.Frame{Data: s.lastFrame, Layout: s.layout}, nil
		}
		return frame.Frame{}, fmt.Errorf("capture: v4l2 stream lost with no cached frame: %w", err)
	}

	data := make([]byte, bytesUsed)
	copy(data, s.buffers[index][:bytesUsed])

	if err := queueBuffer(s.fd, index); err != nil {
		s.log.Warn().Err(err).Msg("capture: requeue buffer failed")
	}

	s.lastFrame = data
	return frame.Frame{Data: data, Layout: s.layout}, nil
}

func (s *v4l2StreamingSource) Close() error {
	s.teardownQueue()
	return unix.Close(s.fd)
}
