//go:build linux

package capture

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/jorgecis/kvmrs/internal/frame"
)

// v4l2SnapshotSource grabs one frame per call by creating a
// single-buffer stream, dequeuing once, and tearing the stream down
// (spec.md §4.A.2), at no more than 2 Hz.
type v4l2SnapshotSource struct {
	fd     int
	path   string
	log    zerolog.Logger
	layout frame.Layout
}

func (s *v4l2SnapshotSource) Open(ctx context.Context) error {
	pixfmt, _, _, _, err := negotiateFormat(s.fd)
	if err != nil {
		unix.Close(s.fd)
		return fmt.Errorf("capture: negotiate format on %s: %w", s.path, err)
	}
	s.layout = frame.LayoutYUYV
	if pixfmt == v4l2PixFmtMJPEG {
		s.layout = frame.LayoutMJPEG
	}
	s.log.Info().Str("path", s.path).Msg("capture: v4l2 snapshot source ready")
	return nil
}

func (s *v4l2SnapshotSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	data, err := s.grabOne()
	if err != nil {
		s.log.Warn().Err(err).Msg("capture: v4l2 snapshot grab failed")
		if sleepErr := sleepCtx(ctx, v4l2SnapshotPeriod); sleepErr != nil {
			return frame.Frame{}, sleepErr
		}
		return frame.Frame{}, err
	}

	if sleepErr := sleepCtx(ctx, v4l2SnapshotPeriod); sleepErr != nil {
		return frame.Frame{}, sleepErr
	}
	return frame.Frame{Data: data, Layout: s.layout}, nil
}

func (s *v4l2SnapshotSource) grabOne() ([]byte, error) {
	if _, err := requestMmapBuffers(s.fd, 1); err != nil {
		return nil, fmt.Errorf("capture: snapshot request buffer: %w", err)
	}

	buf, err := mmapBuffer(s.fd, 0)
	if err != nil {
		return nil, fmt.Errorf("capture: snapshot mmap: %w", err)
	}
	defer unix.Munmap(buf)

	if err := queueBuffer(s.fd, 0); err != nil {
		return nil, fmt.Errorf("capture: snapshot queue: %w", err)
	}
	if err := streamOn(s.fd); err != nil {
		return nil, fmt.Errorf("capture: snapshot stream on: %w", err)
	}
	defer streamOff(s.fd)

	_, bytesUsed, err := dequeueBuffer(s.fd)
	if err != nil {
		return nil, fmt.Errorf("capture: snapshot dequeue: %w", err)
	}

	data := make([]byte, bytesUsed)
	copy(data, buf[:bytesUsed])
	return data, nil
}

func (s *v4l2SnapshotSource) Close() error {
	return unix.Close(s.fd)
}
