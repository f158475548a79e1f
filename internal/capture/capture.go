// Package capture implements the Capture Source (spec.md §4.A): a
// polymorphic producer of raw, pixel-format-tagged frames, selected at
// startup among V4L2 streaming, V4L2 snapshot, framebuffer, and a
// deterministic mock, per spec.md's selection policy.
//
// Grounded on original_source/src/display.rs's DisplayHub::spawn /
// detect_capture_mode (selection policy, retry timings, sysfs probing,
// mock pattern) and on thinkski-frameserver/main.go and
// svanichkin-gocam/capture_linux.go for the V4L2 ioctl/mmap shape.
package capture

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jorgecis/kvmrs/internal/frame"
)

// Source is the two-method capability every capture variant
// implements (spec.md §9: "tagged variant behind a two-method
// capability {open, next_frame}. No inheritance.").
type Source interface {
	Open(ctx context.Context) error
	NextFrame(ctx context.Context) (frame.Frame, error)
	Close() error
}

// Select implements spec.md §4.A's selection policy: an explicit
// framebuffer override wins outright; otherwise a /dev/videoN path
// that opens is used as V4L2; failing that, the first existing
// /dev/fbN; failing that, a deterministic mock so the rest of the
// pipeline stays testable without hardware.
func Select(videoPath string, forceFramebuffer bool, log zerolog.Logger) Source {
	if forceFramebuffer {
		log.Info().Str("path", videoPath).Msg("capture: forced framebuffer mode")
		return newFramebufferSource(videoPath, log)
	}

	if strings.HasPrefix(videoPath, "/dev/video") {
		if _, err := os.Stat(videoPath); err == nil {
			src, err := openV4L2(videoPath, log)
			if err == nil {
				return src
			}
			log.Warn().Err(err).Str("path", videoPath).Msg("capture: v4l2 device present but unusable, falling back")
		}
	}

	if fb, ok := firstExistingFramebuffer(); ok {
		log.Info().Str("path", fb).Msg("capture: falling back to framebuffer")
		return newFramebufferSource(fb, log)
	}

	log.Warn().Msg("capture: no video device available, using mock pattern")
	return newMockSource(log)
}

func firstExistingFramebuffer() (string, bool) {
	for i := 0; i < 8; i++ {
		p := fmt.Sprintf("/dev/fb%d", i)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
