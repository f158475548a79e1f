package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jorgecis/kvmrs/internal/frame"
)

const (
	fbDefaultWidth  = 1920
	fbDefaultHeight = 1080
	fbDefaultBPP    = 4
	fbCadence       = 33 * time.Millisecond
	fbReopenBackoff = time.Second
)

// FramebufferSource reads raw pixel bytes from a Linux framebuffer
// character device at a fixed cadence (spec.md §4.A.3). Dimensions
// and bytes-per-pixel come from sysfs; probing failure falls back to
// 1920x1080x4.
type FramebufferSource struct {
	path   string
	log    zerolog.Logger
	file   *os.File
	width  int
	height int
	bpp    int
}

func newFramebufferSource(path string, log zerolog.Logger) *FramebufferSource {
	return &FramebufferSource{path: path, log: log}
}

// Open probes sysfs for geometry and opens the device file.
func (s *FramebufferSource) Open(ctx context.Context) error {
	w, h, bpp, err := probeFramebufferInfo(s.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("framebuffer: sysfs probe failed, using defaults")
		w, h, bpp = fbDefaultWidth, fbDefaultHeight, fbDefaultBPP
	}
	s.width, s.height, s.bpp = w, h, bpp

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("capture: open framebuffer %s: %w", s.path, err)
	}
	s.file = f
	return nil
}

// NextFrame reads exactly width*height*bpp bytes, reopening the
// device with a 1s backoff on failure (spec.md §4.A).
func (s *FramebufferSource) NextFrame(ctx context.Context) (frame.Frame, error) {
	buf := make([]byte, s.width*s.height*s.bpp)

	for {
		_, err := readFull(s.file, buf)
		if err == nil {
			if err := sleepCtx(ctx, fbCadence); err != nil {
				return frame.Frame{}, err
			}
			return frame.Frame{Data: buf, Layout: frame.LayoutRawFB, BPP: s.bpp}, nil
		}

		s.log.Warn().Err(err).Msg("framebuffer: read failed, reopening")
		_ = s.file.Close()

		if err := sleepCtx(ctx, fbReopenBackoff); err != nil {
			return frame.Frame{}, err
		}

		f, openErr := os.Open(s.path)
		if openErr != nil {
			s.log.Warn().Err(openErr).Msg("framebuffer: reopen failed")
			continue
		}
		s.file = f
	}
}

// Close releases the device file.
func (s *FramebufferSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// probeFramebufferInfo reads /sys/class/graphics/<name>/virtual_size
// and bits_per_pixel for the device at path (spec.md §6).
func probeFramebufferInfo(path string) (width, height, bpp int, err error) {
	name := strings.TrimPrefix(path, "/dev/")
	sizePath := filepath.Join("/sys/class/graphics", name, "virtual_size")
	bppPath := filepath.Join("/sys/class/graphics", name, "bits_per_pixel")

	sizeRaw, err := os.ReadFile(sizePath)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read %s: %w", sizePath, err)
	}
	bppRaw, err := os.ReadFile(bppPath)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("read %s: %w", bppPath, err)
	}

	parts := strings.Split(strings.TrimSpace(string(sizeRaw)), ",")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("malformed virtual_size %q", sizeRaw)
	}
	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse width: %w", err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse height: %w", err)
	}
	bitsPerPixel, err := strconv.Atoi(strings.TrimSpace(string(bppRaw)))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse bits_per_pixel: %w", err)
	}

	return w, h, (bitsPerPixel + 7) / 8, nil
}
