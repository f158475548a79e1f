//go:build !linux

package capture

import (
	"fmt"

	"github.com/rs/zerolog"
)

// openV4L2 is unavailable outside Linux; Select falls back to
// framebuffer or the mock source.
func openV4L2(path string, log zerolog.Logger) (Source, error) {
	return nil, fmt.Errorf("capture: v4l2 capture requires linux (device %s)", path)
}
