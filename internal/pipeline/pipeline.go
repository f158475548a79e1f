// Package pipeline fuses the Capture Source and Frame Normalizer into
// the single capture task described by spec.md §5 ("One capture task
// (A+B fused): never suspends except in the capture syscall and the
// explicit inter-frame sleep"), publishing each normalized frame to
// the Display Hub.
package pipeline

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jorgecis/kvmrs/internal/capture"
	"github.com/jorgecis/kvmrs/internal/hub"
	"github.com/jorgecis/kvmrs/internal/kvmerr"
	"github.com/jorgecis/kvmrs/internal/normalize"
)

// Run opens src and feeds it into the Normalizer and then the Hub in
// a tight loop until ctx is cancelled. Only a failure to open src is
// returned; a NextFrame error is logged and the loop asks for the next
// frame. A normalization failure is logged and skipped; capture
// sources are themselves responsible for retry and last-frame caching
// on transient device errors (spec.md §4.A).
func Run(ctx context.Context, src capture.Source, h *hub.Hub, log zerolog.Logger) error {
	if err := src.Open(ctx); err != nil {
		return err
	}
	defer src.Close()

	for {
		raw, err := src.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(kvmerr.New(kvmerr.KindCapture, err)).Msg("pipeline: capture source failed, continuing")
			continue
		}

		n, err := normalize.Normalize(raw)
		if err != nil {
			log.Warn().Err(err).Msg("pipeline: normalization failed, dropping frame")
			continue
		}

		h.Publish(n)
	}
}
