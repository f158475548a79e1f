// Package sysbus implements the optional startup probe against the
// system message bus (spec.md §6: "session verification for the
// BMC's management API"). Failure is non-fatal on non-Linux and fatal
// on Linux (spec.md §7's FatalError).
//
// Grounded on api/pkg/desktop/session.go's connectDBus, adapted from
// its 60-attempt session-bus retry loop to a single system-bus probe:
// spec.md treats this check as a fast fail-fast gate, not a service
// the process waits to come up.
package sysbus

import (
	"runtime"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// Probe attempts a single connection to the system message bus. On
// Linux a failure is returned as a fatal error for the caller to
// surface and exit on; on any other OS it is logged and swallowed.
func Probe(log zerolog.Logger) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		if runtime.GOOS == "linux" {
			return err
		}
		log.Warn().Err(err).Str("os", runtime.GOOS).Msg("sysbus: system bus unavailable, continuing (non-Linux)")
		return nil
	}
	defer conn.Close()

	log.Info().Msg("sysbus: system bus session verified")
	return nil
}
