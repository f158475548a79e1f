// Command kvmrsd is a minimal KVM-over-IP server: it exposes the host
// machine's video output over RFB/VNC and a browser WebSocket bridge,
// and injects keyboard/mouse input back into the host via USB HID
// gadget devices (spec.md §1).
package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kvmrsd",
		Short: "kvmrsd",
		Long:  "A minimal RFB/VNC KVM-over-IP server for a BMC.",
	}
	root.AddCommand(newServeCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("kvmrsd: fatal error")
	}
}
