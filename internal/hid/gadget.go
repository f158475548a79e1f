// Package hid implements the HID Translator (spec.md §4.E): mapping
// RFB KeyEvent/PointerEvent messages into fixed-width HID gadget
// reports, and writing them atomically to the gadget character
// devices.
//
// Grounded on original_source/src/hid.rs's HidManager
// (open/write_all/flush, length validation) and on
// api/pkg/desktop/uinput.go's VirtualInput (single long-lived handle,
// mutex-serialized writes, fmt.Errorf wrapping) — this implementation
// follows uinput.go's long-lived-handle style rather than hid.rs's
// open-per-write style, since holding the device open for the
// process lifetime avoids a syscall per keystroke.
package hid

import (
	"fmt"
	"os"
	"sync"

	"github.com/jorgecis/kvmrs/internal/kvmerr"
)

// Gadget serializes writes of fixed-width HID reports to a single USB
// HID gadget character device. Exactly one outstanding write at a
// time (spec.md §5's "implicit per-device mutex").
type Gadget struct {
	mu     sync.Mutex
	file   *os.File
	minLen int
}

// OpenGadget opens the gadget character device at path for writing.
// minLen is the minimum report size this device accepts (8 for
// keyboard, 4 for mouse per spec.md §3).
func OpenGadget(path string, minLen int) (*Gadget, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("hid: open gadget %s: %w", path, err)
	}
	return &Gadget{file: f, minLen: minLen}, nil
}

// Write sends report as a single atomic write. A report shorter than
// the gadget's minimum length is rejected without touching the
// device.
func (g *Gadget) Write(report []byte) error {
	if len(report) < g.minLen {
		return kvmerr.New(kvmerr.KindHID, fmt.Errorf("hid: report of %d bytes shorter than minimum %d", len(report), g.minLen))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.file.Write(report)
	if err != nil {
		return kvmerr.New(kvmerr.KindHID, fmt.Errorf("hid: write gadget: %w", err))
	}
	if n != len(report) {
		return kvmerr.New(kvmerr.KindHID, fmt.Errorf("hid: partial write of %d/%d bytes", n, len(report)))
	}
	return nil
}

// Close releases the gadget's file handle.
func (g *Gadget) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.file.Close()
}
