package hid

// KeyReport translates an RFB KeyEvent into an 8-byte HID keyboard
// report: [mods=0, reserved=0, usage, 0, 0, 0, 0, 0] on key-down, or
// all-zeros on key-up. ok is false for an unmapped keysym, matching
// spec.md §4.E's "unknown keysyms return no report".
func KeyReport(keysym uint32, down bool) (report [8]byte, ok bool) {
	usage, known := keysymToHIDUsage(keysym)
	if !known {
		return report, false
	}
	if down {
		report[2] = usage
	}
	return report, true
}

// PointerState tracks the last observed absolute pointer position for
// a single RFB session, so PointerReport can compute deltas. Owned by
// the session per spec.md §3, not shared across sessions. The zero
// value is a session that just connected, with its position at (0,0).
type PointerState struct {
	x, y int32
}

func clampDelta(d int32) int8 {
	if d > 127 {
		return 127
	}
	if d < -127 {
		return -127
	}
	return int8(d)
}

// PointerReport translates an RFB PointerEvent into a 4-byte HID
// mouse report: [buttons & 0x07, dx, dy, wheel=0]. dx/dy are the
// signed difference from the session's last observed (x, y), clamped
// to [-127, 127]; the session's recorded position then advances by
// the (possibly clamped) delta, per spec.md invariant 5.
func PointerReport(state *PointerState, buttonMask byte, x, y int32) [4]byte {
	dx := clampDelta(x - state.x)
	dy := clampDelta(y - state.y)
	state.x += int32(dx)
	state.y += int32(dy)

	return [4]byte{buttonMask & 0x07, byte(dx), byte(dy), 0}
}

// Translator owns the gadget file handles and serializes reports
// across all sessions (spec.md §3: "exclusively owns the two gadget
// file handles, serializing writes across all Sessions").
type Translator struct {
	Keyboard *Gadget
	Mouse    *Gadget
}

// SendKey writes the HID report for an RFB KeyEvent, if the keysym is
// mapped. A gadget write failure is the caller's to log and discard
// per spec.md §7's HidError policy.
func (t *Translator) SendKey(keysym uint32, down bool) error {
	report, ok := KeyReport(keysym, down)
	if !ok {
		return nil
	}
	return t.Keyboard.Write(report[:])
}

// SendPointer writes the HID report for an RFB PointerEvent, updating
// state with the new absolute position.
func (t *Translator) SendPointer(state *PointerState, buttonMask byte, x, y int32) error {
	report := PointerReport(state, buttonMask, x, y)
	return t.Mouse.Write(report[:])
}
