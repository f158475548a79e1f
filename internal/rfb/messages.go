package rfb

import "io"

// SetPixelFormatMsg is client message type 0.
type SetPixelFormatMsg struct {
	Format PixelFormat
}

// SetEncodingsMsg is client message type 2.
type SetEncodingsMsg struct {
	Encodings []int32
}

// FramebufferUpdateRequestMsg is client message type 3.
type FramebufferUpdateRequestMsg struct {
	Incremental bool
	X, Y, W, H  uint16
}

// KeyEventMsg is client message type 4.
type KeyEventMsg struct {
	Down   bool
	Keysym uint32
}

// PointerEventMsg is client message type 5.
type PointerEventMsg struct {
	ButtonMask byte
	X, Y       uint16
}

// ClientCutTextMsg is client message type 6. The text is decoded but
// unused: spec.md lists clipboard sync as a Non-goal, so the session
// reads and discards it to keep the wire in sync.
type ClientCutTextMsg struct {
	Text []byte
}

// UnknownMsg is any message type outside the dispatch table
// (spec.md §4.D: unknown types are logged and ignored, not fatal).
type UnknownMsg struct {
	Type byte
}

// readClientMessage reads and decodes one client-to-server message.
// The returned value is one of the *Msg types above.
func readClientMessage(r io.Reader) (interface{}, error) {
	var typeByte [1]byte
	if err := readExact(r, typeByte[:]); err != nil {
		return nil, err
	}

	switch typeByte[0] {
	case msgSetPixelFormat:
		return readSetPixelFormat(r)
	case msgSetEncodings:
		return readSetEncodings(r)
	case msgFramebufferUpdateRequest:
		return readFramebufferUpdateRequest(r)
	case msgKeyEvent:
		return readKeyEvent(r)
	case msgPointerEvent:
		return readPointerEvent(r)
	case msgClientCutText:
		return readClientCutText(r)
	default:
		return UnknownMsg{Type: typeByte[0]}, nil
	}
}

// readSetPixelFormat reads the 19 bytes following the type byte: 3
// bytes padding, 16 bytes pixel format.
func readSetPixelFormat(r io.Reader) (SetPixelFormatMsg, error) {
	var body [19]byte
	if err := readExact(r, body[:]); err != nil {
		return SetPixelFormatMsg{}, err
	}
	return SetPixelFormatMsg{Format: decodePixelFormat(body[3:19])}, nil
}

// readSetEncodings reads 1 byte padding, a big-endian u16 count, then
// count big-endian i32 encoding identifiers.
func readSetEncodings(r io.Reader) (SetEncodingsMsg, error) {
	var head [3]byte
	if err := readExact(r, head[:]); err != nil {
		return SetEncodingsMsg{}, err
	}
	count := int(head[1])<<8 | int(head[2])

	encodings := make([]int32, count)
	var enc [4]byte
	for i := 0; i < count; i++ {
		if err := readExact(r, enc[:]); err != nil {
			return SetEncodingsMsg{}, err
		}
		encodings[i] = int32(uint32(enc[0])<<24 | uint32(enc[1])<<16 | uint32(enc[2])<<8 | uint32(enc[3]))
	}
	return SetEncodingsMsg{Encodings: encodings}, nil
}

// readFramebufferUpdateRequest reads the 9 bytes following the type
// byte: incremental flag, x, y, w, h.
func readFramebufferUpdateRequest(r io.Reader) (FramebufferUpdateRequestMsg, error) {
	var body [9]byte
	if err := readExact(r, body[:]); err != nil {
		return FramebufferUpdateRequestMsg{}, err
	}
	return FramebufferUpdateRequestMsg{
		Incremental: body[0] != 0,
		X:           u16(body[1], body[2]),
		Y:           u16(body[3], body[4]),
		W:           u16(body[5], body[6]),
		H:           u16(body[7], body[8]),
	}, nil
}

// readKeyEvent reads the 7 bytes following the type byte: down flag,
// 2 bytes padding, 4-byte keysym.
func readKeyEvent(r io.Reader) (KeyEventMsg, error) {
	var body [7]byte
	if err := readExact(r, body[:]); err != nil {
		return KeyEventMsg{}, err
	}
	keysym := uint32(body[3])<<24 | uint32(body[4])<<16 | uint32(body[5])<<8 | uint32(body[6])
	return KeyEventMsg{Down: body[0] != 0, Keysym: keysym}, nil
}

// readPointerEvent reads the 5 bytes following the type byte:
// button mask, x, y.
func readPointerEvent(r io.Reader) (PointerEventMsg, error) {
	var body [5]byte
	if err := readExact(r, body[:]); err != nil {
		return PointerEventMsg{}, err
	}
	return PointerEventMsg{
		ButtonMask: body[0],
		X:          u16(body[1], body[2]),
		Y:          u16(body[3], body[4]),
	}, nil
}

// readClientCutText reads the 7-byte header (3 bytes padding, 4-byte
// length) then length bytes of text.
func readClientCutText(r io.Reader) (ClientCutTextMsg, error) {
	var head [7]byte
	if err := readExact(r, head[:]); err != nil {
		return ClientCutTextMsg{}, err
	}
	length := uint32(head[3])<<24 | uint32(head[4])<<16 | uint32(head[5])<<8 | uint32(head[6])

	text := make([]byte, length)
	if err := readExact(r, text); err != nil {
		return ClientCutTextMsg{}, err
	}
	return ClientCutTextMsg{Text: text}, nil
}

func u16(hi, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}
