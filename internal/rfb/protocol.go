// Package rfb implements the server side of the RFB 3.8 protocol
// (spec.md §4.D): version/security handshake, ClientInit/ServerInit,
// the client-message dispatch table, and FramebufferUpdate emission.
//
// Grounded on original_source/src/vnc.rs's VncHandler (handshake byte
// sequences, create_server_init, process_vnc_message) and on the
// session-state-machine shape of api/pkg/desktop/session.go (a
// table-driven connect/negotiate/serve flow over a D-Bus session
// rather than a socket, adapted here to RFC 6143's wire bytes).
package rfb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Client message type bytes (spec.md §4.D dispatch table).
const (
	msgSetPixelFormat           byte = 0
	msgSetEncodings             byte = 2
	msgFramebufferUpdateRequest byte = 3
	msgKeyEvent                 byte = 4
	msgPointerEvent             byte = 5
	msgClientCutText            byte = 6
)

// Security types (RFC 6143 §7.2).
const (
	securityNone byte = 1
	securityTLS  byte = 18
)

// protocolVersion is the version string this server advertises and
// the only one it speaks (RFB 3.8). Clients announcing 3.3 or 3.7 are
// still accepted per spec.md's table, since the wire bytes they send
// back at VersionExchange are identical in length.
var protocolVersion = []byte("RFB 003.008\n")

// acceptedClientVersions are the version digit sequences (bytes 4..11
// of the 12-byte version string, e.g. "003.008") spec.md's
// VersionExchange state table accepts: 3.3, 3.7 and 3.8.
var acceptedClientVersions = [][]byte{
	[]byte("003.003"),
	[]byte("003.007"),
	[]byte("003.008"),
}

// isAcceptedClientVersion reports whether the 12-byte client version
// string's embedded digits are one of the versions spec.md's
// VersionExchange table accepts.
func isAcceptedClientVersion(client []byte) bool {
	if len(client) != 12 {
		return false
	}
	for _, v := range acceptedClientVersions {
		if string(client[4:11]) == string(v) {
			return true
		}
	}
	return false
}

// DesktopName is the fixed ServerInit desktop name (spec.md §6).
const DesktopName = "KVM-RS"

// PixelFormat is the RFB wire pixel format tuple (spec.md §6, 16
// bytes). Sessions store the client's declared format from
// SetPixelFormat but the server always emits CanonicalPixelFormat
// (spec.md §9's open question on transcoding, resolved by documenting
// the limitation rather than implementing per-client transcoding).
type PixelFormat struct {
	BPP           byte
	Depth         byte
	BigEndianFlag byte
	TrueColorFlag byte
	RedMax        uint16
	GreenMax      uint16
	BlueMax       uint16
	RedShift      byte
	GreenShift    byte
	BlueShift     byte
}

// CanonicalPixelFormat is the only pixel format this server emits:
// 24bpp, depth 24, little-endian, true color, 255 max per channel,
// R=16 G=8 B=0 shifts, 3 bytes per pixel.
var CanonicalPixelFormat = PixelFormat{
	BPP: 24, Depth: 24, BigEndianFlag: 0, TrueColorFlag: 1,
	RedMax: 255, GreenMax: 255, BlueMax: 255,
	RedShift: 16, GreenShift: 8, BlueShift: 0,
}

func (pf PixelFormat) encode() [16]byte {
	var b [16]byte
	b[0] = pf.BPP
	b[1] = pf.Depth
	b[2] = pf.BigEndianFlag
	b[3] = pf.TrueColorFlag
	binary.BigEndian.PutUint16(b[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(b[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(b[8:10], pf.BlueMax)
	b[10] = pf.RedShift
	b[11] = pf.GreenShift
	b[12] = pf.BlueShift
	// b[13:16] padding, left zero.
	return b
}

func decodePixelFormat(b []byte) PixelFormat {
	return PixelFormat{
		BPP:           b[0],
		Depth:         b[1],
		BigEndianFlag: b[2],
		TrueColorFlag: b[3],
		RedMax:        binary.BigEndian.Uint16(b[4:6]),
		GreenMax:      binary.BigEndian.Uint16(b[6:8]),
		BlueMax:       binary.BigEndian.Uint16(b[8:10]),
		RedShift:      b[10],
		GreenShift:    b[11],
		BlueShift:     b[12],
	}
}

// encodeServerInit builds the ServerInit message (spec.md §6):
// width_u16 | height_u16 | pixel_format(16) | name_length_u32 | name.
func encodeServerInit(width, height int) []byte {
	pf := CanonicalPixelFormat.encode()
	name := []byte(DesktopName)

	out := make([]byte, 0, 4+16+4+len(name))
	out = appendU16(out, uint16(width))
	out = appendU16(out, uint16(height))
	out = append(out, pf[:]...)
	out = appendU32(out, uint32(len(name)))
	out = append(out, name...)
	return out
}

// encodeFramebufferUpdate builds a FramebufferUpdate message carrying
// one Raw-encoded rectangle covering the full (width, height) frame,
// per spec.md §4.D: [0, 0, nRects_be16] then
// [x,y,w,h,encoding_be32,pixels] per rectangle.
func encodeFramebufferUpdate(width, height int, pix []byte) []byte {
	header := make([]byte, 0, 4+12)
	header = append(header, 0, 0) // message type 0, padding
	header = appendU16(header, 1) // one rectangle

	header = appendU16(header, 0) // x
	header = appendU16(header, 0) // y
	header = appendU16(header, uint16(width))
	header = appendU16(header, uint16(height))
	header = appendU32(header, 0) // encoding: Raw

	out := make([]byte, 0, len(header)+len(pix))
	out = append(out, header...)
	out = append(out, pix...)
	return out
}

func appendU16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// readExact reads exactly len(buf) bytes, wrapping a short read into
// a ProtocolError per spec.md §7.
func readExact(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("rfb: short read (%d bytes): %w", len(buf), err)
	}
	return nil
}
