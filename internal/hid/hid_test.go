package hid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// S3: KeyDown 'A' (0x41) -> 00 00 04 00 00 00 00 00; KeyUp -> all zero.
func TestKeyReport_LetterA(t *testing.T) {
	down, ok := KeyReport(0x41, true)
	assert.True(t, ok)
	assert.Equal(t, [8]byte{0, 0, 0x04, 0, 0, 0, 0, 0}, down)

	up, ok := KeyReport(0x41, false)
	assert.True(t, ok)
	assert.Equal(t, [8]byte{}, up)
}

func TestKeyReport_DigitsCorrectedMapping(t *testing.T) {
	cases := map[uint32]byte{
		'0': 0x27,
		'1': 0x1E,
		'2': 0x1F,
		'9': 0x26,
	}
	for keysym, want := range cases {
		report, ok := KeyReport(keysym, true)
		assert.True(t, ok)
		assert.Equal(t, want, report[2], "keysym %x", keysym)
	}
}

func TestKeyReport_NamedKeys(t *testing.T) {
	cases := map[uint32]byte{
		0xFF08: 0x2A,
		0xFF09: 0x2B,
		0xFF0D: 0x28,
		0xFF1B: 0x29,
		0xFF50: 0x4A,
		0xFF51: 0x50,
		0xFF52: 0x52,
		0xFF53: 0x4F,
		0xFF54: 0x51,
		0x0020: 0x2C,
	}
	for keysym, want := range cases {
		report, ok := KeyReport(keysym, true)
		assert.True(t, ok)
		assert.Equal(t, want, report[2])
	}
}

func TestKeyReport_UnknownKeysymReturnsNoReport(t *testing.T) {
	_, ok := KeyReport(0xDEADBEEF, true)
	assert.False(t, ok)
}

// Invariant 6: down report has exactly one non-zero usage slot; the
// paired up report is all-zeros.
func TestKeyReport_SingleUsageSlotInvariant(t *testing.T) {
	report, ok := KeyReport('Z', true)
	assert.True(t, ok)
	nonZero := 0
	for _, b := range report[2:] {
		if b != 0 {
			nonZero++
		}
	}
	assert.Equal(t, 1, nonZero)
}

// S4: initial pointer (0,0); button=left x=10,y=5 -> 01 0A 05 00; then
// x=12,y=5 -> 01 02 00 00.
func TestPointerReport_DeltaFromOrigin(t *testing.T) {
	var state PointerState

	r1 := PointerReport(&state, 0x01, 10, 5)
	assert.Equal(t, [4]byte{0x01, 0x0A, 0x05, 0x00}, r1)

	r2 := PointerReport(&state, 0x01, 12, 5)
	assert.Equal(t, [4]byte{0x01, 0x02, 0x00, 0x00}, r2)
}

// Invariant 5: dx/dy clamp to [-127, 127] and tracked position
// advances by the clamped delta, not the raw jump.
func TestPointerReport_ClampsLargeJumps(t *testing.T) {
	var state PointerState

	r := PointerReport(&state, 0, 1000, -1000)
	assert.Equal(t, int8(127), int8(r[1]))
	assert.Equal(t, int8(-127), int8(r[2]))
	assert.Equal(t, int32(127), state.x)
	assert.Equal(t, int32(-127), state.y)
}

func TestPointerReport_ButtonMaskTruncatedToThreeBits(t *testing.T) {
	var state PointerState
	r := PointerReport(&state, 0xFF, 0, 0)
	assert.Equal(t, byte(0x07), r[0])
}
