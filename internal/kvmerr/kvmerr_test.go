package kvmerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_ReturnsNilForNilErr(t *testing.T) {
	assert.Nil(t, New(KindCapture, nil))
}

func TestNew_WrapsKindAndMessage(t *testing.T) {
	base := errors.New("device busy")
	err := New(KindHID, base)
	assert.EqualError(t, err, "device busy")
	assert.True(t, Is(err, KindHID))
	assert.False(t, Is(err, KindProtocol))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindConfig))
}

func TestNew_UnwrapsToUnderlyingError(t *testing.T) {
	base := errors.New("short read")
	err := New(KindProtocol, base)
	assert.ErrorIs(t, err, base)
}
