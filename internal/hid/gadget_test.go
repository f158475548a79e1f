package hid

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGadgetWrite_RejectsShortReport(t *testing.T) {
	path := t.TempDir() + "/keyboard"
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	g, err := OpenGadget(path, 8)
	require.NoError(t, err)
	defer g.Close()

	err = g.Write([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestGadgetWrite_WritesWholeReportAtomically(t *testing.T) {
	path := t.TempDir() + "/mouse"
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	g, err := OpenGadget(path, 4)
	require.NoError(t, err)
	defer g.Close()

	report := []byte{0x01, 0x0A, 0x05, 0x00}
	require.NoError(t, g.Write(report))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, report, got)
}
