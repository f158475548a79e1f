package certutil

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerate_SelfSignedHasExpectedIdentity(t *testing.T) {
	cert, err := LoadOrGenerate("", "")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)

	assert.Equal(t, commonName, parsed.Subject.CommonName)
	assert.Contains(t, parsed.Subject.Organization, orgName)
	assert.Contains(t, parsed.DNSNames, sanHost)
}

func TestServerConfig_RequiresTLS12Minimum(t *testing.T) {
	cert, err := LoadOrGenerate("", "")
	require.NoError(t, err)

	cfg := ServerConfig(cert)
	assert.Equal(t, uint16(0x0303), cfg.MinVersion) // tls.VersionTLS12
}
