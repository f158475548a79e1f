// Package certutil builds the server TLS identity for the RFB
// listener's optional transport-encryption tunnel (spec.md §4.D,
// §6): either a loaded PEM certificate/key pair, or a self-signed
// certificate generated at startup.
//
// Grounded on original_source/src/vnc.rs's create_self_signed_tls_acceptor
// (CN="KVM-RS VNC Server", org="OpenBMC", single SAN "localhost").
// Implemented with the standard library's crypto/x509 and crypto/tls
// rather than a third-party certificate library: none of the pack's
// repos import one (helixml-helix's own crypto code —
// api/pkg/crypto/encryption.go, api/pkg/license/license.go — builds
// RSA/ECDSA/ed25519 material with crypto/rsa, crypto/ecdsa and
// crypto/x509 directly), so this follows the teacher's own stdlib
// convention for certificate and key material.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

const (
	commonName = "KVM-RS VNC Server"
	orgName    = "OpenBMC"
	sanHost    = "localhost"
)

// LoadOrGenerate returns a tls.Certificate suitable for a
// tls.Config.Certificates slot. If certPath and keyPath are both
// non-empty, it loads the PEM pair from disk; otherwise it generates
// a fresh self-signed ECDSA certificate.
func LoadOrGenerate(certPath, keyPath string) (tls.Certificate, error) {
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("certutil: load pem pair: %w", err)
		}
		return cert, nil
	}
	return generateSelfSigned()
}

func generateSelfSigned() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certutil: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certutil: generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{orgName},
		},
		DNSNames:              []string{sanHost},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certutil: create certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// ServerConfig builds the *tls.Config for the RFB listener: any TLS
// 1.2+ suite the peer offers, per spec.md §4.D.
func ServerConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}
