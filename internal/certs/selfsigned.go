// ABOUTME: Self-signed certificate generation for the QUIC transport
// ABOUTME: Produces ECDSA certificates and pins peers by SHA-256 fingerprint
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// DefaultValidity covers any realistic share session.
const DefaultValidity = 7 * 24 * time.Hour

// ErrFingerprintMismatch is returned when a peer presents an unexpected certificate.
var ErrFingerprintMismatch = errors.New("certificate fingerprint mismatch")

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a new self-signed ECDSA P-256 certificate. A
// non-positive validity selects DefaultValidity.
func Generate(commonName string, validity time.Duration) (*CertInfo, error) {
	if validity <= 0 {
		validity = DefaultValidity
	}
	if commonName == "" {
		commonName = "hearme"
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now().Add(-1 * time.Minute)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: sha256.Sum256(certDER),
		NotAfter:    template.NotAfter,
	}, nil
}

// ServerConfig returns a TLS config presenting the certificate.
func (c *CertInfo) ServerConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		NextProtos:   nextProtos,
		MinVersion:   tls.VersionTLS13,
	}
}

// PinnedClientConfig returns a TLS config that accepts exactly the
// certificate whose base64 SHA-256 fingerprint is given. Chain and
// hostname verification are replaced by the pin.
func PinnedClientConfig(fingerprint string, nextProtos ...string) (*tls.Config, error) {
	want, err := base64.StdEncoding.DecodeString(fingerprint)
	if err != nil || len(want) != sha256.Size {
		return nil, fmt.Errorf("invalid certificate fingerprint %q", fingerprint)
	}

	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         nextProtos,
		MinVersion:         tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no certificate presented", ErrFingerprintMismatch)
			}
			got := sha256.Sum256(rawCerts[0])
			if subtle.ConstantTimeCompare(got[:], want) != 1 {
				return ErrFingerprintMismatch
			}
			return nil
		},
	}, nil
}
