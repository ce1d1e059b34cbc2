package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

const (
	// RotationThreshold is the buffer before expiry at which a chain is renewed (30 days).
	RotationThreshold = 30 * 24 * time.Hour
)

// ErrNoCertificate is returned when PEM data holds no certificate.
var ErrNoCertificate = errors.New("no certificate found in PEM data")

// internal variables for mocking in tests
var (
	marshalECPrivateKey = x509.MarshalECPrivateKey
	randReader          = rand.Reader
)

// NewPrivateKey generates an ECDSA P-256 key and returns it PEM encoded.
func NewPrivateKey() (string, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), randReader)
	if err != nil {
		return "", fmt.Errorf("failed to generate private key: %w", err)
	}
	der, err := marshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})), nil
}

// ParsePrivateKey decodes a PEM encoded EC or PKCS#8 private key.
func ParsePrivateKey(keyPEM string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	return signer, nil
}

// NewCSR creates a certificate signing request for serverName signed by the
// given private key. The subject common name is serverName and the DNS names
// are serverName and its wildcard.
func NewCSR(privateKeyPEM, serverName string) (string, error) {
	if serverName == "" {
		return "", ErrNoServerName
	}
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	template := x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: serverName},
		DNSNames: []string{serverName, "*." + serverName},
	}
	der, err := x509.CreateCertificateRequest(randReader, &template, key)
	if err != nil {
		return "", fmt.Errorf("failed to create certificate request: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

// ParseCSR decodes a PEM encoded certificate signing request.
func ParseCSR(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("failed to decode certificate request PEM")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate request: %w", err)
	}
	return csr, nil
}

// ParseLeaf returns the first certificate of a PEM encoded chain.
func ParseLeaf(chainPEM string) (*x509.Certificate, error) {
	rest := []byte(chainPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		leaf, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return leaf, nil
	}
}

// NeedsRenewal reports whether the leaf of chainPEM expires within
// RotationThreshold of now.
func NeedsRenewal(chainPEM string, now time.Time) (bool, error) {
	leaf, err := ParseLeaf(chainPEM)
	if err != nil {
		return false, err
	}
	return leaf.NotAfter.Sub(now) < RotationThreshold, nil
}
