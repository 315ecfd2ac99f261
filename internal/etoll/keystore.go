package etoll

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// loadTLSConfig builds the mutually-authenticated client configuration
// from the operator-issued material: a JKS trust store for the server
// side and a PKCS#12 bundle carrying the client certificate and key.
// The endpoint only speaks TLS 1.2, so the version is pinned.
func loadTLSConfig(trustPath, trustPassword, clientPath, clientPassword string) (*tls.Config, error) {
	pool, err := loadTrustStore(trustPath, trustPassword)
	if err != nil {
		return nil, err
	}

	certificate, err := loadClientIdentity(clientPath, clientPassword)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		RootCAs:      pool,
		Certificates: []tls.Certificate{certificate},
	}, nil
}

func loadTrustStore(path, password string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust store: %w", err)
	}

	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(data), []byte(password)); err != nil {
		return nil, fmt.Errorf("decode trust store: %w", err)
	}

	pool := x509.NewCertPool()
	added := 0
	for _, alias := range ks.Aliases() {
		if !ks.IsTrustedCertificateEntry(alias) {
			continue
		}
		entry, err := ks.GetTrustedCertificateEntry(alias)
		if err != nil {
			return nil, fmt.Errorf("trust store entry %q: %w", alias, err)
		}
		certificate, err := x509.ParseCertificate(entry.Certificate.Content)
		if err != nil {
			return nil, fmt.Errorf("trust store certificate %q: %w", alias, err)
		}
		pool.AddCert(certificate)
		added++
	}

	if added == 0 {
		return nil, fmt.Errorf("trust store %s holds no trusted certificates", path)
	}
	return pool, nil
}

func loadClientIdentity(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read client store: %w", err)
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode client store: %w", err)
	}

	certificate := tls.Certificate{
		Certificate: [][]byte{leaf.Raw},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	for _, ca := range chain {
		certificate.Certificate = append(certificate.Certificate, ca.Raw)
	}
	return certificate, nil
}
