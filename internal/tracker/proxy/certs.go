package proxy

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	rsaKeySize        = 2048
	caCertValidYears  = 10
	leafCertValidDays = 365
	serialNumberBits  = 128

	certOrganization = "subwatch"
	caCommonName     = "subwatch local interception CA"
)

// CertManager issues leaf certificates for intercepted hosts, signed by a local CA.
type CertManager struct {
	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	caCertPEM []byte
	certsDir  string

	cacheMu   sync.RWMutex
	certCache map[string]*tls.Certificate
}

// NewCertManager loads the CA from certsDir or creates one there.
// An empty certsDir keeps a throwaway CA in memory.
func NewCertManager(certsDir string) (*CertManager, error) {
	cm := &CertManager{
		certsDir:  certsDir,
		certCache: make(map[string]*tls.Certificate),
	}

	if certsDir == "" {
		if err := cm.generateCA("", ""); err != nil {
			return nil, appErr.Wrapf(err, appErr.CertificateFailed, "generate CA failed")
		}
		return cm, nil
	}

	if err := os.MkdirAll(certsDir, 0o750); err != nil {
		return nil, appErr.Wrapf(err, appErr.CertificateFailed, "create certs directory failed")
	}
	caCertPath := filepath.Join(certsDir, "ca.crt")
	caKeyPath := filepath.Join(certsDir, "ca.key")

	if loadErr := cm.loadCA(caCertPath, caKeyPath); loadErr != nil {
		if err := cm.generateCA(caCertPath, caKeyPath); err != nil {
			return nil, appErr.Wrapf(err, appErr.CertificateFailed, "generate CA failed")
		}
		logger.Info(context.Background(), "generated interception CA, add it to the browser trust store",
			zap.String("path", caCertPath))
	}
	return cm, nil
}

// CACertPEM returns the CA certificate in PEM format.
func (cm *CertManager) CACertPEM() []byte {
	return cm.caCertPEM
}

func (cm *CertManager) loadCA(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errors.New("failed to decode CA certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	if time.Now().After(cert.NotAfter) {
		return errors.New("CA certificate expired")
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errors.New("failed to decode CA key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA key: %w", err)
	}

	cm.caCert = cert
	cm.caKey = key
	cm.caCertPEM = certPEM
	return nil
}

// generateCA creates a self-signed CA. Empty paths skip writing to disk.
func (cm *CertManager) generateCA(certPath, keyPath string) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %w", err)
	}
	serialNumber, err := newSerial()
	if err != nil {
		return err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{certOrganization},
			CommonName:   caCommonName,
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(caCertValidYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if certPath != "" {
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write CA certificate: %w", err)
		}
		if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write CA key: %w", err)
		}
	}

	cm.caCert = cert
	cm.caKey = key
	cm.caCertPEM = certPEM
	return nil
}

// GetCertificate returns a cached or freshly issued certificate for host.
func (cm *CertManager) GetCertificate(host string) (*tls.Certificate, error) {
	cm.cacheMu.RLock()
	cert, ok := cm.certCache[host]
	cm.cacheMu.RUnlock()
	if ok {
		return cert, nil
	}

	cert, err := cm.generateLeafCert(host)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CertificateFailed, "issue certificate for %s failed", host)
	}

	cm.cacheMu.Lock()
	cm.certCache[host] = cert
	cm.cacheMu.Unlock()
	return cert, nil
}

func (cm *CertManager) generateLeafCert(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate leaf key: %w", err)
	}
	serialNumber, err := newSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{certOrganization},
			CommonName:   host,
		},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.AddDate(0, 0, leafCertValidDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, cm.caCert, &key.PublicKey, cm.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf certificate: %w", err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{certDER, cm.caCert.Raw},
		PrivateKey:  key,
	}, nil
}

// TLSConfigForHost returns a server config for an intercepted CONNECT target.
// Clients that send no SNI (IP targets) get a certificate for fallbackHost.
func (cm *CertManager) TLSConfigForHost(fallbackHost string) *tls.Config {
	return &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = fallbackHost
			}
			return cm.GetCertificate(name)
		},
		NextProtos: []string{"http/1.1"},
		MinVersion: tls.VersionTLS12,
	}
}

func newSerial() (*big.Int, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), serialNumberBits))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return n, nil
}
