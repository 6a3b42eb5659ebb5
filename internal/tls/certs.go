// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package tls generates and loads the mutual TLS material that secures the
// bridge between the hosting proxy and authgate.
//
// A certs directory holds:
//   - root-ca.crt and root-ca.key, the private CA
//   - bridge.crt and bridge.key, the server certificate
//   - proxy.crt and proxy.key, the client certificate the proxy presents
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authgate/internal/xdg"
)

// File base names inside a certs directory.
const (
	CAName     = "root-ca"
	ServerName = "bridge"
	ClientName = "proxy"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	certValidity = 365 * 24 * time.Hour
)

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// Cert holds a leaf certificate, its key and its file base name.
type Cert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
	Name        string
}

// GenerateCA creates a new root CA.
func GenerateCA() (*CA, error) {
	key, serial, err := newKeyAndSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"authgate"},
			CommonName:   "authgate bridge CA",
		},
		NotBefore:             now,
		NotAfter:              now.Add(caValidity),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	cert, err := sign(template, template, key, key)
	if err != nil {
		return nil, err
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateServerCert creates the bridge server certificate. It is always
// valid for localhost and 127.0.0.1; hosts adds DNS names or IPs.
func GenerateServerCert(ca *CA, hosts ...string) (*Cert, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"authgate"},
			CommonName:   "authgate-" + ServerName,
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	return issue(ca, template, ServerName)
}

// GenerateClientCert creates a client certificate named name.
func GenerateClientCert(ca *CA, name string) (*Cert, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"authgate"},
			CommonName:   name,
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	return issue(ca, template, name)
}

func issue(ca *CA, template *x509.Certificate, name string) (*Cert, error) {
	if ca == nil {
		return nil, oops.Code("TLS_NO_CA").Errorf("a CA is required to issue %s", name)
	}
	key, serial, err := newKeyAndSerial()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	template.SerialNumber = serial
	template.NotBefore = now
	template.NotAfter = now.Add(certValidity)

	cert, err := sign(template, ca.Certificate, key, ca.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Cert{Certificate: cert, PrivateKey: key, Name: name}, nil
}

func newKeyAndSerial() (*ecdsa.PrivateKey, *big.Int, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, oops.Code("TLS_KEYGEN_FAILED").Wrap(err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, oops.Code("TLS_KEYGEN_FAILED").Wrap(err)
	}
	return key, serial, nil
}

func sign(template, parent *x509.Certificate, key, signer *ecdsa.PrivateKey) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, oops.Code("TLS_SIGN_FAILED").With("subject", template.Subject.CommonName).Wrap(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, oops.Code("TLS_SIGN_FAILED").With("subject", template.Subject.CommonName).Wrap(err)
	}
	return cert, nil
}

// SaveCA writes root-ca.crt and root-ca.key into dir.
func SaveCA(dir string, ca *CA) error {
	return save(dir, CAName, ca.Certificate, ca.PrivateKey)
}

// SaveCert writes {name}.crt and {name}.key into dir.
func SaveCert(dir string, cert *Cert) error {
	return save(dir, cert.Name, cert.Certificate, cert.PrivateKey)
}

func save(dir, name string, cert *x509.Certificate, key *ecdsa.PrivateKey) error {
	if err := xdg.EnsureDir(dir); err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("name", name).Wrap(err)
	}
	if err := writePEM(filepath.Join(dir, name+".crt"), "CERTIFICATE", cert.Raw); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, name+".key"), "EC PRIVATE KEY", keyDER)
}

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(filepath.Clean(path), data, 0o600); err != nil {
		return oops.Code("TLS_SAVE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

// LoadCA reads the CA from dir.
func LoadCA(dir string) (*CA, error) {
	certPath := filepath.Join(dir, CAName+".crt")
	keyPath := filepath.Join(dir, CAName+".key")

	certPEM, err := os.ReadFile(filepath.Clean(certPath))
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", certPath).Wrap(err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", certPath).Errorf("no PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", certPath).Wrap(err)
	}

	keyPEM, err := os.ReadFile(filepath.Clean(keyPath))
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", keyPath).Wrap(err)
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", keyPath).Errorf("no PEM block")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, oops.Code("TLS_LOAD_FAILED").With("path", keyPath).Wrap(err)
	}

	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// LoadServerTLS builds the bridge listener config. Clients must present a
// certificate signed by the CA in dir.
func LoadServerTLS(dir string) (*cryptotls.Config, error) {
	pair, pool, err := loadPairAndPool(dir, ServerName)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		ClientCAs:    pool,
		ClientAuth:   cryptotls.RequireAndVerifyClientCert,
		MinVersion:   cryptotls.VersionTLS13,
	}, nil
}

// LoadClientTLS builds a client config that presents {name}.crt and
// trusts only the CA in dir. serverName is checked against the server
// certificate.
func LoadClientTLS(dir, name, serverName string) (*cryptotls.Config, error) {
	pair, pool, err := loadPairAndPool(dir, name)
	if err != nil {
		return nil, err
	}
	return &cryptotls.Config{
		Certificates: []cryptotls.Certificate{pair},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   cryptotls.VersionTLS13,
	}, nil
}

func loadPairAndPool(dir, name string) (cryptotls.Certificate, *x509.CertPool, error) {
	certPath := filepath.Join(dir, name+".crt")
	pair, err := cryptotls.LoadX509KeyPair(certPath, filepath.Join(dir, name+".key"))
	if err != nil {
		return cryptotls.Certificate{}, nil, oops.Code("TLS_LOAD_FAILED").With("path", certPath).Wrap(err)
	}

	caPath := filepath.Join(dir, CAName+".crt")
	caPEM, err := os.ReadFile(filepath.Clean(caPath))
	if err != nil {
		return cryptotls.Certificate{}, nil, oops.Code("TLS_LOAD_FAILED").With("path", caPath).Wrap(err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return cryptotls.Certificate{}, nil, oops.Code("TLS_LOAD_FAILED").With("path", caPath).Errorf("no certificates in CA file")
	}
	return pair, pool, nil
}

// EnsureCertificates generates the CA, the bridge certificate and the proxy
// client certificate in dir unless any of them already exists. Existing
// material is never overwritten; a partial set surfaces when it is loaded.
// It reports whether new files were written.
func EnsureCertificates(dir string, hosts []string, logger *slog.Logger) (bool, error) {
	for _, name := range []string{CAName, ServerName, ClientName} {
		if _, err := os.Stat(filepath.Join(dir, name+".crt")); !os.IsNotExist(err) {
			return false, nil
		}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger.Info("generating bridge TLS certificates", "certs_dir", dir)

	ca, err := GenerateCA()
	if err != nil {
		return false, err
	}
	server, err := GenerateServerCert(ca, hosts...)
	if err != nil {
		return false, err
	}
	client, err := GenerateClientCert(ca, ClientName)
	if err != nil {
		return false, err
	}

	if err := SaveCA(dir, ca); err != nil {
		return false, err
	}
	if err := SaveCert(dir, server); err != nil {
		return false, err
	}
	if err := SaveCert(dir, client); err != nil {
		return false, err
	}
	return true, nil
}
