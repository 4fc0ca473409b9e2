// Package tls secures the connection between a headless kview server and
// its clients.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
)

// Config names the files used to secure a connection.
//
// On the server CertFile and KeyFile are required; when CAFile is also set
// clients must present a certificate signed by it. On the client CAFile
// verifies the server and CertFile/KeyFile, if set, authenticate the
// client.
type Config struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Enabled reports whether any TLS file was configured.
func (c Config) Enabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// LoadCertPool reads the PEM encoded certificates stored at caCrtPath.
func LoadCertPool(caCrtPath string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caCrtPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificate found in %s", caCrtPath)
	}
	return pool, nil
}

func (c Config) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.CertFile != "" || c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load x509 key pair from (%s, %s): %v", c.CertFile, c.KeyFile, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if c.CAFile != "" {
		pool, err := LoadCertPool(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("load cert pool from (%s): %v", c.CAFile, err)
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}
	return cfg, nil
}

// WrapListener returns a listener accepting TLS connections only.
func WrapListener(l net.Listener, c Config) (net.Listener, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, errors.New("a TLS server needs both a certificate and a key")
	}
	cfg, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}
	if cfg.ClientCAs != nil {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tls.NewListener(l, cfg), nil
}

// Dial connects to a TLS server at addr.
func Dial(network, addr string, c Config) (net.Conn, error) {
	if c.CAFile == "" {
		return nil, errors.New("a TLS client needs the certificate authority of the server")
	}
	cfg, err := c.tlsConfig()
	if err != nil {
		return nil, err
	}
	return tls.Dial(network, addr, cfg)
}
