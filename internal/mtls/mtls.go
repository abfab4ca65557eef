// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mtls provides client TLS and mTLS config support.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	ErrNoValidRootCertificate = errors.New("no valid root certificate")
	ErrMissingCertificate     = errors.New("missing certificate")
	ErrMissingKey             = errors.New("missing key")
)

// NewClientConfig returns a client TLS configuration. If a root CA PEM block
// is provided, it replaces the system roots. If a certificate and key are
// provided the configuration presents them for mTLS. If all parameters are
// empty, a nil config is returned.
func NewClientConfig(rootPEM, certPEMBlock, keyPEMBlock []byte) (*tls.Config, error) {
	if len(rootPEM) == 0 && len(certPEMBlock) == 0 && len(keyPEMBlock) == 0 {
		return nil, nil
	}
	tlsConfig := tls.Config{MinVersion: tls.VersionTLS12}
	if len(rootPEM) != 0 {
		caPool := x509.NewCertPool()
		ok := caPool.AppendCertsFromPEM(rootPEM)
		if !ok {
			return nil, ErrNoValidRootCertificate
		}
		tlsConfig.RootCAs = caPool
	}
	if len(certPEMBlock) != 0 || len(keyPEMBlock) != 0 {
		if len(certPEMBlock) == 0 {
			return nil, ErrMissingCertificate
		}
		if len(keyPEMBlock) == 0 {
			return nil, ErrMissingKey
		}
		cert, err := tls.X509KeyPair(certPEMBlock, keyPEMBlock)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return &tlsConfig, nil
}

// LoadClientConfig returns a client TLS configuration from PEM files.
// Empty paths are ignored.
func LoadClientConfig(rootPath, certPath, keyPath string) (*tls.Config, error) {
	var pems [3][]byte
	for i, path := range []string{rootPath, certPath, keyPath} {
		if path == "" {
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tls file: %w", err)
		}
		pems[i] = b
	}
	return NewClientConfig(pems[0], pems[1], pems[2])
}
