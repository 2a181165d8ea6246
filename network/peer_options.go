package network

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"time"
)

type peerConfig struct {
	timeout   time.Duration
	tlsConfig *tls.Config
	logger    *slog.Logger
}

type PeerOption func(peerConfig) peerConfig

func WithTimeout(timeout time.Duration) PeerOption {
	return func(c peerConfig) peerConfig {
		c.timeout = timeout
		return c
	}
}

// WithCertificate switches the peer to HTTPS, presenting cert both as server
// and as client.
func WithCertificate(cert tls.Certificate) PeerOption {
	return func(c peerConfig) peerConfig {
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{}
		}
		c.tlsConfig.Certificates = append(c.tlsConfig.Certificates, cert)
		return c
	}
}

// WithLimitedCAs only trusts peers whose certificate is in certPool, in
// both directions.
func WithLimitedCAs(certPool *x509.CertPool) PeerOption {
	return func(c peerConfig) peerConfig {
		if c.tlsConfig == nil {
			c.tlsConfig = &tls.Config{}
		}
		c.tlsConfig.RootCAs = certPool
		c.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		c.tlsConfig.ClientCAs = certPool
		return c
	}
}

func WithLogger(logger *slog.Logger) PeerOption {
	return func(c peerConfig) peerConfig {
		c.logger = logger
		return c
	}
}
