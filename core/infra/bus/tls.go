package bus

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

const (
	envNATSTLSCA         = "EXTSTORE_NATS_TLS_CA"
	envNATSTLSCert       = "EXTSTORE_NATS_TLS_CERT"
	envNATSTLSKey        = "EXTSTORE_NATS_TLS_KEY"
	envNATSTLSInsecure   = "EXTSTORE_NATS_TLS_INSECURE"
	envNATSTLSServerName = "EXTSTORE_NATS_TLS_SERVER_NAME"
)

// natsTLSConfigFromEnv returns nil when no TLS variable is set.
func natsTLSConfigFromEnv() (*tls.Config, error) {
	caPath := strings.TrimSpace(os.Getenv(envNATSTLSCA))
	certPath := strings.TrimSpace(os.Getenv(envNATSTLSCert))
	keyPath := strings.TrimSpace(os.Getenv(envNATSTLSKey))
	serverName := strings.TrimSpace(os.Getenv(envNATSTLSServerName))
	insecure := strings.EqualFold(strings.TrimSpace(os.Getenv(envNATSTLSInsecure)), "true")

	if caPath == "" && certPath == "" && keyPath == "" && serverName == "" && !insecure {
		return nil, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: serverName}
	if insecure {
		// #nosec G402 -- opt-in for self-signed development servers.
		cfg.InsecureSkipVerify = true
	}
	if caPath != "" {
		// #nosec G304 -- operator-provided path.
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls ca read: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("nats tls ca parse: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, fmt.Errorf("nats tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("nats tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
