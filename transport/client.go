package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// Options configures the panel HTTP client. The zero value is a plain HTTP
// client suitable for the panel's embedded web server.
type Options struct {
	CAPath             string        // Optional PEM bundle for HTTPS panels
	InsecureSkipVerify bool          // Panels ship self-signed certificates
	Timeout            time.Duration // Hard cap per exchange (0 = none; the queue owns deadlines)
}

// BuildHTTPClient creates the client used for every panel exchange.
// Redirects are never followed: the panel answers 302 when the session is
// gone and the queue must see that status.
func BuildHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in for self-signed panels
	}

	if opts.CAPath != "" {
		caCert, err := os.ReadFile(opts.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	// HTTP/2 over TLS when the panel offers it; plain HTTP stays on 1.1.
	if err := http2.ConfigureTransport(base); err != nil {
		return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	client := &http.Client{
		Transport: base,
		Timeout:   opts.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return client, nil
}
