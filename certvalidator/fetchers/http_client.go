package fetchers

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// HTTPClientConfig configures the client used to reach AIA, OCSP and CRL
// endpoints.
type HTTPClientConfig struct {
	// Timeout is the overall per-request timeout.
	Timeout time.Duration
	// ProxyURL overrides the proxy taken from the environment.
	ProxyURL string
	// MinTLSVersion defaults to TLS 1.2.
	MinTLSVersion uint16
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// MaxIdleConnsPerHost controls keep-alive reuse per responder.
	MaxIdleConnsPerHost int
}

// DefaultHTTPClientConfig returns a conservative configuration.
func DefaultHTTPClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		Timeout:             15 * time.Second,
		MinTLSVersion:       tls.VersionTLS12,
		DialTimeout:         10 * time.Second,
		MaxIdleConnsPerHost: 4,
	}
}

// NewHTTPClient creates an HTTP client from config.
func NewHTTPClient(config *HTTPClientConfig) (*http.Client, error) {
	if config == nil {
		config = DefaultHTTPClientConfig()
	}
	minTLS := config.MinTLSVersion
	if minTLS == 0 {
		minTLS = tls.VersionTLS12
	}

	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: minTLS},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}, nil
}
