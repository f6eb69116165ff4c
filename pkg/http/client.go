package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClientConfig holds HTTP client configuration
// Tuned per traffic pattern (gateway calls, statement downloads)
type HTTPClientConfig struct {
	// Connection pooling
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeouts
	DialTimeout           time.Duration // TCP connection timeout
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration // Waiting for response headers

	// Keep-alive
	DisableKeepAlives bool
	KeepAlive         time.Duration

	DisableCompression bool

	// FollowRedirects enables the default redirect policy; otherwise the first response is returned
	FollowRedirects bool

	// TLS
	MinTLSVersion uint16
	MaxTLSVersion uint16
}

// GatewayClientConfig returns config for one signed gateway call.
// Every call is a single connection attempt, so nothing is pooled and redirects are not followed.
func GatewayClientConfig(connectTimeout, readTimeout time.Duration) *HTTPClientConfig {
	return &HTTPClientConfig{
		DialTimeout:           connectTimeout,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,

		DisableKeepAlives: true,

		// Gateway bodies are small tagged documents
		DisableCompression: true,

		MinTLSVersion: tls.VersionTLS12,
	}
}

// DownloadClientConfig returns config for fetching statement archives from a download URL
func DownloadClientConfig() *HTTPClientConfig {
	return &HTTPClientConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second, // archives are generated on demand

		KeepAlive: 30 * time.Second,

		FollowRedirects: true,

		MinTLSVersion: tls.VersionTLS12,
	}
}

// NewTransport builds an http.Transport from cfg. tlsConfig may be nil, in which case
// one is derived from the configured TLS versions.
func NewTransport(cfg *HTTPClientConfig, tlsConfig *tls.Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			MinVersion: cfg.MinTLSVersion,
			MaxVersion: cfg.MaxTLSVersion,
		}
	}

	return &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,

		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,

		DisableKeepAlives:  cfg.DisableKeepAlives,
		DisableCompression: cfg.DisableCompression,

		TLSClientConfig: tlsConfig,
	}
}

// NewHTTPClient creates an HTTP client with the given configuration.
// timeout bounds the whole exchange including reading the body; zero means no bound.
func NewHTTPClient(cfg *HTTPClientConfig, tlsConfig *tls.Config, timeout time.Duration) *http.Client {
	client := &http.Client{
		Transport: NewTransport(cfg, tlsConfig),
		Timeout:   timeout,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}
