package wxpay

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	pkghttp "github.com/kevin07696/cashier-settlement/pkg/http"
	"go.uber.org/zap"
	"golang.org/x/crypto/pkcs12"
)

// PostRequest is one signed exchange with a gateway endpoint
type PostRequest struct {
	Host           string
	Path           string
	Body           []byte
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UseClientCert  bool
}

// Poster performs exactly one HTTPS POST. Implementations never retry.
type Poster interface {
	Post(ctx context.Context, req PostRequest) ([]byte, error)
}

// TransportConfig contains configuration for the mutual TLS transport
type TransportConfig struct {
	// Scheme is https in production; tests may point at a local TLS server
	Scheme string

	// MchID is sent in the client header and unlocks the certificate store
	MchID string

	// Certificate is the PKCS#12 store issued by the channel. Optional when no
	// certificate-bound operation is used.
	Certificate []byte

	// TLS versions used when the client certificate is presented
	MinTLSVersion uint16
	MaxTLSVersion uint16

	// RootCAs overrides the system pool
	RootCAs *x509.CertPool

	UserAgent string

	// MaxResponseBytes caps how much of a response is read
	MaxResponseBytes int64
}

// DefaultTransportConfig returns default configuration for the channel transport
func DefaultTransportConfig(mchID string, certificate []byte) *TransportConfig {
	return &TransportConfig{
		Scheme:           "https",
		MchID:            mchID,
		Certificate:      certificate,
		MinTLSVersion:    tls.VersionTLS12,
		MaxTLSVersion:    tls.VersionTLS12,
		UserAgent:        defaultClientHeader,
		MaxResponseBytes: 64 << 20,
	}
}

// MutualTLSTransport posts tagged documents to a gateway endpoint, presenting the
// merchant certificate for certificate-bound operations.
type MutualTLSTransport struct {
	config     *TransportConfig
	clientCert *tls.Certificate
	logger     *zap.Logger
}

// NewMutualTLSTransport creates the transport. A certificate that cannot be unlocked
// is a configuration fault; the transport is never returned half-initialized.
func NewMutualTLSTransport(config *TransportConfig, logger *zap.Logger) (*MutualTLSTransport, error) {
	if config.MchID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeConfigMissingCredentials, "merchant id is required")
	}

	t := &MutualTLSTransport{
		config: config,
		logger: logger,
	}

	if len(config.Certificate) > 0 {
		cert, err := LoadPKCS12(config.Certificate, config.MchID)
		if err != nil {
			logger.Error("Failed to load gateway client certificate",
				zap.String("mch_id", config.MchID),
				zap.Error(err),
			)
			return nil, err
		}
		t.clientCert = &cert
		logger.Info("Loaded gateway client certificate",
			zap.String("mch_id", config.MchID),
			zap.String("subject", cert.Leaf.Subject.String()),
			zap.Time("not_after", cert.Leaf.NotAfter),
		)
	}

	return t, nil
}

// HasClientCertificate reports whether certificate-bound operations can be served
func (t *MutualTLSTransport) HasClientCertificate() bool {
	return t.clientCert != nil
}

// Post sends one request and returns the raw response body
func (t *MutualTLSTransport) Post(ctx context.Context, req PostRequest) ([]byte, error) {
	if req.UseClientCert && t.clientCert == nil {
		return nil, domain.WrapError(domain.ErrorCodeConfigCertificateInvalid,
			"operation requires a client certificate but none is configured", nil).
			WithDetail("path", req.Path)
	}

	tlsCfg := &tls.Config{
		RootCAs:    t.config.RootCAs,
		MinVersion: tls.VersionTLS12,
	}
	if req.UseClientCert {
		tlsCfg.Certificates = []tls.Certificate{*t.clientCert}
		tlsCfg.MinVersion = t.config.MinTLSVersion
		tlsCfg.MaxVersion = t.config.MaxTLSVersion
	}

	client := pkghttp.NewHTTPClient(
		pkghttp.GatewayClientConfig(req.ConnectTimeout, req.ReadTimeout),
		tlsCfg,
		req.ConnectTimeout+req.ReadTimeout,
	)
	defer client.CloseIdleConnections()

	url := t.config.Scheme + "://" + req.Host + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeTransportFailed, "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	httpReq.Header.Set("User-Agent", t.config.UserAgent+" "+t.config.MchID)

	t.logger.Debug("Posting to gateway",
		zap.String("host", req.Host),
		zap.String("path", req.Path),
		zap.Bool("client_cert", req.UseClientCert),
		zap.Duration("read_timeout", req.ReadTimeout),
		zap.ByteString("body", req.Body),
	)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err, req)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.config.MaxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err, req)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.NewDomainError(domain.ErrorCodeTransportFailed,
			fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithDetail("host", req.Host).
			WithDetail("path", req.Path)
	}

	return body, nil
}

func classifyTransportError(err error, req PostRequest) error {
	code := domain.ErrorCodeTransportFailed
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = domain.ErrorCodeTransportTimeout
	}
	return domain.WrapError(code, "gateway request to "+req.Host+" failed", err).
		WithDetail("path", req.Path)
}

// LoadPKCS12 unlocks a PKCS#12 store and returns the key pair it holds.
// The leaf is the certificate whose public key matches the private key.
func LoadPKCS12(blob []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(blob, password)
	if err != nil {
		return tls.Certificate{}, domain.WrapError(domain.ErrorCodeConfigCertificateInvalid, "failed to unlock certificate store", err)
	}

	var keyPEM []byte
	var certs []*pem.Block
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			certs = append(certs, b)
		case "PRIVATE KEY":
			keyPEM = pem.EncodeToMemory(b)
		}
	}
	if keyPEM == nil || len(certs) == 0 {
		return tls.Certificate{}, domain.NewDomainError(domain.ErrorCodeConfigCertificateInvalid,
			"certificate store must hold a private key and a certificate")
	}

	var lastErr error
	for i := range certs {
		chain := make([]byte, 0, 2048*len(certs))
		chain = append(chain, pem.EncodeToMemory(certs[i])...)
		for j := range certs {
			if j != i {
				chain = append(chain, pem.EncodeToMemory(certs[j])...)
			}
		}

		cert, err := tls.X509KeyPair(chain, keyPEM)
		if err != nil {
			lastErr = err
			continue
		}
		if cert.Leaf == nil {
			leaf, err := x509.ParseCertificate(cert.Certificate[0])
			if err != nil {
				lastErr = err
				continue
			}
			cert.Leaf = leaf
		}
		return cert, nil
	}

	return tls.Certificate{}, domain.WrapError(domain.ErrorCodeConfigCertificateInvalid,
		"no certificate in the store matches its private key", lastErr)
}
