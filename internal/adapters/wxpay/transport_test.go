package wxpay

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testdata/client.p12 is a self-signed store for CN=10000100 unlocked by the merchant id
const testMchID = "10000100"

func loadTestCertificate(t *testing.T) []byte {
	t.Helper()
	blob, err := os.ReadFile("testdata/client.p12")
	require.NoError(t, err)
	return blob
}

type seenRequest struct {
	path        string
	contentType string
	userAgent   string
	body        string
	peerCN      string
	tlsVersion  uint16
}

func newGatewayServer(t *testing.T, requireCert bool, reply string, seen chan<- seenRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s := seenRequest{
			path:        r.URL.RequestURI(),
			contentType: r.Header.Get("Content-Type"),
			userAgent:   r.Header.Get("User-Agent"),
			body:        string(body),
			tlsVersion:  r.TLS.Version,
		}
		if len(r.TLS.PeerCertificates) > 0 {
			s.peerCN = r.TLS.PeerCertificates[0].Subject.CommonName
		}
		if seen != nil {
			seen <- s
		}
		_, _ = io.WriteString(w, reply)
	}))
	srv.TLS = &tls.Config{ClientAuth: tls.RequestClientCert}
	if requireCert {
		srv.TLS.ClientAuth = tls.RequireAnyClientCert
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func newTestTransport(t *testing.T, srv *httptest.Server, certificate []byte) *MutualTLSTransport {
	t.Helper()
	cfg := DefaultTransportConfig(testMchID, certificate)
	cfg.RootCAs = srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	tr, err := NewMutualTLSTransport(cfg, zap.NewNop())
	require.NoError(t, err)
	return tr
}

func hostOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return u.Host
}

func TestLoadPKCS12(t *testing.T) {
	cert, err := LoadPKCS12(loadTestCertificate(t), testMchID)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, testMchID, cert.Leaf.Subject.CommonName)
}

func TestLoadPKCS12_WrongPassphrase(t *testing.T) {
	_, err := LoadPKCS12(loadTestCertificate(t), "wrong")
	require.Error(t, err)
	assert.True(t, domain.IsConfigurationFault(err))
}

func TestNewMutualTLSTransport_ConfigurationFaults(t *testing.T) {
	_, err := NewMutualTLSTransport(DefaultTransportConfig("", nil), zap.NewNop())
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeConfigMissingCredentials))

	_, err = NewMutualTLSTransport(DefaultTransportConfig("20000200", loadTestCertificate(t)), zap.NewNop())
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeConfigCertificateInvalid))

	_, err = NewMutualTLSTransport(DefaultTransportConfig(testMchID, []byte("not a store")), zap.NewNop())
	assert.True(t, domain.IsConfigurationFault(err))
}

func TestMutualTLSTransport_PlainPost(t *testing.T) {
	seen := make(chan seenRequest, 1)
	srv := newGatewayServer(t, false, "<xml><return_code>SUCCESS</return_code></xml>", seen)
	tr := newTestTransport(t, srv, loadTestCertificate(t))

	body, err := tr.Post(context.Background(), PostRequest{
		Host:           hostOf(t, srv),
		Path:           PathOrderQuery,
		Body:           []byte("<xml><a>1</a></xml>"),
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "<xml><return_code>SUCCESS</return_code></xml>", string(body))

	got := <-seen
	assert.Equal(t, PathOrderQuery, got.path)
	assert.Equal(t, "text/xml", got.contentType)
	assert.Equal(t, defaultClientHeader+" "+testMchID, got.userAgent)
	assert.Equal(t, "<xml><a>1</a></xml>", got.body)
	assert.Empty(t, got.peerCN, "certificate is only presented when asked")
}

func TestMutualTLSTransport_PresentsClientCertificate(t *testing.T) {
	seen := make(chan seenRequest, 1)
	srv := newGatewayServer(t, true, "<xml></xml>", seen)
	tr := newTestTransport(t, srv, loadTestCertificate(t))
	require.True(t, tr.HasClientCertificate())

	_, err := tr.Post(context.Background(), PostRequest{
		Host:           hostOf(t, srv),
		Path:           PathSubMchAdd,
		Body:           []byte("<xml></xml>"),
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		UseClientCert:  true,
	})
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, testMchID, got.peerCN)
	assert.Equal(t, uint16(tls.VersionTLS12), got.tlsVersion)
	assert.Equal(t, PathSubMchAdd, got.path)
}

func TestMutualTLSTransport_CertificateRequiredButMissing(t *testing.T) {
	srv := newGatewayServer(t, true, "<xml></xml>", nil)
	tr := newTestTransport(t, srv, nil)

	_, err := tr.Post(context.Background(), PostRequest{
		Host:           hostOf(t, srv),
		Path:           PathRefund,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		UseClientCert:  true,
	})
	assert.True(t, domain.IsConfigurationFault(err))
}

func TestMutualTLSTransport_HandshakeRejected(t *testing.T) {
	srv := newGatewayServer(t, true, "<xml></xml>", nil)
	tr := newTestTransport(t, srv, nil)

	_, err := tr.Post(context.Background(), PostRequest{
		Host:           hostOf(t, srv),
		Path:           PathOrderQuery,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	require.Error(t, err)
	assert.True(t, domain.IsTransportFault(err))
}

func TestMutualTLSTransport_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)
	tr := newTestTransport(t, srv, nil)

	_, err := tr.Post(context.Background(), PostRequest{
		Host:           hostOf(t, srv),
		Path:           PathMicroPay,
		ConnectTimeout: time.Second,
		ReadTimeout:    100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTransportTimeout))
}

func TestMutualTLSTransport_ConnectionRefused(t *testing.T) {
	srv := newGatewayServer(t, false, "", nil)
	tr := newTestTransport(t, srv, nil)
	host := hostOf(t, srv)
	srv.Close()

	_, err := tr.Post(context.Background(), PostRequest{
		Host:           host,
		Path:           PathOrderQuery,
		ConnectTimeout: 500 * time.Millisecond,
		ReadTimeout:    500 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, domain.IsTransportFault(err))
}

func TestMutualTLSTransport_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://example.invalid/", http.StatusFound)
	}))
	defer srv.Close()
	tr := newTestTransport(t, srv, nil)

	_, err := tr.Post(context.Background(), PostRequest{
		Host:           hostOf(t, srv),
		Path:           PathCloseOrder,
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTransportFailed))
}
