package statement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockStatementGateway mocks the channel bill download
type MockStatementGateway struct {
	mock.Mock
}

func (m *MockStatementGateway) DownloadBill(ctx context.Context, req map[string]string) (map[string]string, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func TestGatewaySource_Fetch(t *testing.T) {
	gateway := new(MockStatementGateway)
	gateway.On("DownloadBill", mock.Anything, map[string]string{"bill_date": "20240105", "bill_type": "ALL"}).
		Return(map[string]string{"return_code": "SUCCESS", "return_msg": "ok", "data": "statement body"}, nil).Once()

	raw, err := NewGatewaySource(gateway, "").Fetch(context.Background(), "20240105")
	require.NoError(t, err)
	assert.Equal(t, "statement body", string(raw))
	gateway.AssertExpectations(t)
}

func TestGatewaySource_ChannelRefusal(t *testing.T) {
	gateway := new(MockStatementGateway)
	gateway.On("DownloadBill", mock.Anything, mock.Anything).
		Return(map[string]string{"return_code": "FAIL", "return_msg": "No Bill Exist"}, nil).Once()

	_, err := NewGatewaySource(gateway, "SUCCESS").Fetch(context.Background(), "20240105")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeProtocolInvalidResponse))
}

func newTestURLSource(url string) *URLSource {
	cfg := DefaultURLSourceConfig(url)
	cfg.Timeout = 5 * time.Second
	src := NewURLSource(cfg, zap.NewNop())
	src.client.Backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration { return time.Millisecond }
	return src
}

func TestURLSource_RetriesServerErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bills/20240105.zip", r.URL.Path)
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("archive"))
	}))
	defer server.Close()

	raw, err := newTestURLSource(server.URL+"/bills/{date}.zip").Fetch(context.Background(), "20240105")
	require.NoError(t, err)
	assert.Equal(t, "archive", string(raw))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestURLSource_ClientErrorNotRetried(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestURLSource(server.URL+"/{date}").Fetch(context.Background(), "20240105")
	assert.True(t, domain.IsTransportFault(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestURLSource_GivesUpAfterRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestURLSource(server.URL+"/{date}").Fetch(context.Background(), "20240105")
	assert.True(t, domain.IsTransportFault(err))
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits), "first try plus three retries")
}

func TestURLSource_SizeLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer server.Close()

	src := newTestURLSource(server.URL + "/{date}")
	src.config.MaxBytes = 16

	_, err := src.Fetch(context.Background(), "20240105")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeProtocolInvalidResponse))
}
