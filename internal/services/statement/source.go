package statement

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	pkghttp "github.com/kevin07696/cashier-settlement/pkg/http"
	"github.com/kevin07696/cashier-settlement/pkg/resilience"
	"go.uber.org/zap"
)

// Source fetches the raw statement for a settlement date (YYYYMMDD)
type Source interface {
	Fetch(ctx context.Context, billDate string) ([]byte, error)
}

// GatewaySource downloads the statement through the channel's bill-download call
type GatewaySource struct {
	gateway  ports.StatementGateway
	billType string
}

// NewGatewaySource creates a source for billType (ALL, SUCCESS, REFUND)
func NewGatewaySource(gateway ports.StatementGateway, billType string) *GatewaySource {
	if billType == "" {
		billType = "ALL"
	}
	return &GatewaySource{gateway: gateway, billType: billType}
}

func (s *GatewaySource) Fetch(ctx context.Context, billDate string) ([]byte, error) {
	resp, err := s.gateway.DownloadBill(ctx, map[string]string{
		wxpay.FieldBillDate: billDate,
		wxpay.FieldBillType: s.billType,
	})
	if err != nil {
		return nil, err
	}
	if resp[wxpay.FieldReturnCode] != wxpay.Success {
		return nil, domain.NewDomainError(domain.ErrorCodeProtocolInvalidResponse, "channel refused the statement download").
			WithDetail("bill_date", billDate).
			WithDetail("return_msg", resp[wxpay.FieldReturnMsg])
	}
	return []byte(resp[wxpay.FieldData]), nil
}

// URLSourceConfig configures statement downloads over plain HTTPS
type URLSourceConfig struct {
	// URLTemplate is the download URL with {date} standing for the bill date
	URLTemplate string
	MaxRetries  int
	Timeout     time.Duration
	MaxBytes    int64
}

// DefaultURLSourceConfig returns download defaults for urlTemplate
func DefaultURLSourceConfig(urlTemplate string) *URLSourceConfig {
	return &URLSourceConfig{
		URLTemplate: urlTemplate,
		MaxRetries:  3,
		Timeout:     2 * time.Minute,
		MaxBytes:    64 << 20,
	}
}

// URLSource fetches statement archives from a download URL, retrying
// connection faults and 5xx answers with exponential backoff
type URLSource struct {
	config *URLSourceConfig
	client *retryablehttp.Client
}

// NewURLSource creates a URL statement source
func NewURLSource(config *URLSourceConfig, logger *zap.Logger) *URLSource {
	backoff := resilience.DownloadBackoff()

	client := retryablehttp.NewClient()
	client.HTTPClient = pkghttp.NewHTTPClient(pkghttp.DownloadClientConfig(), nil, config.Timeout)
	client.RetryMax = config.MaxRetries
	client.Backoff = func(_, _ time.Duration, attempt int, _ *http.Response) time.Duration {
		return backoff.NextDelay(attempt)
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{logger.Sugar()}

	return &URLSource{config: config, client: client}
}

func (s *URLSource) Fetch(ctx context.Context, billDate string) ([]byte, error) {
	url := strings.ReplaceAll(s.config.URLTemplate, "{date}", billDate)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeConfigNoEndpoint, "invalid statement URL", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeTransportFailed, "statement download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewDomainError(domain.ErrorCodeTransportFailed, "statement download returned non-2xx").
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.config.MaxBytes+1))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeTransportFailed, "read statement body", err)
	}
	if int64(len(body)) > s.config.MaxBytes {
		return nil, domain.NewDomainError(domain.ErrorCodeProtocolInvalidResponse, fmt.Sprintf("statement larger than %d bytes", s.config.MaxBytes))
	}
	return body, nil
}

// leveledLogger routes retry logs into zap
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
