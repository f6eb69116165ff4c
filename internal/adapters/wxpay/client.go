package wxpay

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"github.com/kevin07696/cashier-settlement/pkg/resilience"
	"go.uber.org/zap"
)

// Credentials identify the merchant to the channel. They are fixed for the process lifetime.
type Credentials struct {
	AppID string
	MchID string
	// Key is the shared signing secret
	Key string
	// Certificate is the PKCS#12 store, unlocked by MchID
	Certificate []byte
	SignType    SignType
}

// Validate fails with a configuration fault when a required field is missing
func (c Credentials) Validate() error {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(c.AppID) == "" {
		missing = append(missing, "app id")
	}
	if strings.TrimSpace(c.MchID) == "" {
		missing = append(missing, "mch id")
	}
	if c.Key == "" {
		missing = append(missing, "signing key")
	}
	if len(missing) > 0 {
		return domain.NewDomainError(domain.ErrorCodeConfigMissingCredentials,
			"gateway credentials missing: "+strings.Join(missing, ", "))
	}
	return nil
}

// ClientConfig contains configuration for the gateway client
type ClientConfig struct {
	Credentials Credentials

	// Sandbox routes every call through the sandbox paths and forces MD5 signing
	Sandbox bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// PosBudget bounds the whole card-present retry loop
	PosBudget time.Duration
}

// DefaultClientConfig returns the channel's default timings
func DefaultClientConfig(creds Credentials) *ClientConfig {
	return &ClientConfig{
		Credentials:    creds,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		PosBudget:      DefaultPosBudget,
	}
}

type operation struct {
	name string
	path string
	// cert presents the merchant client certificate
	cert bool
	// legacy signs with the merchant-management algorithm and no nonce
	legacy bool
}

var (
	opMicroPay       = operation{name: "micropay", path: PathMicroPay}
	opUnifiedOrder   = operation{name: "unifiedorder", path: PathUnifiedOrder}
	opOrderQuery     = operation{name: "orderquery", path: PathOrderQuery}
	opReverse        = operation{name: "reverse", path: PathReverse, cert: true}
	opCloseOrder     = operation{name: "closeorder", path: PathCloseOrder}
	opRefund         = operation{name: "refund", path: PathRefund, cert: true}
	opRefundQuery    = operation{name: "refundquery", path: PathRefundQuery}
	opDownloadBill   = operation{name: "downloadbill", path: PathDownloadBill}
	opReport         = operation{name: "report", path: PathReport}
	opShortURL       = operation{name: "shorturl", path: PathShortURL}
	opAuthCodeOpenID = operation{name: "authcodetoopenid", path: PathAuthCodeOpenID}
	opSubMchAdd      = operation{name: "submch_add", path: PathSubMchAdd, cert: true, legacy: true}
	opSubMchQuery    = operation{name: "submch_query", path: PathSubMchQuery, cert: true, legacy: true}
)

// Client composes codec, transport and failover into one call per gateway operation.
// Request maps are built fresh per call and never shared between calls.
type Client struct {
	config    *ClientConfig
	signType  SignType
	transport Poster
	failover  FailoverPolicy
	backoff   resilience.BudgetBackoff
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a gateway client. Incomplete credentials or timings are a
// configuration fault and no client is returned.
func NewClient(config *ClientConfig, transport Poster, failover FailoverPolicy, logger *zap.Logger) (*Client, error) {
	if err := config.Credentials.Validate(); err != nil {
		return nil, err
	}
	if transport == nil || failover == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeConfigNoEndpoint, "gateway client needs a transport and a failover policy")
	}
	if config.ConnectTimeout < 10*time.Millisecond || config.ReadTimeout < 10*time.Millisecond {
		return nil, domain.NewDomainError(domain.ErrorCodeConfigMissingCredentials, "gateway timeouts must be at least 10ms")
	}

	if config.PosBudget <= 0 {
		config.PosBudget = DefaultPosBudget
	}

	signType := config.Credentials.SignType
	if signType == "" {
		signType = SignTypeHMACSHA256
	}
	if config.Sandbox {
		signType = SignTypeMD5
	}
	if _, err := Sign(nil, config.Credentials.Key, signType); err != nil {
		return nil, domain.WrapError(domain.ErrorCodeConfigMissingCredentials, "invalid sign type", err)
	}

	return &Client{
		config:    config,
		signType:  signType,
		transport: transport,
		failover:  failover,
		backoff:   resilience.BudgetBackoff{Long: posLongBackoff, Short: posShortBackoff},
		logger:    logger,
		now:       time.Now,
		sleep:     resilience.Sleep,
	}, nil
}

// SignType returns the algorithm used for requests and response verification
func (c *Client) SignType() SignType {
	return c.signType
}

// MchID returns the merchant identifier
func (c *Client) MchID() string {
	return c.config.Credentials.MchID
}

// MicroPay submits a card-present payment once
func (c *Client) MicroPay(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opMicroPay, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// UnifiedOrder places an in-app or QR order
func (c *Client) UnifiedOrder(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opUnifiedOrder, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// OrderQuery asks the channel for an order's settlement state
func (c *Client) OrderQuery(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opOrderQuery, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// Reverse cancels a card-present payment. Requires the client certificate.
func (c *Client) Reverse(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opReverse, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// CloseOrder closes an unpaid order
func (c *Client) CloseOrder(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opCloseOrder, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// Refund returns funds for a paid order. Requires the client certificate.
func (c *Client) Refund(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opRefund, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// RefundQuery asks the channel for a refund's state
func (c *Client) RefundQuery(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opRefundQuery, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// Report sends a transaction-assurance report. The response is decoded but not verified.
func (c *Client) Report(ctx context.Context, req map[string]string) (map[string]string, error) {
	start := c.now()
	raw, err := c.send(ctx, opReport, c.fillRequestData(req), c.config.ConnectTimeout, c.config.ReadTimeout)
	if err != nil {
		c.record(opReport, nil, err, start)
		return nil, err
	}
	resp, err := Decode(raw)
	c.record(opReport, resp, err, start)
	return resp, err
}

// ShortURL converts a long payment URL
func (c *Client) ShortURL(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opShortURL, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// AuthCodeToOpenID exchanges a card-present auth code for the payer's open id
func (c *Client) AuthCodeToOpenID(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opAuthCodeOpenID, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// AddSubMerchant registers a sub-merchant. Requires the client certificate.
func (c *Client) AddSubMerchant(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opSubMchAdd, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// QuerySubMerchant looks up a sub-merchant. Requires the client certificate.
func (c *Client) QuerySubMerchant(ctx context.Context, req map[string]string) (map[string]string, error) {
	return c.call(ctx, opSubMchQuery, req, c.config.ConnectTimeout, c.config.ReadTimeout)
}

// DownloadBill fetches the statement for bill_date. On success the statement body is
// returned under the data field with return_code SUCCESS; an error document is decoded as is.
func (c *Client) DownloadBill(ctx context.Context, req map[string]string) (map[string]string, error) {
	start := c.now()
	raw, err := c.send(ctx, opDownloadBill, c.fillRequestData(req), c.config.ConnectTimeout, c.config.ReadTimeout)
	if err != nil {
		c.record(opDownloadBill, nil, err, start)
		return nil, err
	}

	if bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("<")) {
		resp, err := Decode(raw)
		c.record(opDownloadBill, resp, err, start)
		return resp, err
	}

	// archived statements are binary and must not be trimmed
	data := string(raw)
	if utf8.Valid(raw) {
		data = strings.TrimSpace(data)
	}
	resp := map[string]string{
		FieldReturnCode: Success,
		FieldReturnMsg:  "ok",
		FieldData:       data,
	}
	c.record(opDownloadBill, resp, nil, start)
	return resp, nil
}

// JSAPIPayParams builds the signed bundle an in-app payer needs to confirm a prepaid order
func (c *Client) JSAPIPayParams(prepayID string) (map[string]string, error) {
	params := map[string]string{
		"appId":     c.config.Credentials.AppID,
		"nonceStr":  NewNonce(),
		"package":   "prepay_id=" + prepayID,
		"signType":  string(SignTypeMD5),
		"timeStamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	sign, err := Sign(params, c.config.Credentials.Key, SignTypeMD5)
	if err != nil {
		return nil, err
	}
	params["paySign"] = sign
	return params, nil
}

func (c *Client) call(ctx context.Context, op operation, req map[string]string, connectTimeout, readTimeout time.Duration) (map[string]string, error) {
	start := c.now()

	var params map[string]string
	if op.legacy {
		params = c.fillLegacyRequestData(req)
	} else {
		params = c.fillRequestData(req)
	}

	c.logger.Info("Processing gateway request",
		zap.String("operation", op.name),
		zap.String("out_trade_no", params[FieldOutTradeNo]),
	)

	raw, err := c.send(ctx, op, params, connectTimeout, readTimeout)
	if err != nil {
		c.record(op, nil, err, start)
		return nil, err
	}

	resp, err := c.processResponse(raw)
	c.record(op, resp, err, start)
	return resp, err
}

// fillRequestData copies req and adds the identity fields, a fresh nonce and the signature
func (c *Client) fillRequestData(req map[string]string) map[string]string {
	params := make(map[string]string, len(req)+5)
	for k, v := range req {
		params[k] = v
	}
	params[FieldAppID] = c.config.Credentials.AppID
	params[FieldMchID] = c.config.Credentials.MchID
	params[FieldNonceStr] = NewNonce()
	params[FieldSignType] = string(c.signType)
	delete(params, FieldSign)

	// sign type was validated at construction
	sign, _ := Sign(params, c.config.Credentials.Key, c.signType)
	params[FieldSign] = sign
	return params
}

func (c *Client) fillLegacyRequestData(req map[string]string) map[string]string {
	params := make(map[string]string, len(req)+3)
	for k, v := range req {
		params[k] = v
	}
	if params[FieldAppID] == "" {
		params[FieldAppID] = c.config.Credentials.AppID
	}
	if params[FieldMchID] == "" {
		params[FieldMchID] = c.config.Credentials.MchID
	}
	delete(params, FieldSign)
	params[FieldSign] = SignLegacy(params, c.config.Credentials.Key)
	return params
}

// send encodes params, posts them to the chosen endpoint and reports the outcome to the failover policy
func (c *Client) send(ctx context.Context, op operation, params map[string]string, connectTimeout, readTimeout time.Duration) ([]byte, error) {
	body, err := Encode(params)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeValidationMissingField, "request cannot be encoded", err)
	}

	if op.cert && !c.canPresentCertificate() {
		return nil, domain.NewDomainError(domain.ErrorCodeConfigCertificateInvalid,
			"operation requires a client certificate but none is configured").
			WithDetail("operation", op.name)
	}

	endpoint, err := c.failover.ChooseEndpoint()
	if err != nil {
		return nil, err
	}

	path := op.path
	if c.config.Sandbox {
		path = sandboxPathPrefix + path
	}

	start := c.now()
	raw, err := c.transport.Post(ctx, PostRequest{
		Host:           endpoint.Host,
		Path:           path,
		Body:           body,
		ConnectTimeout: connectTimeout,
		ReadTimeout:    readTimeout,
		UseClientCert:  op.cert,
	})
	elapsed := c.now().Sub(start)

	// configuration faults say nothing about the endpoint's health
	if domain.IsConfigurationFault(err) {
		c.failover.Release(endpoint.Host)
	} else {
		c.failover.Report(endpoint.Host, elapsed, err)
	}
	if err != nil {
		c.logger.Warn("Gateway request failed",
			zap.String("operation", op.name),
			zap.String("host", endpoint.Host),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("Gateway response received",
		zap.String("operation", op.name),
		zap.String("host", endpoint.Host),
		zap.Duration("elapsed", elapsed),
		zap.ByteString("body", raw),
	)
	return raw, nil
}

// canPresentCertificate asks transports that know whether they hold a client
// certificate; others are trusted to fail in Post
func (c *Client) canPresentCertificate() bool {
	if t, ok := c.transport.(interface{ HasClientCertificate() bool }); ok {
		return t.HasClientCertificate()
	}
	return true
}

// processResponse decodes a response and verifies it when the channel reports success
func (c *Client) processResponse(raw []byte) (map[string]string, error) {
	resp, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	returnCode, ok := resp[FieldReturnCode]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeProtocolInvalidResponse, "response has no return_code")
	}

	switch returnCode {
	case Fail:
		return resp, nil
	case Success:
		if !Verify(resp, c.config.Credentials.Key, c.signType) {
			return nil, domain.NewDomainError(domain.ErrorCodeProtocolSignatureInvalid, "gateway response signature is invalid").
				WithDetail("return_code", returnCode)
		}
		return resp, nil
	default:
		return nil, domain.NewDomainError(domain.ErrorCodeProtocolInvalidResponse,
			fmt.Sprintf("unexpected return_code %q", returnCode))
	}
}

func (c *Client) record(op operation, resp map[string]string, err error, start time.Time) {
	outcome := "error"
	if err == nil {
		outcome = Fail
		if resp[FieldReturnCode] == Success && (resp[FieldResultCode] == "" || resp[FieldResultCode] == Success) {
			outcome = Success
		}
		outcome = strings.ToLower(outcome)
	}
	observability.RecordGatewayOperation(op.name, outcome, c.now().Sub(start))
}
