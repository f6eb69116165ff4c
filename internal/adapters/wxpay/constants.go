package wxpay

import "time"

// SignType selects the signature algorithm
type SignType string

const (
	SignTypeMD5        SignType = "MD5"
	SignTypeHMACSHA256 SignType = "HMAC-SHA256"
)

// Wire field names
const (
	FieldAppID         = "appid"
	FieldMchID         = "mch_id"
	FieldSubMchID      = "sub_mch_id"
	FieldNonceStr      = "nonce_str"
	FieldSign          = "sign"
	FieldSignType      = "sign_type"
	FieldReturnCode    = "return_code"
	FieldReturnMsg     = "return_msg"
	FieldResultCode    = "result_code"
	FieldResultMsg     = "result_msg"
	FieldErrCode       = "err_code"
	FieldErrCodeDes    = "err_code_des"
	FieldTradeState    = "trade_state"
	FieldTransactionID = "transaction_id"
	FieldOutTradeNo    = "out_trade_no"
	FieldOutRefundNo   = "out_refund_no"
	FieldRefundID      = "refund_id"
	FieldPrepayID      = "prepay_id"
	FieldTimeEnd       = "time_end"
	FieldTotalFee      = "total_fee"
	FieldRefundFee     = "refund_fee"
	FieldBody          = "body"
	FieldAuthCode      = "auth_code"
	FieldSpbillIP      = "spbill_create_ip"
	FieldNotifyURL     = "notify_url"
	FieldTradeType     = "trade_type"
	FieldSubOpenID     = "sub_openid"
	FieldBillDate      = "bill_date"
	FieldBillType      = "bill_type"
	FieldData          = "data"
)

// Status values
const (
	Success    = "SUCCESS"
	Fail       = "FAIL"
	UserPaying = "USERPAYING"
	SystemErr  = "SYSTEMERROR"
	BankErr    = "BANKERROR"
)

// Channel domains
const (
	PrimaryDomain   = "api.mch.weixin.qq.com"
	AlternateDomain = "api2.mch.weixin.qq.com"
)

// Operation paths, relative to the endpoint host
const (
	PathMicroPay        = "/pay/micropay"
	PathUnifiedOrder    = "/pay/unifiedorder"
	PathOrderQuery      = "/pay/orderquery"
	PathReverse         = "/secapi/pay/reverse"
	PathCloseOrder      = "/pay/closeorder"
	PathRefund          = "/secapi/pay/refund"
	PathRefundQuery     = "/pay/refundquery"
	PathDownloadBill    = "/pay/downloadbill"
	PathReport          = "/payitil/report"
	PathShortURL        = "/tools/shorturl"
	PathAuthCodeOpenID  = "/tools/authcodetoopenid"
	PathSubMchAdd       = "/secapi/mch/submchmanage?action=add"
	PathSubMchQuery     = "/secapi/mch/submchmanage?action=query"
	sandboxPathPrefix   = "/sandboxnew"
	defaultClientHeader = "cashier-settlement-go/1.0"
)

// Timing defaults for the card-present retry loop
const (
	DefaultConnectTimeout = 8000 * time.Millisecond
	DefaultReadTimeout    = 10000 * time.Millisecond
	DefaultPosBudget      = 60000 * time.Millisecond
	minPosReadTimeout     = 1000 * time.Millisecond
	minPosRemaining       = 100 * time.Millisecond
	posLongBackoff        = 5000 * time.Millisecond
	posShortBackoff       = 1000 * time.Millisecond
)

// ambiguousErrCodes are payment-level codes whose true outcome is not yet known
var ambiguousErrCodes = map[string]bool{
	SystemErr:  true,
	BankErr:    true,
	UserPaying: true,
}

// IsAmbiguous reports whether err_code leaves the payment outcome open
func IsAmbiguous(errCode string) bool {
	return ambiguousErrCodes[errCode]
}
