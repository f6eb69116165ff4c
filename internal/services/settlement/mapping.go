package settlement

import (
	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Channel trade states reported by order-query
const (
	tradeStateSuccess    = "SUCCESS"
	tradeStateRefund     = "REFUND"
	tradeStateNotPay     = "NOTPAY"
	tradeStateClosed     = "CLOSED"
	tradeStateRevoked    = "REVOKED"
	tradeStateUserPaying = "USERPAYING"
	tradeStatePayError   = "PAYERROR"
)

var hundred = decimal.NewFromInt(100)

// toFen converts a yuan amount into whole fen for the wire, truncating sub-fen digits
func toFen(amount decimal.Decimal) (string, error) {
	fen := amount.Mul(hundred).Truncate(0)
	if !fen.IsPositive() {
		return "", domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "amount must be at least one fen").
			WithDetail("amount", amount.String())
	}
	return fen.String(), nil
}

func channelFailed(resp map[string]string) bool {
	return resp[wxpay.FieldReturnCode] != wxpay.Success
}

func businessSucceeded(resp map[string]string) bool {
	return resp[wxpay.FieldResultCode] == wxpay.Success
}

// applyUnifiedOrder reports whether a prepay id was issued
func applyUnifiedOrder(t *domain.SettlementTicket, resp map[string]string) bool {
	if channelFailed(resp) {
		t.MarkCallFailed()
		return false
	}
	t.TxnStatus = domain.TxnStatusSuccess
	if !businessSucceeded(resp) {
		t.DealStatus = domain.DealStatusFail
		return false
	}
	t.DealStatus = domain.DealStatusProcessing
	t.ChannelTxnNo = resp[wxpay.FieldPrepayID]
	return true
}

// applyMicroPay reports whether the payment is still pending
func applyMicroPay(t *domain.SettlementTicket, resp map[string]string) bool {
	switch {
	case channelFailed(resp):
		t.MarkCallFailed()
		t.TxnStep = domain.TxnStepUnpaid
	case businessSucceeded(resp):
		t.MarkPaid(resp[wxpay.FieldTransactionID], timeutil.SettleDate(resp[wxpay.FieldTimeEnd]))
	case wxpay.IsAmbiguous(resp[wxpay.FieldErrCode]):
		// still paying, or the channel could not tell yet
		t.MarkPending()
		return true
	default:
		t.MarkDeclined()
	}
	return false
}

func applyRefund(t *domain.SettlementTicket, resp map[string]string) {
	if channelFailed(resp) {
		t.MarkCallFailed()
		return
	}
	t.TxnStatus = domain.TxnStatusSuccess
	if businessSucceeded(resp) {
		t.DealStatus = domain.DealStatusSuccess
		t.ChannelTxnNo = resp[wxpay.FieldRefundID]
		return
	}
	t.DealStatus = domain.DealStatusFail
}

// applyReversal covers both reverse and close
func applyReversal(t *domain.SettlementTicket, resp map[string]string) {
	if channelFailed(resp) {
		t.MarkCallFailed()
		t.TxnStep = domain.TxnStepUnpaid
		return
	}
	t.TxnStatus = domain.TxnStatusSuccess
	if businessSucceeded(resp) {
		t.DealStatus = domain.DealStatusSuccess
		t.TxnStep = domain.TxnStepReversed
		return
	}
	t.DealStatus = domain.DealStatusFail
	t.TxnStep = domain.TxnStepUnpaid
}

// QueryOutcome is the settlement reading of an order-query response
type QueryOutcome int

const (
	QueryPending QueryOutcome = iota
	QueryPaid
	QueryFailed
	QueryCallFailed
)

func (o QueryOutcome) String() string {
	switch o {
	case QueryPaid:
		return "paid"
	case QueryFailed:
		return "failed"
	case QueryCallFailed:
		return "call_failed"
	default:
		return "pending"
	}
}

type queryResult struct {
	outcome      QueryOutcome
	channelTxnNo string
	settleDate   string
}

// classifyQuery reads an order-query response. Trade states that mean the
// customer has not paid never count as settled.
func classifyQuery(resp map[string]string) queryResult {
	if channelFailed(resp) {
		return queryResult{outcome: QueryCallFailed}
	}

	switch resp[wxpay.FieldResultCode] {
	case wxpay.Success:
	case wxpay.Fail:
		return queryResult{outcome: QueryFailed}
	default:
		return queryResult{outcome: QueryPending}
	}

	switch resp[wxpay.FieldTradeState] {
	case tradeStateSuccess, tradeStateRefund, "":
		return queryResult{
			outcome:      QueryPaid,
			channelTxnNo: resp[wxpay.FieldTransactionID],
			settleDate:   timeutil.SettleDate(resp[wxpay.FieldTimeEnd]),
		}
	case tradeStateClosed, tradeStateRevoked, tradeStatePayError:
		return queryResult{outcome: QueryFailed}
	case tradeStateUserPaying, tradeStateNotPay:
		return queryResult{outcome: QueryPending}
	default:
		// unknown states never settle a ticket
		return queryResult{outcome: QueryPending}
	}
}

// applyQuery moves the ticket per a classified query and reports whether the
// ticket reached a terminal disposition. A failed query call says nothing
// about the payment, so only txn_status records it.
func applyQuery(t *domain.SettlementTicket, q queryResult) bool {
	switch q.outcome {
	case QueryPaid:
		t.MarkPaid(q.channelTxnNo, q.settleDate)
		return true
	case QueryFailed:
		t.MarkDeclined()
		return true
	case QueryCallFailed:
		t.TxnStatus = domain.TxnStatusFail
		return false
	default:
		t.MarkPending()
		return false
	}
}
