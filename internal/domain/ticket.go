package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxnStatus is the outcome of the last gateway call made for a ticket
type TxnStatus string

const (
	TxnStatusSuccess TxnStatus = "success"
	TxnStatusFail    TxnStatus = "fail"
)

// DealStatus is the settlement disposition of a ticket
type DealStatus string

const (
	DealStatusProcessing DealStatus = "processing"
	DealStatusSuccess    DealStatus = "success"
	DealStatusFail       DealStatus = "fail"
)

// IsTerminal reports whether no further polling can change the disposition
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusSuccess || s == DealStatusFail
}

// TxnStep marks where the payment is in its lifecycle
type TxnStep string

const (
	TxnStepUnpaid   TxnStep = "unpaid"
	TxnStepPaid     TxnStep = "paid"
	TxnStepReversed TxnStep = "reversed"
)

// BizType distinguishes money coming in from money going back out
type BizType string

const (
	BizTypeCreditSale  BizType = "credit_sale"
	BizTypeDebitRefund BizType = "debit_refund"
)

// IsCredit reports a sale-side transaction
func (b BizType) IsCredit() bool { return b == BizTypeCreditSale }

// IsDebit reports a refund-side transaction
func (b BizType) IsDebit() bool { return b == BizTypeDebitRefund }

// SettlementTicket is the per-transaction state the settlement core mutates.
// TxnNo is the business key; the ledger never deletes a ticket.
type SettlementTicket struct {
	TxnNo          string
	ChannelTxnNo   string
	ChannelCode    string
	Amount         decimal.Decimal
	BizType        BizType
	TxnStatus      TxnStatus
	DealStatus     DealStatus
	TxnStep        TxnStep
	SettleDate     string // channel settlement date, YYYYMMDD
	RemainingPolls int

	// Platform bookkeeping carried into remediation
	GlobalSeqNo string
	SubTransSeq string
	OrgTxnNo    string // original sale for refunds, reversals and closes
	SubMchID    string

	UpdatedAt time.Time
}

// MarkPaid records a settled payment
func (t *SettlementTicket) MarkPaid(channelTxnNo, settleDate string) {
	t.TxnStatus = TxnStatusSuccess
	t.DealStatus = DealStatusSuccess
	t.TxnStep = TxnStepPaid
	if channelTxnNo != "" {
		t.ChannelTxnNo = channelTxnNo
	}
	if settleDate != "" {
		t.SettleDate = settleDate
	}
}

// MarkDeclined records a payment the channel answered but did not settle
func (t *SettlementTicket) MarkDeclined() {
	t.TxnStatus = TxnStatusSuccess
	t.DealStatus = DealStatusFail
	t.TxnStep = TxnStepUnpaid
}

// MarkPending records an outcome that is not knowable yet
func (t *SettlementTicket) MarkPending() {
	t.TxnStatus = TxnStatusSuccess
	t.DealStatus = DealStatusProcessing
	t.TxnStep = TxnStepUnpaid
}

// MarkCallFailed records a gateway call that failed at the protocol level
func (t *SettlementTicket) MarkCallFailed() {
	t.TxnStatus = TxnStatusFail
	t.DealStatus = DealStatusFail
}
