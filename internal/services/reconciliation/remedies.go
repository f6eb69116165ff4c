package reconciliation

import (
	"context"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// RemediationContext is everything a remediation needs to move money or
// ledger state for one discrepancy
type RemediationContext struct {
	ErrNo         string
	ErrAmount     decimal.Decimal
	ChannelCode   string
	PlatTxnNo     string
	ErrType       domain.Direction
	HostFirstTime bool

	// Present only when the platform holds the transaction
	GlobalSeqNo string
	SubTransSeq string
	BizType     domain.BizType
	OrgTxnNo    string // sale a refund ticket belongs to

	// Fixed external status applied by offline resolution
	HostStatus string
}

// Remediator carries out remedies against the ledger and the channel
type Remediator interface {
	Fill(ctx context.Context, rc RemediationContext) error
	Refund(ctx context.Context, rc RemediationContext) error
	Request(ctx context.Context, rc RemediationContext) error
	Lose(ctx context.Context, rc RemediationContext) error
	Capture(ctx context.Context, rc RemediationContext) error
	Offline(ctx context.Context, rc RemediationContext) error
}

// rule decides whether a remedy applies to a (business type, direction) pair
type rule func(biz domain.BizType, dir domain.Direction) bool

// movedOneSide: a sale the channel never saw, or a refund the platform never booked
func movedOneSide(biz domain.BizType, dir domain.Direction) bool {
	return (biz.IsCredit() && dir == domain.PlatformHasChannelMissing) ||
		(biz.IsDebit() && dir == domain.ChannelHasPlatformMissing)
}

// unconfirmed: a sale the platform never booked, or a refund the channel never saw
func unconfirmed(biz domain.BizType, dir domain.Direction) bool {
	return (biz.IsCredit() && dir == domain.ChannelHasPlatformMissing) ||
		(biz.IsDebit() && dir == domain.PlatformHasChannelMissing)
}

func always(domain.BizType, domain.Direction) bool { return true }

type remedyFunc func(context.Context, RemediationContext) error

type remedyEntry struct {
	valid  rule
	invoke func(r Remediator) remedyFunc
}

// remedyTable is the closed set of remedies. A remedy missing here is never
// dispatched.
var remedyTable = map[domain.Remedy]remedyEntry{
	domain.RemedyFill:    {valid: movedOneSide, invoke: func(r Remediator) remedyFunc { return r.Fill }},
	domain.RemedyCapture: {valid: movedOneSide, invoke: func(r Remediator) remedyFunc { return r.Capture }},
	domain.RemedyRefund:  {valid: movedOneSide, invoke: func(r Remediator) remedyFunc { return r.Refund }},
	domain.RemedyRequest: {valid: unconfirmed, invoke: func(r Remediator) remedyFunc { return r.Request }},
	domain.RemedyLose:    {valid: unconfirmed, invoke: func(r Remediator) remedyFunc { return r.Lose }},
	domain.RemedyOffline: {valid: always, invoke: func(r Remediator) remedyFunc { return r.Offline }},
}

// Allowed reports whether remedy may be applied to a discrepancy of the given
// business type and direction
func Allowed(remedy domain.Remedy, biz domain.BizType, dir domain.Direction) bool {
	entry, ok := remedyTable[remedy]
	return ok && entry.valid(biz, dir)
}
