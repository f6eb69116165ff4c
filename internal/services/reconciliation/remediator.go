package reconciliation

import (
	"context"
	"fmt"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/domain/ports"
	"github.com/kevin07696/cashier-settlement/internal/services/settlement"
	"go.uber.org/zap"
)

// settlementOps is the part of the settlement service remediation drives
type settlementOps interface {
	Refund(ctx context.Context, req settlement.RefundRequest) (*domain.SettlementTicket, error)
	QueryTxnStatus(ctx context.Context, txnNo string) (*domain.SettlementTicket, error)
}

// LedgerRemediator applies remedies by recording them in the ledger and, for
// refund and reconfirmation, by calling the channel through the settlement
// service. Every attempt leaves a remediation entry.
type LedgerRemediator struct {
	trail      ports.RemediationRepository
	settlement settlementOps
	logger     *zap.Logger
}

var _ Remediator = (*LedgerRemediator)(nil)

// NewLedgerRemediator creates a remediator backed by the ledger
func NewLedgerRemediator(trail ports.RemediationRepository, settlement settlementOps, logger *zap.Logger) *LedgerRemediator {
	return &LedgerRemediator{
		trail:      trail,
		settlement: settlement,
		logger:     logger,
	}
}

func (r *LedgerRemediator) Fill(ctx context.Context, rc RemediationContext) error {
	return r.record(ctx, domain.RemedyFill, rc, "filled")
}

func (r *LedgerRemediator) Lose(ctx context.Context, rc RemediationContext) error {
	return r.record(ctx, domain.RemedyLose, rc, "written_off")
}

func (r *LedgerRemediator) Capture(ctx context.Context, rc RemediationContext) error {
	return r.record(ctx, domain.RemedyCapture, rc, "captured")
}

// Offline records the operator override against the fixed external status
func (r *LedgerRemediator) Offline(ctx context.Context, rc RemediationContext) error {
	status := rc.HostStatus
	if status == "" {
		status = domain.HostStatusAccountSuccess
	}
	return r.record(ctx, domain.RemedyOffline, rc, status)
}

// Refund puts the two sides back in line. A sale the channel never saw is
// refunded on the channel under a refund number derived from the error number,
// so a repeated attempt finds the earlier refund. A refund the channel already
// paid out is booked on the platform side only.
func (r *LedgerRemediator) Refund(ctx context.Context, rc RemediationContext) error {
	if rc.BizType.IsDebit() {
		r.logger.Info("Booking channel refund on the platform",
			zap.String("err_no", rc.ErrNo),
			zap.String("refund_no", rc.PlatTxnNo),
			zap.String("org_txn_no", rc.OrgTxnNo),
			zap.String("amount", rc.ErrAmount.String()),
		)
		return r.record(ctx, domain.RemedyRefund, rc, "refund_booked")
	}

	refund, err := r.settlement.Refund(ctx, settlement.RefundRequest{
		TxnNo:    rc.PlatTxnNo,
		RefundNo: rc.ErrNo + "R",
		Amount:   rc.ErrAmount,
	})
	if err != nil {
		r.recordQuietly(ctx, domain.RemedyRefund, rc, "error")
		return fmt.Errorf("remediation refund: %w", err)
	}

	outcome := "refund_" + string(refund.DealStatus)
	if err := r.record(ctx, domain.RemedyRefund, rc, outcome); err != nil {
		return err
	}
	if refund.DealStatus != domain.DealStatusSuccess {
		return domain.NewDomainError(domain.ErrorCodeInternalError, "channel did not accept the remediation refund").
			WithDetail("refund_no", refund.TxnNo).
			WithDetail("deal_status", string(refund.DealStatus))
	}
	return nil
}

// Request asks the channel again for the transaction's state
func (r *LedgerRemediator) Request(ctx context.Context, rc RemediationContext) error {
	ticket, err := r.settlement.QueryTxnStatus(ctx, rc.PlatTxnNo)
	if err != nil {
		r.recordQuietly(ctx, domain.RemedyRequest, rc, "error")
		return fmt.Errorf("remediation reconfirmation: %w", err)
	}
	return r.record(ctx, domain.RemedyRequest, rc, "reconfirmed_"+string(ticket.DealStatus))
}

func (r *LedgerRemediator) record(ctx context.Context, remedy domain.Remedy, rc RemediationContext, outcome string) error {
	entry := &domain.RemediationEntry{
		ErrNo:         rc.ErrNo,
		Remedy:        remedy,
		TxnNo:         rc.PlatTxnNo,
		Amount:        rc.ErrAmount,
		HostFirstTime: rc.HostFirstTime,
		Outcome:       outcome,
	}
	if err := r.trail.AppendRemediation(ctx, entry); err != nil {
		return fmt.Errorf("record %s remediation: %w", remedy, err)
	}
	return nil
}

// recordQuietly keeps the trail when the remedy already failed
func (r *LedgerRemediator) recordQuietly(ctx context.Context, remedy domain.Remedy, rc RemediationContext, outcome string) {
	if err := r.record(ctx, remedy, rc, outcome); err != nil {
		r.logger.Error("Failed to record remediation attempt",
			zap.String("err_no", rc.ErrNo),
			zap.String("remedy", remedy.String()),
			zap.Error(err),
		)
	}
}
