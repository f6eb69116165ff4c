package reconciliation

import (
	"context"
	"strings"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/domain/ports"
	"github.com/kevin07696/cashier-settlement/internal/services/settlement"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"go.uber.org/zap"
)

// Remediation outcomes, also used as metric labels
const (
	outcomeDealt        = "dealt"
	outcomeDealFailed   = "deal_failed"
	outcomeNotSupported = "not_supported"
	outcomeAlreadyDealt = "already_dealt"
)

// Dispatcher routes a remediation request for a discrepancy to exactly one
// remedy, or rejects it.
//
// Requests for the same error number are serialized, so a record can only
// be dealt once even under concurrent operators.
type Dispatcher struct {
	discrepancies ports.DiscrepancyRepository
	tickets       ports.TicketRepository
	remediator    Remediator
	lanes         *settlement.Lanes
	logger        *zap.Logger
}

// NewDispatcher creates a new reconciliation dispatcher
func NewDispatcher(discrepancies ports.DiscrepancyRepository, tickets ports.TicketRepository, remediator Remediator, lanes *settlement.Lanes, logger *zap.Logger) *Dispatcher {
	if lanes == nil {
		lanes = settlement.NewLanes()
	}
	return &Dispatcher{
		discrepancies: discrepancies,
		tickets:       tickets,
		remediator:    remediator,
		lanes:         lanes,
		logger:        logger,
	}
}

// Deal applies remedy to discrepancy errNo.
//
// Rejections (record already dealt, remedy invalid for the record) come back
// as a result, not an error. An error means a lookup failed or the remedy
// itself failed; in the latter case the record is left deal_failed.
func (d *Dispatcher) Deal(ctx context.Context, errNo string, remedy domain.Remedy) (domain.Result, error) {
	if strings.TrimSpace(errNo) == "" {
		return domain.Result{}, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "err_no is required").
			WithDetail("field", "err_no")
	}

	var result domain.Result
	err := d.lanes.Do(ctx, "discrepancy:"+errNo, func(ctx context.Context) error {
		var err error
		result, err = d.deal(ctx, errNo, remedy)
		return err
	})
	return result, err
}

// deal must run inside the discrepancy's lane
func (d *Dispatcher) deal(ctx context.Context, errNo string, remedy domain.Remedy) (domain.Result, error) {
	record, err := d.discrepancies.GetDiscrepancy(ctx, errNo)
	if err != nil {
		return domain.Result{}, err
	}

	if record.Status == domain.DispositionDealt {
		d.logger.Info("Discrepancy already dealt, remedy rejected",
			zap.String("err_no", errNo),
			zap.String("remedy", remedy.String()),
		)
		observability.RecordRemediation(remedy.String(), outcomeAlreadyDealt)
		return domain.AlreadyDealt(), nil
	}

	rc, err := d.remediationContext(ctx, record)
	if err != nil {
		return domain.Result{}, err
	}

	entry, ok := remedyTable[remedy]
	if !ok || !entry.valid(rc.BizType, rc.ErrType) {
		d.logger.Info("Remedy not supported for discrepancy",
			zap.String("err_no", errNo),
			zap.String("remedy", remedy.String()),
			zap.String("biz_type", string(rc.BizType)),
			zap.String("err_type", string(rc.ErrType)),
		)
		observability.RecordRemediation(remedy.String(), outcomeNotSupported)
		return domain.NotSupported(), nil
	}
	if remedy == domain.RemedyOffline {
		rc.HostStatus = domain.HostStatusAccountSuccess
	}

	if err := entry.invoke(d.remediator)(ctx, rc); err != nil {
		d.logger.Error("Remediation failed",
			zap.String("err_no", errNo),
			zap.String("remedy", remedy.String()),
			zap.Error(err),
		)
		observability.RecordRemediation(remedy.String(), outcomeDealFailed)
		if uerr := d.discrepancies.UpdateDiscrepancyStatus(ctx, errNo, domain.DispositionDealFailed); uerr != nil {
			d.logger.Error("Failed to mark discrepancy deal_failed", zap.String("err_no", errNo), zap.Error(uerr))
		}
		return domain.Result{}, err
	}

	if err := d.discrepancies.UpdateDiscrepancyStatus(ctx, errNo, domain.DispositionDealt); err != nil {
		return domain.Result{}, err
	}
	observability.RecordRemediation(remedy.String(), outcomeDealt)
	d.logger.Info("Discrepancy dealt",
		zap.String("err_no", errNo),
		zap.String("remedy", remedy.String()),
		zap.Bool("host_first_time", rc.HostFirstTime),
	)

	return domain.OK(map[string]string{
		"err_no":    errNo,
		"deal_type": remedy.String(),
		"status":    string(domain.DispositionDealt),
	}), nil
}

// remediationContext gathers the record and, when the platform holds the
// transaction, its bookkeeping. Without a platform transaction the business
// type stays empty and only unconditional remedies apply.
func (d *Dispatcher) remediationContext(ctx context.Context, record *domain.DiscrepancyRecord) (RemediationContext, error) {
	rc := RemediationContext{
		ErrNo:         record.ErrNo,
		ErrAmount:     record.ErrAmount,
		ChannelCode:   record.ChannelCode,
		PlatTxnNo:     record.PlatTxnNo,
		ErrType:       record.ErrType,
		HostFirstTime: record.Status != domain.DispositionDealFailed,
	}
	if record.PlatTxnNo == "" {
		return rc, nil
	}

	ticket, err := d.tickets.GetTicket(ctx, record.PlatTxnNo)
	if domain.IsNotFoundError(err) {
		return rc, nil
	}
	if err != nil {
		return rc, err
	}
	rc.GlobalSeqNo = ticket.GlobalSeqNo
	rc.SubTransSeq = ticket.SubTransSeq
	rc.BizType = ticket.BizType
	rc.OrgTxnNo = ticket.OrgTxnNo
	return rc, nil
}
