package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"go.uber.org/zap"
)

// AppendRemediation records one remediation attempt. ID and CreatedAt are assigned when empty.
func (s *Store) AppendRemediation(ctx context.Context, e *domain.RemediationEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	_, err := s.exec(ctx, s.db.DB(), `
		INSERT INTO remediations (id, err_no, remedy, txn_no, amount, host_first_time, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ErrNo, e.Remedy.String(), e.TxnNo, amountText(e.Amount), e.HostFirstTime, e.Outcome,
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return dbError("append remediation", err)
	}

	s.logger.Info("Remediation recorded",
		zap.String("id", e.ID),
		zap.String("err_no", e.ErrNo),
		zap.String("remedy", e.Remedy.String()),
		zap.String("outcome", e.Outcome),
	)
	return nil
}

// ListRemediations returns the remediation trail for a discrepancy, oldest first
func (s *Store) ListRemediations(ctx context.Context, errNo string) ([]*domain.RemediationEntry, error) {
	ctx, cancel := s.db.ComplexQueryContext(ctx)
	defer cancel()

	rows, err := s.query(ctx, s.db.DB(),
		`SELECT id, err_no, remedy, txn_no, amount, host_first_time, outcome, created_at
		FROM remediations WHERE err_no = ? ORDER BY created_at, id`, errNo)
	if err != nil {
		return nil, dbError("list remediations", err)
	}
	defer rows.Close()

	var entries []*domain.RemediationEntry
	for rows.Next() {
		var (
			e                         domain.RemediationEntry
			remedy, amount, createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ErrNo, &remedy, &e.TxnNo, &amount, &e.HostFirstTime, &e.Outcome, &createdAt); err != nil {
			return nil, dbError("scan remediation", err)
		}
		if e.Remedy, err = domain.ParseRemedy(remedy); err != nil {
			return nil, dbError("scan remediation", err)
		}
		if e.Amount, err = textToDecimal(amount); err != nil {
			return nil, dbError("scan remediation", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, dbError("scan remediation", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate remediations", err)
	}
	return entries, nil
}
