package ledger

import (
	"context"

	"github.com/kevin07696/cashier-settlement/internal/domain"
)

// GetDiscrepancy retrieves a discrepancy record by error number
func (s *Store) GetDiscrepancy(ctx context.Context, errNo string) (*domain.DiscrepancyRecord, error) {
	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	var (
		d                       domain.DiscrepancyRecord
		errType, amount, status string
	)
	err := s.queryRow(ctx, s.db.DB(),
		`SELECT err_no, plat_txn_no, channel_code, err_type, err_amount, status
		FROM discrepancies WHERE err_no = ?`, errNo,
	).Scan(&d.ErrNo, &d.PlatTxnNo, &d.ChannelCode, &errType, &amount, &status)
	if isNoRows(err) {
		return nil, domain.NewDomainError(domain.ErrorCodeDiscrepancyNotFound, "discrepancy record not found").WithDetail("err_no", errNo)
	}
	if err != nil {
		return nil, dbError("get discrepancy", err)
	}

	if d.ErrAmount, err = textToDecimal(amount); err != nil {
		return nil, dbError("get discrepancy", err)
	}
	d.ErrType = domain.Direction(errType)
	d.Status = domain.Disposition(status)
	return &d, nil
}

// SaveDiscrepancy upserts a discrepancy record by error number
func (s *Store) SaveDiscrepancy(ctx context.Context, d *domain.DiscrepancyRecord) error {
	if d.ErrNo == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "err_no is required")
	}
	if d.Status == "" {
		d.Status = domain.DispositionOpen
	}

	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	_, err := s.exec(ctx, s.db.DB(), `
		INSERT INTO discrepancies (err_no, plat_txn_no, channel_code, err_type, err_amount, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (err_no) DO UPDATE SET
			plat_txn_no = excluded.plat_txn_no,
			channel_code = excluded.channel_code,
			err_type = excluded.err_type,
			err_amount = excluded.err_amount,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		d.ErrNo, d.PlatTxnNo, d.ChannelCode, string(d.ErrType), amountText(d.ErrAmount),
		string(d.Status), formatTime(s.now()),
	)
	if err != nil {
		return dbError("save discrepancy", err)
	}
	return nil
}

// UpdateDiscrepancyStatus moves a record to a new disposition
func (s *Store) UpdateDiscrepancyStatus(ctx context.Context, errNo string, status domain.Disposition) error {
	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	res, err := s.exec(ctx, s.db.DB(),
		`UPDATE discrepancies SET status = ?, updated_at = ? WHERE err_no = ?`,
		string(status), formatTime(s.now()), errNo)
	if err != nil {
		return dbError("update discrepancy status", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NewDomainError(domain.ErrorCodeDiscrepancyNotFound, "discrepancy record not found").WithDetail("err_no", errNo)
	}
	return nil
}
