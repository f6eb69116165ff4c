package ledger

import (
	"context"
	"fmt"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"go.uber.org/zap"
)

const ticketColumns = `txn_no, channel_txn_no, channel_code, amount, biz_type, txn_status, deal_status,
	txn_step, settle_date, remaining_polls, global_seq_no, sub_trans_seq, org_txn_no, sub_mch_id, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.SettlementTicket, error) {
	var (
		t                                  domain.SettlementTicket
		amount, updatedAt                  string
		bizType, txnStatus, dealStatus, st string
	)
	if err := row.Scan(
		&t.TxnNo, &t.ChannelTxnNo, &t.ChannelCode, &amount, &bizType, &txnStatus, &dealStatus,
		&st, &t.SettleDate, &t.RemainingPolls, &t.GlobalSeqNo, &t.SubTransSeq, &t.OrgTxnNo, &t.SubMchID, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if t.Amount, err = textToDecimal(amount); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	t.BizType = domain.BizType(bizType)
	t.TxnStatus = domain.TxnStatus(txnStatus)
	t.DealStatus = domain.DealStatus(dealStatus)
	t.TxnStep = domain.TxnStep(st)
	return &t, nil
}

// GetTicket retrieves a ticket by transaction number
func (s *Store) GetTicket(ctx context.Context, txnNo string) (*domain.SettlementTicket, error) {
	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	t, err := scanTicket(s.queryRow(ctx, s.db.DB(),
		`SELECT `+ticketColumns+` FROM settlement_tickets WHERE txn_no = ?`, txnNo))
	if isNoRows(err) {
		return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found").WithDetail("txn_no", txnNo)
	}
	if err != nil {
		return nil, dbError("get ticket", err)
	}
	return t, nil
}

// SaveTicket upserts a ticket by transaction number and stamps UpdatedAt
func (s *Store) SaveTicket(ctx context.Context, t *domain.SettlementTicket) error {
	if t.TxnNo == "" {
		return domain.NewDomainError(domain.ErrorCodeValidationMissingField, "txn_no is required")
	}

	ctx, cancel := s.db.SimpleQueryContext(ctx)
	defer cancel()

	t.UpdatedAt = s.now()
	_, err := s.exec(ctx, s.db.DB(), `
		INSERT INTO settlement_tickets (`+ticketColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (txn_no) DO UPDATE SET
			channel_txn_no = excluded.channel_txn_no,
			channel_code = excluded.channel_code,
			amount = excluded.amount,
			biz_type = excluded.biz_type,
			txn_status = excluded.txn_status,
			deal_status = excluded.deal_status,
			txn_step = excluded.txn_step,
			settle_date = excluded.settle_date,
			remaining_polls = excluded.remaining_polls,
			global_seq_no = excluded.global_seq_no,
			sub_trans_seq = excluded.sub_trans_seq,
			org_txn_no = excluded.org_txn_no,
			sub_mch_id = excluded.sub_mch_id,
			updated_at = excluded.updated_at`,
		t.TxnNo, t.ChannelTxnNo, t.ChannelCode, amountText(t.Amount), string(t.BizType),
		string(t.TxnStatus), string(t.DealStatus), string(t.TxnStep), t.SettleDate, t.RemainingPolls,
		t.GlobalSeqNo, t.SubTransSeq, t.OrgTxnNo, t.SubMchID, formatTime(t.UpdatedAt),
	)
	if err != nil {
		return dbError("save ticket", err)
	}

	s.logger.Debug("Settlement ticket saved",
		zap.String("txn_no", t.TxnNo),
		zap.String("deal_status", string(t.DealStatus)),
		zap.String("txn_step", string(t.TxnStep)),
	)
	return nil
}

// ListTicketsByChannelDate returns every ticket of a channel settled on a date
func (s *Store) ListTicketsByChannelDate(ctx context.Context, channelCode, settleDate string) ([]*domain.SettlementTicket, error) {
	ctx, cancel := s.db.ComplexQueryContext(ctx)
	defer cancel()

	rows, err := s.query(ctx, s.db.DB(),
		`SELECT `+ticketColumns+` FROM settlement_tickets
		WHERE channel_code = ? AND settle_date = ?
		ORDER BY txn_no`, channelCode, settleDate)
	if err != nil {
		return nil, dbError("list tickets", err)
	}
	defer rows.Close()

	var tickets []*domain.SettlementTicket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, dbError("scan ticket", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(fmt.Sprintf("iterate tickets for %s/%s", channelCode, settleDate), err)
	}
	return tickets, nil
}
