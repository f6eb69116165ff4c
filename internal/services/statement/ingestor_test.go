package statement

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kevin07696/cashier-settlement/internal/adapters/database"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ledger"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSource struct {
	raw []byte
	err error
}

func (s staticSource) Fetch(context.Context, string) ([]byte, error) {
	return s.raw, s.err
}

func newTestLedger(t *testing.T) *ledger.Store {
	t.Helper()
	cfg := database.DefaultConfig(database.DriverSQLite, ":memory:")
	cfg.AutoMigrate = true

	db, err := database.NewAdapter(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ledger.NewStore(db, zap.NewNop())
}

func saveTicket(t *testing.T, store *ledger.Store, txnNo, settleDate string, status domain.DealStatus) {
	t.Helper()
	require.NoError(t, store.SaveTicket(context.Background(), &domain.SettlementTicket{
		TxnNo:       txnNo,
		ChannelCode: "wxpay",
		Amount:      decimal.NewFromInt(1),
		BizType:     domain.BizTypeCreditSale,
		TxnStatus:   domain.TxnStatusSuccess,
		DealStatus:  status,
		TxnStep:     domain.TxnStepPaid,
		SettleDate:  settleDate,
	}))
}

func TestIngestor_BuildsBothSides(t *testing.T) {
	store := newTestLedger(t)
	saveTicket(t, store, "T1", "20240105", domain.DealStatusSuccess)
	saveTicket(t, store, "T2", "20240105", domain.DealStatusProcessing)
	saveTicket(t, store, "T3", "20240104", domain.DealStatusSuccess)

	text := statementText(2,
		billRow("2024-01-05 10:15:30", "T1", "SUCCESS", "1.00"),
		billRow("2024-01-05 10:20:00", "T4", "SUCCESS", "2.00"),
	)

	ingestor := NewIngestor(store, "", zap.NewNop())
	ingestor.Register("wxpay", staticSource{raw: []byte(text)}, WxPayBillFormat())

	cmp, err := ingestor.Ingest(context.Background(), "wxpay", "20240105")
	require.NoError(t, err)
	assert.Equal(t, "wxpay", cmp.ChannelCode)
	assert.Equal(t, "20240105", cmp.BillDate)

	assert.Len(t, cmp.Channel, 2)
	assert.Contains(t, cmp.Channel, "T4")
	assert.Equal(t, map[string]string{"T1": "success", "T2": "processing"}, cmp.Platform)
}

func TestIngestor_ArchivesDownload(t *testing.T) {
	store := newTestLedger(t)
	dir := t.TempDir()
	raw := zipOf(t, map[string]string{"bill.csv": statementText(1)}, "bill.csv")

	ingestor := NewIngestor(store, dir, zap.NewNop())
	ingestor.Register("alipay", staticSource{raw: raw}, DefaultFormat())

	cmp, err := ingestor.Ingest(context.Background(), "alipay", "20240105")
	require.NoError(t, err)
	assert.Empty(t, cmp.Channel)

	archived, err := os.ReadFile(filepath.Join(dir, "alipay", "20240105.zip"))
	require.NoError(t, err)
	assert.Equal(t, raw, archived)
}

func TestIngestor_Failures(t *testing.T) {
	store := newTestLedger(t)
	ingestor := NewIngestor(store, "", zap.NewNop())
	boom := errors.New("connection reset")
	ingestor.Register("wxpay", staticSource{err: boom}, DefaultFormat())
	ingestor.Register("broken", staticSource{raw: []byte("PK\x03\x04junk")}, DefaultFormat())

	_, err := ingestor.Ingest(context.Background(), "wxpay", "20240105")
	assert.ErrorIs(t, err, boom)

	_, err = ingestor.Ingest(context.Background(), "broken", "20240105")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeProtocolDecodeFailed))

	_, err = ingestor.Ingest(context.Background(), "unknown", "20240105")
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeOperationNotSupported))

	_, err = ingestor.Ingest(context.Background(), "wxpay", "2024-01-05")
	assert.True(t, domain.IsValidationError(err))
}

func TestIngestor_Channels(t *testing.T) {
	ingestor := NewIngestor(nil, "", zap.NewNop())
	ingestor.Register("wxpay", staticSource{}, DefaultFormat())
	ingestor.Register("alipay", staticSource{}, DefaultFormat())

	assert.Equal(t, []string{"alipay", "wxpay"}, ingestor.Channels())
}
