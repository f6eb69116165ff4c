package reconciliation

import (
	"context"
	"testing"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/services/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockSettlement mocks the settlement operations remediation drives
type MockSettlement struct {
	mock.Mock
}

func (m *MockSettlement) Refund(ctx context.Context, req settlement.RefundRequest) (*domain.SettlementTicket, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementTicket), args.Error(1)
}

func (m *MockSettlement) QueryTxnStatus(ctx context.Context, txnNo string) (*domain.SettlementTicket, error) {
	args := m.Called(ctx, txnNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementTicket), args.Error(1)
}

func sampleContext() RemediationContext {
	return RemediationContext{
		ErrNo:         "E1",
		ErrAmount:     decimal.RequireFromString("5.00"),
		ChannelCode:   "wxpay",
		PlatTxnNo:     "T1",
		ErrType:       domain.PlatformHasChannelMissing,
		HostFirstTime: true,
		BizType:       domain.BizTypeCreditSale,
	}
}

func TestLedgerRemediator_LedgerOnlyRemedies(t *testing.T) {
	store := newTestLedger(t)
	r := NewLedgerRemediator(store, new(MockSettlement), zap.NewNop())
	ctx := context.Background()
	rc := sampleContext()

	require.NoError(t, r.Fill(ctx, rc))
	require.NoError(t, r.Capture(ctx, rc))
	require.NoError(t, r.Lose(ctx, rc))
	require.NoError(t, r.Offline(ctx, rc))

	entries, err := store.ListRemediations(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	outcomes := map[domain.Remedy]string{}
	for _, e := range entries {
		outcomes[e.Remedy] = e.Outcome
		assert.Equal(t, "T1", e.TxnNo)
		assert.True(t, e.Amount.Equal(decimal.NewFromInt(5)))
		assert.True(t, e.HostFirstTime)
	}
	assert.Equal(t, "filled", outcomes[domain.RemedyFill])
	assert.Equal(t, "captured", outcomes[domain.RemedyCapture])
	assert.Equal(t, "written_off", outcomes[domain.RemedyLose])
	assert.Equal(t, domain.HostStatusAccountSuccess, outcomes[domain.RemedyOffline])
}

func TestLedgerRemediator_Refund(t *testing.T) {
	store := newTestLedger(t)
	ops := new(MockSettlement)
	r := NewLedgerRemediator(store, ops, zap.NewNop())
	ctx := context.Background()

	ops.On("Refund", mock.Anything, settlement.RefundRequest{
		TxnNo:    "T1",
		RefundNo: "E1R",
		Amount:   decimal.RequireFromString("5.00"),
	}).Return(&domain.SettlementTicket{TxnNo: "E1R", DealStatus: domain.DealStatusSuccess}, nil).Once()

	require.NoError(t, r.Refund(ctx, sampleContext()))

	entries, err := store.ListRemediations(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "refund_success", entries[0].Outcome)
	ops.AssertExpectations(t)
}

func TestLedgerRemediator_RefundOfDebitIsBookedWithoutChannelCall(t *testing.T) {
	store := newTestLedger(t)
	ops := new(MockSettlement)
	r := NewLedgerRemediator(store, ops, zap.NewNop())

	rc := sampleContext()
	rc.PlatTxnNo = "S1R"
	rc.OrgTxnNo = "S1"
	rc.BizType = domain.BizTypeDebitRefund
	rc.ErrType = domain.ChannelHasPlatformMissing

	require.NoError(t, r.Refund(context.Background(), rc))

	entries, err := store.ListRemediations(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "refund_booked", entries[0].Outcome)
	assert.Equal(t, "S1R", entries[0].TxnNo)
	ops.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestDispatcher_RefundRemedyDealsDebitDiscrepancy(t *testing.T) {
	store := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, store.SaveTicket(ctx, &domain.SettlementTicket{
		TxnNo:       "S1R",
		OrgTxnNo:    "S1",
		ChannelCode: "wxpay",
		Amount:      decimal.RequireFromString("3.00"),
		BizType:     domain.BizTypeDebitRefund,
		TxnStatus:   domain.TxnStatusSuccess,
		DealStatus:  domain.DealStatusProcessing,
		TxnStep:     domain.TxnStepUnpaid,
	}))
	require.NoError(t, store.SaveDiscrepancy(ctx, &domain.DiscrepancyRecord{
		ErrNo:       "E9",
		PlatTxnNo:   "S1R",
		ChannelCode: "wxpay",
		ErrType:     domain.ChannelHasPlatformMissing,
		ErrAmount:   decimal.RequireFromString("3.00"),
		Status:      domain.DispositionOpen,
	}))

	ops := new(MockSettlement)
	d := NewDispatcher(store, store, NewLedgerRemediator(store, ops, zap.NewNop()), nil, zap.NewNop())

	result, err := d.Deal(ctx, "E9", domain.RemedyRefund)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, domain.DispositionDealt, status(t, store, "E9"))
	ops.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestLedgerRemediator_RefundDeclined(t *testing.T) {
	store := newTestLedger(t)
	ops := new(MockSettlement)
	r := NewLedgerRemediator(store, ops, zap.NewNop())

	ops.On("Refund", mock.Anything, mock.Anything).
		Return(&domain.SettlementTicket{TxnNo: "E1R", DealStatus: domain.DealStatusFail}, nil).Once()

	err := r.Refund(context.Background(), sampleContext())
	require.Error(t, err)

	entries, err := store.ListRemediations(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "refund_fail", entries[0].Outcome)
}

func TestLedgerRemediator_RefundError(t *testing.T) {
	store := newTestLedger(t)
	ops := new(MockSettlement)
	r := NewLedgerRemediator(store, ops, zap.NewNop())

	notPaid := domain.NewDomainError(domain.ErrorCodeOperationNotSupported, "only paid transactions can be refunded")
	ops.On("Refund", mock.Anything, mock.Anything).Return(nil, notPaid).Once()

	err := r.Refund(context.Background(), sampleContext())
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeOperationNotSupported))

	entries, err := store.ListRemediations(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Outcome)
}

func TestLedgerRemediator_Request(t *testing.T) {
	store := newTestLedger(t)
	ops := new(MockSettlement)
	r := NewLedgerRemediator(store, ops, zap.NewNop())

	ops.On("QueryTxnStatus", mock.Anything, "T1").
		Return(&domain.SettlementTicket{TxnNo: "T1", DealStatus: domain.DealStatusSuccess}, nil).Once()

	require.NoError(t, r.Request(context.Background(), sampleContext()))

	entries, err := store.ListRemediations(context.Background(), "E1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.RemedyRequest, entries[0].Remedy)
	assert.Equal(t, "reconfirmed_success", entries[0].Outcome)
}
