package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/stretchr/testify/mock"
)

// memTickets is an in-memory ticket repository
type memTickets struct {
	mu      sync.Mutex
	tickets map[string]domain.SettlementTicket
	saves   int
}

func newMemTickets(tickets ...*domain.SettlementTicket) *memTickets {
	m := &memTickets{tickets: make(map[string]domain.SettlementTicket)}
	for _, t := range tickets {
		m.tickets[t.TxnNo] = *t
	}
	return m
}

func (m *memTickets) GetTicket(_ context.Context, txnNo string) (*domain.SettlementTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[txnNo]
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeTxnNotFound, "transaction not found")
	}
	return &t, nil
}

func (m *memTickets) SaveTicket(_ context.Context, t *domain.SettlementTicket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.TxnNo] = *t
	m.saves++
	return nil
}

func (m *memTickets) ListTicketsByChannelDate(_ context.Context, channelCode, settleDate string) ([]*domain.SettlementTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SettlementTicket
	for _, t := range m.tickets {
		if t.ChannelCode == channelCode && t.SettleDate == settleDate {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *memTickets) get(txnNo string) domain.SettlementTicket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickets[txnNo]
}

func (m *memTickets) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// MockGateway mocks the settlement gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) reply(ctx context.Context, method string, req map[string]string) (map[string]string, error) {
	args := m.MethodCalled(method, ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockGateway) UnifiedOrder(ctx context.Context, req map[string]string) (map[string]string, error) {
	return m.reply(ctx, "UnifiedOrder", req)
}

func (m *MockGateway) MicroPayWithPos(ctx context.Context, req map[string]string) (map[string]string, error) {
	return m.reply(ctx, "MicroPayWithPos", req)
}

func (m *MockGateway) OrderQuery(ctx context.Context, req map[string]string) (map[string]string, error) {
	return m.reply(ctx, "OrderQuery", req)
}

func (m *MockGateway) Refund(ctx context.Context, req map[string]string) (map[string]string, error) {
	return m.reply(ctx, "Refund", req)
}

func (m *MockGateway) Reverse(ctx context.Context, req map[string]string) (map[string]string, error) {
	return m.reply(ctx, "Reverse", req)
}

func (m *MockGateway) CloseOrder(ctx context.Context, req map[string]string) (map[string]string, error) {
	return m.reply(ctx, "CloseOrder", req)
}

func (m *MockGateway) JSAPIPayParams(prepayID string) (map[string]string, error) {
	args := m.Called(prepayID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// scriptedQuerier answers order-queries from a per-ticket script; the last
// reply repeats
type scriptedQuerier struct {
	mu      sync.Mutex
	replies map[string][]func() (map[string]string, error)
	calls   map[string]int
}

func newScriptedQuerier() *scriptedQuerier {
	return &scriptedQuerier{
		replies: make(map[string][]func() (map[string]string, error)),
		calls:   make(map[string]int),
	}
}

func (q *scriptedQuerier) script(txnNo string, replies ...func() (map[string]string, error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replies[txnNo] = replies
}

func (q *scriptedQuerier) OrderQuery(_ context.Context, req map[string]string) (map[string]string, error) {
	txnNo := req["out_trade_no"]

	q.mu.Lock()
	n := q.calls[txnNo]
	q.calls[txnNo] = n + 1
	replies := q.replies[txnNo]
	q.mu.Unlock()

	if len(replies) == 0 {
		return stillPaying(), nil
	}
	if n >= len(replies) {
		n = len(replies) - 1
	}
	return replies[n]()
}

func (q *scriptedQuerier) count(txnNo string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[txnNo]
}

func stillPaying() map[string]string {
	return map[string]string{"return_code": "SUCCESS", "result_code": "SUCCESS", "trade_state": "USERPAYING"}
}

func paid(transactionID string) map[string]string {
	return map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"trade_state":    "SUCCESS",
		"transaction_id": transactionID,
		"time_end":       "20240105101530",
	}
}

func fixed(resp map[string]string) func() (map[string]string, error) {
	return func() (map[string]string, error) { return resp, nil }
}

// recordingAfter fires scheduled callbacks almost immediately and records
// the requested delays
type recordingAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingAfter) after(d time.Duration, f func()) stopper {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return time.AfterFunc(time.Millisecond, f)
}

func (r *recordingAfter) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// heldTimer never fires on its own
type heldTimer struct{ stopped bool }

func (h *heldTimer) Stop() bool {
	h.stopped = true
	return true
}

func holdTimers(time.Duration, func()) stopper { return &heldTimer{} }

func pendingTicket(txnNo string) *domain.SettlementTicket {
	return &domain.SettlementTicket{
		TxnNo:          txnNo,
		ChannelCode:    "wxpay",
		BizType:        domain.BizTypeCreditSale,
		TxnStatus:      domain.TxnStatusSuccess,
		DealStatus:     domain.DealStatusProcessing,
		TxnStep:        domain.TxnStepUnpaid,
		RemainingPolls: 10,
	}
}
