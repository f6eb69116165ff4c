package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, querier orderQuerier, tickets *memTickets) (*Scheduler, *recordingAfter) {
	t.Helper()
	rec := &recordingAfter{}
	s := NewScheduler(DefaultSchedulerConfig(), querier, tickets, NewLanes(), nil, zap.NewNop())
	s.after = rec.after
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, rec
}

func waitDone(t *testing.T, s *Scheduler, txnNo string) {
	t.Helper()
	select {
	case <-s.Done(txnNo):
	case <-time.After(5 * time.Second):
		t.Fatalf("polling for %s did not finish", txnNo)
	}
}

func handleFor(t *testing.T, s *Scheduler, txnNo string) *pollHandle {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[txnNo]
	require.True(t, ok, "no handle for %s", txnNo)
	return h
}

func TestScheduler_ExhaustsBudgetWhileStillPaying(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	s, rec := newTestScheduler(t, querier, tickets)
	s.Start()

	require.NoError(t, s.Schedule("T1"))
	waitDone(t, s, "T1")

	assert.Equal(t, 10, querier.count("T1"))
	delays := rec.recorded()
	require.Len(t, delays, 10)
	for _, d := range delays {
		assert.Equal(t, 5*time.Second, d)
	}

	ticket := tickets.get("T1")
	assert.Equal(t, domain.DealStatusProcessing, ticket.DealStatus)
	assert.Equal(t, 0, ticket.RemainingPolls)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_StopsWhenPaid(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	querier.script("T1", fixed(stillPaying()), fixed(stillPaying()), fixed(paid("4200")))
	s, _ := newTestScheduler(t, querier, tickets)
	s.Start()

	require.NoError(t, s.Schedule("T1"))
	waitDone(t, s, "T1")

	assert.Equal(t, 3, querier.count("T1"))
	ticket := tickets.get("T1")
	assert.Equal(t, domain.DealStatusSuccess, ticket.DealStatus)
	assert.Equal(t, domain.TxnStepPaid, ticket.TxnStep)
	assert.Equal(t, "4200", ticket.ChannelTxnNo)
	assert.Equal(t, "20240105", ticket.SettleDate)
	assert.Equal(t, 7, ticket.RemainingPolls)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, querier.count("T1"), "no query after settlement")
}

func TestScheduler_StopsWhenClosed(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	querier.script("T1", fixed(map[string]string{"return_code": "SUCCESS", "result_code": "SUCCESS", "trade_state": "CLOSED"}))
	s, _ := newTestScheduler(t, querier, tickets)
	s.Start()

	require.NoError(t, s.Schedule("T1"))
	waitDone(t, s, "T1")

	assert.Equal(t, 1, querier.count("T1"))
	assert.Equal(t, domain.DealStatusFail, tickets.get("T1").DealStatus)
}

func TestScheduler_QueryErrorsCountAgainstBudget(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	querier.script("T1",
		func() (map[string]string, error) { return nil, errors.New("connection reset") },
		fixed(map[string]string{"return_code": "FAIL", "return_msg": "system busy"}),
		fixed(paid("4200")),
	)
	s, _ := newTestScheduler(t, querier, tickets)
	s.Start()

	require.NoError(t, s.Schedule("T1"))
	waitDone(t, s, "T1")

	assert.Equal(t, 3, querier.count("T1"))
	ticket := tickets.get("T1")
	assert.Equal(t, domain.DealStatusSuccess, ticket.DealStatus)
	assert.Equal(t, 7, ticket.RemainingPolls)
}

func TestScheduler_QueryErrorOnLastTickRecordsExhaustion(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	querier.script("T1", func() (map[string]string, error) { return nil, errors.New("i/o timeout") })
	s, _ := newTestScheduler(t, querier, tickets)
	s.Start()

	require.NoError(t, s.Schedule("T1"))
	waitDone(t, s, "T1")

	assert.Equal(t, 10, querier.count("T1"))
	ticket := tickets.get("T1")
	assert.Equal(t, domain.DealStatusProcessing, ticket.DealStatus)
	assert.Equal(t, 0, ticket.RemainingPolls)
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_CancelBeforeTick(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	s, _ := newTestScheduler(t, querier, tickets)
	s.after = holdTimers

	require.NoError(t, s.Schedule("T1"))
	h := handleFor(t, s, "T1")
	timer := h.timer.(*heldTimer)

	assert.True(t, s.Cancel("T1"))
	assert.True(t, timer.stopped)
	s.tick(h)

	assert.Equal(t, 0, querier.count("T1"))
	assert.Equal(t, 0, s.Pending())
	assert.False(t, s.Cancel("T1"))
	waitDone(t, s, "T1")
}

func TestScheduler_TicketResolvedElsewhere(t *testing.T) {
	settled := pendingTicket("T1")
	settled.MarkPaid("4200", "20240105")
	tickets := newMemTickets(settled)
	querier := newScriptedQuerier()
	s, _ := newTestScheduler(t, querier, tickets)
	s.after = holdTimers

	require.NoError(t, s.Schedule("T1"))
	s.tick(handleFor(t, s, "T1"))

	assert.Equal(t, 0, querier.count("T1"))
	assert.Equal(t, 0, tickets.saveCount())
	waitDone(t, s, "T1")
}

func TestScheduler_MissingTicketStopsPolling(t *testing.T) {
	querier := newScriptedQuerier()
	s, _ := newTestScheduler(t, querier, newMemTickets())
	s.after = holdTimers

	require.NoError(t, s.Schedule("GHOST"))
	s.tick(handleFor(t, s, "GHOST"))

	assert.Equal(t, 0, querier.count("GHOST"))
	waitDone(t, s, "GHOST")
}

func TestScheduler_TickWaitsForLane(t *testing.T) {
	tickets := newMemTickets(pendingTicket("T1"))
	querier := newScriptedQuerier()
	s, _ := newTestScheduler(t, querier, tickets)
	s.after = holdTimers

	require.NoError(t, s.Schedule("T1"))
	h := handleFor(t, s, "T1")

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = s.lanes.Do(context.Background(), "T1", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ticked := make(chan struct{})
	go func() {
		s.tick(h)
		close(ticked)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, querier.count("T1"))

	close(release)
	<-ticked
	assert.Equal(t, 1, querier.count("T1"))
	assert.Equal(t, 1, s.Pending())
}

func TestScheduler_TicketsPollIndependently(t *testing.T) {
	tickets := newMemTickets(pendingTicket("A"), pendingTicket("B"))
	querier := newScriptedQuerier()

	release := make(chan struct{})
	inQuery := make(chan struct{})
	querier.script("A", func() (map[string]string, error) {
		close(inQuery)
		<-release
		return paid("A-1"), nil
	})
	querier.script("B", fixed(stillPaying()), fixed(paid("B-1")))

	s, _ := newTestScheduler(t, querier, tickets)
	s.Start()

	require.NoError(t, s.Schedule("A"))
	require.NoError(t, s.Schedule("B"))

	waitDone(t, s, "B")
	assert.Equal(t, domain.DealStatusSuccess, tickets.get("B").DealStatus)
	assert.Equal(t, 1, s.Pending())

	// A result that lands after cancellation is discarded
	<-inQuery
	assert.True(t, s.Cancel("A"))
	close(release)
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 1, querier.count("A"))
	assert.Equal(t, domain.DealStatusProcessing, tickets.get("A").DealStatus)
}

func TestScheduler_ScheduleIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t, newScriptedQuerier(), newMemTickets(pendingTicket("T1")))
	s.after = holdTimers

	require.NoError(t, s.Schedule("T1"))
	first := handleFor(t, s, "T1")
	require.NoError(t, s.Schedule("T1"))

	assert.Same(t, first, handleFor(t, s, "T1"))
	assert.Equal(t, 1, s.Pending())
}

func TestScheduler_ScheduleAfterShutdown(t *testing.T) {
	s, _ := newTestScheduler(t, newScriptedQuerier(), newMemTickets(pendingTicket("T1")))
	s.Start()

	require.NoError(t, s.Shutdown(context.Background()))
	assert.ErrorIs(t, s.Schedule("T1"), ErrSchedulerClosed)
	assert.NoError(t, s.Shutdown(context.Background()))
}
