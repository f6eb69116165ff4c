package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/domain/ports"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"github.com/kevin07696/cashier-settlement/pkg/resourcemgmt"
	"go.uber.org/zap"
)

// ErrSchedulerClosed is returned when polling is requested after shutdown
var ErrSchedulerClosed = errors.New("settlement polling scheduler is shut down")

// Polling finish reasons, also used as metric labels
const (
	finishPaid      = "paid"
	finishFailed    = "failed"
	finishExhausted = "exhausted"
	finishResolved  = "resolved_elsewhere"
	finishMissing   = "ticket_missing"
	finishCancelled = "cancelled"
)

const pollTaskType = "settlement_poll"

// SchedulerConfig holds the polling budget and pool sizing
type SchedulerConfig struct {
	Attempts    int           // queries per ticket before giving up
	Interval    time.Duration // spacing between queries
	Workers     int           // size of the shared worker pool
	QueueSize   int           // ticks waiting for a worker
	TickTimeout time.Duration // bound on one tick, lane wait included
}

// DefaultSchedulerConfig returns the channel polling defaults
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Attempts:    10,
		Interval:    5 * time.Second,
		Workers:     5,
		QueueSize:   256,
		TickTimeout: 30 * time.Second,
	}
}

type orderQuerier interface {
	OrderQuery(ctx context.Context, req map[string]string) (map[string]string, error)
}

// stopper is the part of *time.Timer the scheduler needs
type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

// Scheduler resolves pending payments by querying the channel on a fixed
// interval until the ticket settles or the attempt budget runs out.
//
// Each ticket owns one cancellable handle. Ticks run on a fixed worker pool
// and inside the ticket's lane, so they never overlap other operations on
// the same transaction number.
type Scheduler struct {
	config  *SchedulerConfig
	gateway orderQuerier
	tickets ports.TicketRepository
	lanes   *Lanes
	tracker *resourcemgmt.GoroutineTracker
	logger  *zap.Logger
	after   afterFunc

	mu      sync.Mutex
	handles map[string]*pollHandle
	closed  bool

	jobs    chan *pollHandle
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started sync.Once
}

type pollHandle struct {
	txnNo     string
	remaining int
	timer     stopper
	finished  bool
	done      chan struct{}
}

// NewScheduler creates a scheduler. Call Start to run its workers.
// tracker may be nil.
func NewScheduler(config *SchedulerConfig, gateway orderQuerier, tickets ports.TicketRepository, lanes *Lanes, tracker *resourcemgmt.GoroutineTracker, logger *zap.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:  config,
		gateway: gateway,
		tickets: tickets,
		lanes:   lanes,
		tracker: tracker,
		logger:  logger,
		after: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		handles: make(map[string]*pollHandle),
		jobs:    make(chan *pollHandle, config.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker pool
func (s *Scheduler) Start() {
	s.started.Do(func() {
		for i := 0; i < s.config.Workers; i++ {
			s.wg.Add(1)
			go s.worker()
		}
		s.logger.Info("Settlement polling scheduler started",
			zap.Int("workers", s.config.Workers),
			zap.Int("attempts", s.config.Attempts),
			zap.Duration("interval", s.config.Interval),
		)
	})
}

// Schedule begins polling a pending ticket. Scheduling a ticket that is
// already being polled is a no-op.
func (s *Scheduler) Schedule(txnNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if _, ok := s.handles[txnNo]; ok {
		return nil
	}

	h := &pollHandle{
		txnNo:     txnNo,
		remaining: s.config.Attempts,
		done:      make(chan struct{}),
	}
	s.handles[txnNo] = h
	h.timer = s.after(s.config.Interval, func() { s.enqueue(h) })

	if s.tracker != nil {
		s.tracker.Track(txnNo, pollTaskType)
	}
	observability.PollingStarted()

	s.logger.Info("Settlement polling scheduled",
		zap.String("txn_no", txnNo),
		zap.Int("attempts", h.remaining),
	)
	return nil
}

// Cancel stops polling a ticket. A tick already waiting for the ticket's lane
// sees the cancellation and exits without touching the ticket.
func (s *Scheduler) Cancel(txnNo string) bool {
	s.mu.Lock()
	h, ok := s.handles[txnNo]
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.finish(h, finishCancelled)
	return true
}

// Done returns a channel closed when polling for txnNo ends. It is already
// closed when the ticket is not being polled.
func (s *Scheduler) Done(txnNo string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles[txnNo]; ok {
		return h.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Attempts is the per-ticket query budget
func (s *Scheduler) Attempts() int {
	return s.config.Attempts
}

// Pending reports the number of tickets currently being polled
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Shutdown stops all timers and waits for running ticks. Tickets left
// pending stay in processing for the reconciliation pass.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := len(s.handles)
	for _, h := range s.handles {
		if h.timer != nil {
			h.timer.Stop()
		}
	}
	s.mu.Unlock()

	close(s.done)
	s.logger.Info("Stopping settlement polling scheduler", zap.Int("pending_tickets", pending))

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) enqueue(h *pollHandle) {
	select {
	case s.jobs <- h:
	case <-s.done:
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case h := <-s.jobs:
			s.tick(h)
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) active(h *pollHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !h.finished && !s.closed
}

func (s *Scheduler) cancelled(h *pollHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.finished
}

// tick runs one query for the ticket and decides what happens next
func (s *Scheduler) tick(h *pollHandle) {
	if !s.active(h) {
		return
	}
	h.remaining--

	ctx, cancel := context.WithTimeout(s.ctx, s.config.TickTimeout)
	defer cancel()

	var again bool
	err := s.lanes.Do(ctx, h.txnNo, func(ctx context.Context) error {
		if !s.active(h) {
			return nil
		}
		var err error
		again, err = s.poll(ctx, h)
		return err
	})
	if err != nil {
		observability.RecordPollingTick("error")
		s.logger.Warn("Settlement polling tick failed",
			zap.String("txn_no", h.txnNo),
			zap.Int("remaining", h.remaining),
			zap.Error(err),
		)
		again = h.remaining > 0
		if !again {
			s.finish(h, finishExhausted)
		}
	}

	if again {
		s.reschedule(h)
	}
}

// poll must run inside the ticket's lane. It reports whether another tick is due.
func (s *Scheduler) poll(ctx context.Context, h *pollHandle) (bool, error) {
	ticket, err := s.tickets.GetTicket(ctx, h.txnNo)
	if domain.IsNotFoundError(err) {
		s.finish(h, finishMissing)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ticket.DealStatus.IsTerminal() {
		s.finish(h, finishResolved)
		return false, nil
	}

	resp, err := s.gateway.OrderQuery(ctx, queryRequest(ticket))
	if err != nil {
		if h.remaining == 0 {
			s.exhaust(ctx, h, ticket)
		}
		return false, err
	}
	if s.cancelled(h) {
		return false, nil
	}

	q := classifyQuery(resp)
	observability.RecordPollingTick(q.outcome.String())
	s.logger.Info("Polled channel for settlement",
		zap.String("txn_no", h.txnNo),
		zap.String("outcome", q.outcome.String()),
		zap.Int("remaining", h.remaining),
	)

	switch q.outcome {
	case QueryPaid, QueryFailed:
		applyQuery(ticket, q)
		ticket.RemainingPolls = h.remaining
		if err := s.tickets.SaveTicket(ctx, ticket); err != nil {
			return false, err
		}
		reason := finishPaid
		if q.outcome == QueryFailed {
			reason = finishFailed
		}
		s.finish(h, reason)
		return false, nil
	}

	if h.remaining > 0 {
		return true, nil
	}
	s.exhaust(ctx, h, ticket)
	return false, nil
}

// exhaust records the spent budget and retires the handle. The ticket stays
// processing for reconciliation. Must run inside the ticket's lane.
func (s *Scheduler) exhaust(ctx context.Context, h *pollHandle, ticket *domain.SettlementTicket) {
	// the tick's deadline may be what ended the last query
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.TickTimeout)
	defer cancel()

	ticket.RemainingPolls = 0
	if err := s.tickets.SaveTicket(saveCtx, ticket); err != nil {
		s.logger.Error("Failed to record exhausted polling budget",
			zap.String("txn_no", h.txnNo),
			zap.Error(err),
		)
	}
	s.logger.Warn("Settlement polling exhausted, ticket left processing",
		zap.String("txn_no", h.txnNo),
		zap.Int("attempts", s.config.Attempts),
	)
	s.finish(h, finishExhausted)
}

func (s *Scheduler) reschedule(h *pollHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.finished || s.closed {
		return
	}
	h.timer = s.after(s.config.Interval, func() { s.enqueue(h) })
}

// finish retires a handle once; later calls are no-ops
func (s *Scheduler) finish(h *pollHandle, reason string) {
	s.mu.Lock()
	if h.finished {
		s.mu.Unlock()
		return
	}
	h.finished = true
	if h.timer != nil {
		h.timer.Stop()
	}
	if s.handles[h.txnNo] == h {
		delete(s.handles, h.txnNo)
	}
	close(h.done)
	s.mu.Unlock()

	if s.tracker != nil {
		s.tracker.Untrack(h.txnNo)
	}
	observability.PollingFinished(reason)
	s.logger.Debug("Settlement polling finished",
		zap.String("txn_no", h.txnNo),
		zap.String("reason", reason),
	)
}

// queryRequest builds the order-query fields for a ticket. Before payment the
// channel number may be a prepay id, so only out_trade_no identifies the order.
func queryRequest(t *domain.SettlementTicket) map[string]string {
	req := map[string]string{wxpay.FieldOutTradeNo: t.TxnNo}
	if t.TxnStep == domain.TxnStepPaid && t.ChannelTxnNo != "" {
		req[wxpay.FieldTransactionID] = t.ChannelTxnNo
	}
	if t.SubMchID != "" {
		req[wxpay.FieldSubMchID] = t.SubMchID
	}
	return req
}
