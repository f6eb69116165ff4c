package settlement

import (
	"context"
	"fmt"
	"strings"

	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	domainports "github.com/kevin07696/cashier-settlement/internal/domain/ports"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds channel-level settings for settlement operations
type Config struct {
	ChannelCode string
	NotifyURL   string // base URL the channel calls back on
	NotifyPath  string
	TradeType   string
}

// DefaultConfig returns the in-app payment defaults
func DefaultConfig() *Config {
	return &Config{
		ChannelCode: "wxpay",
		NotifyPath:  "/cashier/UnifiedOrderWxPayNotify",
		TradeType:   "JSAPI",
	}
}

// UnifiedOrderRequest opens an in-app payment
type UnifiedOrderRequest struct {
	TxnNo    string
	Subject  string
	Amount   decimal.Decimal
	OpenID   string
	ClientIP string
	SubMchID string
}

// MicroPayRequest submits a card-present payment from a scanned auth code
type MicroPayRequest struct {
	TxnNo    string
	Subject  string
	Amount   decimal.Decimal
	AuthCode string
	ClientIP string
	SubMchID string
}

// RefundRequest returns money for a settled sale. RefundNo and Amount
// default to "<TxnNo>R" and the full sale amount.
type RefundRequest struct {
	TxnNo    string
	RefundNo string
	Amount   decimal.Decimal
}

// UnifiedOrderResult carries the ticket and, when a prepay id was issued,
// the signed bundle for the payment page
type UnifiedOrderResult struct {
	Ticket    *domain.SettlementTicket
	PayParams map[string]string
}

// Service maps channel outcomes onto settlement tickets. Every operation on
// a ticket runs inside that ticket's lane.
type Service struct {
	config    *Config
	gateway   ports.SettlementGateway
	tickets   domainports.TicketRepository
	scheduler *Scheduler
	lanes     *Lanes
	logger    *zap.Logger
}

// NewService creates a new settlement service
func NewService(config *Config, gateway ports.SettlementGateway, tickets domainports.TicketRepository, scheduler *Scheduler, lanes *Lanes, logger *zap.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:    config,
		gateway:   gateway,
		tickets:   tickets,
		scheduler: scheduler,
		lanes:     lanes,
		logger:    logger,
	}
}

// UnifiedOrder opens an in-app payment. Submitting a transaction number that
// already has a ticket returns the stored ticket without calling the channel.
func (s *Service) UnifiedOrder(ctx context.Context, req UnifiedOrderRequest) (*UnifiedOrderResult, error) {
	if err := requireFields(map[string]string{"txn_no": req.TxnNo, "open_id": req.OpenID}); err != nil {
		return nil, err
	}
	fee, err := toFen(req.Amount)
	if err != nil {
		return nil, err
	}

	var result *UnifiedOrderResult
	err = s.lanes.Do(ctx, req.TxnNo, func(ctx context.Context) error {
		if existing, ok, err := s.existing(ctx, req.TxnNo); err != nil || ok {
			result = &UnifiedOrderResult{Ticket: existing}
			return err
		}

		ticket := s.newTicket(req.TxnNo, req.Amount, domain.BizTypeCreditSale, req.SubMchID)
		wire := map[string]string{
			wxpay.FieldSubOpenID:  req.OpenID,
			wxpay.FieldBody:       req.Subject,
			wxpay.FieldOutTradeNo: req.TxnNo,
			wxpay.FieldTotalFee:   fee,
			wxpay.FieldTradeType:  s.config.TradeType,
			wxpay.FieldSpbillIP:   req.ClientIP,
			wxpay.FieldNotifyURL:  strings.TrimRight(s.config.NotifyURL, "/") + s.config.NotifyPath,
		}
		withSubMch(wire, req.SubMchID)

		resp, err := s.gateway.UnifiedOrder(ctx, wire)
		if err != nil {
			return s.recordFault(ctx, ticket, "unified_order", true, err)
		}

		result = &UnifiedOrderResult{Ticket: ticket}
		if applyUnifiedOrder(ticket, resp) {
			params, err := s.gateway.JSAPIPayParams(resp[wxpay.FieldPrepayID])
			if err != nil {
				return err
			}
			result.PayParams = params
		}
		return s.save(ctx, ticket, "unified_order")
	})
	return result, err
}

// MicroPay submits a card-present payment. A payment the customer is still
// confirming is left processing and handed to the polling scheduler.
func (s *Service) MicroPay(ctx context.Context, req MicroPayRequest) (*domain.SettlementTicket, error) {
	if err := requireFields(map[string]string{"txn_no": req.TxnNo, "auth_code": req.AuthCode}); err != nil {
		return nil, err
	}
	fee, err := toFen(req.Amount)
	if err != nil {
		return nil, err
	}

	var ticket *domain.SettlementTicket
	err = s.lanes.Do(ctx, req.TxnNo, func(ctx context.Context) error {
		existing, ok, err := s.existing(ctx, req.TxnNo)
		if err != nil || ok {
			ticket = existing
			return err
		}

		ticket = s.newTicket(req.TxnNo, req.Amount, domain.BizTypeCreditSale, req.SubMchID)
		wire := map[string]string{
			wxpay.FieldBody:       req.Subject,
			wxpay.FieldOutTradeNo: req.TxnNo,
			wxpay.FieldTotalFee:   fee,
			wxpay.FieldAuthCode:   req.AuthCode,
			wxpay.FieldSpbillIP:   req.ClientIP,
		}
		withSubMch(wire, req.SubMchID)

		resp, callErr := s.gateway.MicroPayWithPos(ctx, wire)
		if callErr != nil {
			if domain.IsConfigurationFault(callErr) {
				return s.recordFault(ctx, ticket, "micropay", true, callErr)
			}
			// The channel may have taken the money; let polling find out
			ticket.MarkPending()
			ticket.TxnStatus = domain.TxnStatusFail
			ticket.RemainingPolls = s.scheduler.Attempts()
			if err := s.save(ctx, ticket, "micropay"); err != nil {
				return err
			}
			s.schedule(ticket)
			return callErr
		}

		if applyMicroPay(ticket, resp) {
			ticket.RemainingPolls = s.scheduler.Attempts()
			if err := s.save(ctx, ticket, "micropay"); err != nil {
				return err
			}
			s.schedule(ticket)
			return nil
		}
		return s.save(ctx, ticket, "micropay")
	})
	return ticket, err
}

// Refund returns money for a settled sale under a new refund ticket
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*domain.SettlementTicket, error) {
	if err := requireFields(map[string]string{"txn_no": req.TxnNo}); err != nil {
		return nil, err
	}

	sale, err := s.tickets.GetTicket(ctx, req.TxnNo)
	if err != nil {
		return nil, err
	}
	if sale.TxnStep != domain.TxnStepPaid {
		return nil, domain.NewDomainError(domain.ErrorCodeOperationNotSupported, "only paid transactions can be refunded").
			WithDetail("txn_no", req.TxnNo).
			WithDetail("txn_step", string(sale.TxnStep))
	}

	refundNo := req.RefundNo
	if refundNo == "" {
		refundNo = req.TxnNo + "R"
	}
	amount := req.Amount
	if amount.IsZero() {
		amount = sale.Amount
	}
	if amount.GreaterThan(sale.Amount) {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "refund exceeds sale amount").
			WithDetail("amount", amount.String())
	}
	totalFee, err := toFen(sale.Amount)
	if err != nil {
		return nil, err
	}
	refundFee, err := toFen(amount)
	if err != nil {
		return nil, err
	}

	var ticket *domain.SettlementTicket
	err = s.lanes.Do(ctx, refundNo, func(ctx context.Context) error {
		existing, ok, err := s.existing(ctx, refundNo)
		if err != nil || ok {
			ticket = existing
			return err
		}

		ticket = s.newTicket(refundNo, amount, domain.BizTypeDebitRefund, sale.SubMchID)
		ticket.OrgTxnNo = sale.TxnNo
		ticket.GlobalSeqNo = sale.GlobalSeqNo
		wire := map[string]string{
			wxpay.FieldOutRefundNo:   refundNo,
			wxpay.FieldTransactionID: sale.ChannelTxnNo,
			wxpay.FieldOutTradeNo:    sale.TxnNo,
			wxpay.FieldTotalFee:      totalFee,
			wxpay.FieldRefundFee:     refundFee,
		}
		withSubMch(wire, sale.SubMchID)

		resp, err := s.gateway.Refund(ctx, wire)
		if err != nil {
			return s.recordFault(ctx, ticket, "refund", true, err)
		}
		applyRefund(ticket, resp)
		return s.save(ctx, ticket, "refund")
	})
	return ticket, err
}

// Reverse cancels a card-present payment and stops any polling for it
func (s *Service) Reverse(ctx context.Context, txnNo string) (*domain.SettlementTicket, error) {
	return s.reversal(ctx, txnNo, "reverse", s.gateway.Reverse)
}

// Close closes an unpaid in-app order and stops any polling for it
func (s *Service) Close(ctx context.Context, txnNo string) (*domain.SettlementTicket, error) {
	return s.reversal(ctx, txnNo, "close", s.gateway.CloseOrder)
}

func (s *Service) reversal(ctx context.Context, txnNo, op string, call func(context.Context, map[string]string) (map[string]string, error)) (*domain.SettlementTicket, error) {
	if err := requireFields(map[string]string{"txn_no": txnNo}); err != nil {
		return nil, err
	}

	var ticket *domain.SettlementTicket
	err := s.lanes.Do(ctx, txnNo, func(ctx context.Context) error {
		var err error
		if ticket, err = s.tickets.GetTicket(ctx, txnNo); err != nil {
			return err
		}
		s.scheduler.Cancel(txnNo)

		wire := map[string]string{wxpay.FieldOutTradeNo: txnNo}
		if op == "reverse" && ticket.TxnStep == domain.TxnStepPaid && ticket.ChannelTxnNo != "" {
			wire[wxpay.FieldTransactionID] = ticket.ChannelTxnNo
		}
		withSubMch(wire, ticket.SubMchID)

		resp, err := call(ctx, wire)
		if err != nil {
			return s.recordFault(ctx, ticket, op, false, err)
		}
		applyReversal(ticket, resp)
		return s.save(ctx, ticket, op)
	})
	return ticket, err
}

// QueryTxnStatus asks the channel for the state of a ticket that has not
// settled yet. Settled tickets are returned from the ledger as they are.
func (s *Service) QueryTxnStatus(ctx context.Context, txnNo string) (*domain.SettlementTicket, error) {
	if err := requireFields(map[string]string{"txn_no": txnNo}); err != nil {
		return nil, err
	}

	var ticket *domain.SettlementTicket
	err := s.lanes.Do(ctx, txnNo, func(ctx context.Context) error {
		var err error
		if ticket, err = s.tickets.GetTicket(ctx, txnNo); err != nil {
			return err
		}
		if ticket.DealStatus.IsTerminal() || ticket.BizType.IsDebit() {
			return nil
		}

		resp, err := s.gateway.OrderQuery(ctx, queryRequest(ticket))
		if err != nil {
			return err
		}
		if applyQuery(ticket, classifyQuery(resp)) {
			s.scheduler.Cancel(txnNo)
		}
		return s.save(ctx, ticket, "order_query")
	})
	return ticket, err
}

func (s *Service) newTicket(txnNo string, amount decimal.Decimal, bizType domain.BizType, subMchID string) *domain.SettlementTicket {
	return &domain.SettlementTicket{
		TxnNo:       txnNo,
		ChannelCode: s.config.ChannelCode,
		Amount:      amount,
		BizType:     bizType,
		DealStatus:  domain.DealStatusProcessing,
		TxnStep:     domain.TxnStepUnpaid,
		SubMchID:    subMchID,
	}
}

// existing returns the stored ticket for txnNo, if any
func (s *Service) existing(ctx context.Context, txnNo string) (*domain.SettlementTicket, bool, error) {
	ticket, err := s.tickets.GetTicket(ctx, txnNo)
	if domain.IsNotFoundError(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("Returning existing ticket for transaction number",
		zap.String("txn_no", txnNo),
		zap.String("deal_status", string(ticket.DealStatus)),
	)
	return ticket, true, nil
}

func (s *Service) schedule(ticket *domain.SettlementTicket) {
	if err := s.scheduler.Schedule(ticket.TxnNo); err != nil {
		s.logger.Warn("Pending ticket not scheduled for polling",
			zap.String("txn_no", ticket.TxnNo),
			zap.Error(err),
		)
	}
}

func (s *Service) save(ctx context.Context, ticket *domain.SettlementTicket, op string) error {
	if err := s.tickets.SaveTicket(ctx, ticket); err != nil {
		return fmt.Errorf("save ticket after %s: %w", op, err)
	}

	s.logger.Info("Settlement operation recorded",
		zap.String("operation", op),
		zap.String("txn_no", ticket.TxnNo),
		zap.String("txn_status", string(ticket.TxnStatus)),
		zap.String("deal_status", string(ticket.DealStatus)),
		zap.String("txn_step", string(ticket.TxnStep)),
	)
	return nil
}

// recordFault stores that the last call failed and surfaces the fault. A
// configuration fault means nothing reached the channel, so a fresh ticket
// can be failed outright.
func (s *Service) recordFault(ctx context.Context, ticket *domain.SettlementTicket, op string, fresh bool, callErr error) error {
	s.logger.Error("Channel call failed",
		zap.String("operation", op),
		zap.String("txn_no", ticket.TxnNo),
		zap.Error(callErr),
	)
	ticket.TxnStatus = domain.TxnStatusFail
	if fresh && domain.IsConfigurationFault(callErr) {
		ticket.MarkCallFailed()
	}
	if err := s.save(ctx, ticket, op); err != nil {
		s.logger.Error("Failed to record channel fault", zap.String("txn_no", ticket.TxnNo), zap.Error(err))
	}
	return callErr
}

func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			return domain.NewDomainError(domain.ErrorCodeValidationMissingField, name+" is required").
				WithDetail("field", name)
		}
	}
	return nil
}

func withSubMch(wire map[string]string, subMchID string) {
	if subMchID != "" {
		wire[wxpay.FieldSubMchID] = subMchID
	}
}
