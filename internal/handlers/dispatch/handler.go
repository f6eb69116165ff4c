package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/services/settlement"
	"github.com/kevin07696/cashier-settlement/pkg/encoding"
	"github.com/kevin07696/cashier-settlement/pkg/resilience"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Action names accepted on /cashier/{action}
const (
	ActionDealError      = "DealError"
	ActionQueryTxnStatus = "QueryTxnStatus"
	ActionRefund         = "Refund"
	ActionChannelCheck   = "ChannelCheck"
	ActionUnifiedOrder   = "UnifiedOrder"
	ActionMicroPay       = "MicroPay"
	ActionReverse        = "Reverse"
	ActionClose          = "Close"
)

// maxBodyBytes bounds a parameter map body
const maxBodyBytes = 64 * 1024

type settlementService interface {
	UnifiedOrder(ctx context.Context, req settlement.UnifiedOrderRequest) (*settlement.UnifiedOrderResult, error)
	MicroPay(ctx context.Context, req settlement.MicroPayRequest) (*domain.SettlementTicket, error)
	Refund(ctx context.Context, req settlement.RefundRequest) (*domain.SettlementTicket, error)
	Reverse(ctx context.Context, txnNo string) (*domain.SettlementTicket, error)
	Close(ctx context.Context, txnNo string) (*domain.SettlementTicket, error)
	QueryTxnStatus(ctx context.Context, txnNo string) (*domain.SettlementTicket, error)
}

type dealer interface {
	Deal(ctx context.Context, errNo string, remedy domain.Remedy) (domain.Result, error)
}

type ingester interface {
	Ingest(ctx context.Context, channelCode, billDate string) (*domain.StatementComparison, error)
}

type action func(ctx context.Context, params map[string]string) (domain.Result, error)

// Handler is the key/value dispatcher entry. Every action takes a flat
// parameter map and answers with a flat result map carrying return_code and
// return_msg.
type Handler struct {
	settlement     settlementService
	dispatcher     dealer
	ingestor       ingester
	timeouts       *resilience.TimeoutConfig
	defaultChannel string
	logger         *zap.Logger
	actions        map[string]action
}

// NewHandler creates a new dispatcher entry handler
func NewHandler(
	settlement settlementService,
	dispatcher dealer,
	ingestor ingester,
	timeouts *resilience.TimeoutConfig,
	defaultChannel string,
	logger *zap.Logger,
) *Handler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	h := &Handler{
		settlement:     settlement,
		dispatcher:     dispatcher,
		ingestor:       ingestor,
		timeouts:       timeouts,
		defaultChannel: defaultChannel,
		logger:         logger,
	}
	h.actions = map[string]action{
		ActionDealError:      h.dealError,
		ActionQueryTxnStatus: h.queryTxnStatus,
		ActionRefund:         h.refund,
		ActionChannelCheck:   h.channelCheck,
		ActionUnifiedOrder:   h.unifiedOrder,
		ActionMicroPay:       h.microPay,
		ActionReverse:        ticketAction(h.settlement.Reverse),
		ActionClose:          ticketAction(h.settlement.Close),
	}
	return h
}

// Routes mounts the dispatcher entry on r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/cashier/{action}", h.Dispatch)
}

// Dispatch handles POST /cashier/{action}. The body is a JSON object of
// string values; an empty body is an empty parameter map.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")

	params, err := decodeParams(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("Rejected dispatcher request body",
			zap.String("action", name),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		h.respond(w, http.StatusBadRequest, domain.Result{
			Code:    domain.ResultInvalidArgument,
			Message: "body must be a JSON object of string values",
		})
		return
	}

	ctx, cancel := h.timeouts.OperationContext(r.Context())
	defer cancel()

	h.respond(w, http.StatusOK, h.Call(ctx, name, params))
}

// Call runs one action against a parameter map. Unknown actions and
// rejected requests come back as results; errors never escape.
func (h *Handler) Call(ctx context.Context, name string, params map[string]string) domain.Result {
	act, ok := h.actions[name]
	if !ok {
		h.logger.Info("Unknown dispatcher action", zap.String("action", name))
		return domain.NotSupported()
	}

	result, err := act(ctx, params)
	if err != nil {
		result = domain.ResultFromError(err)
		var de *domain.DomainError
		if domain.IsValidationError(err) && errors.As(err, &de) {
			result.Message = de.Message
		}
		h.logger.Warn("Dispatcher action failed",
			zap.String("action", name),
			zap.String("return_code", result.Code),
			zap.Error(err),
		)
	}
	return result
}

func (h *Handler) dealError(ctx context.Context, params map[string]string) (domain.Result, error) {
	if err := require(params, "err_no", "deal_type"); err != nil {
		return domain.Result{}, err
	}
	remedy, err := domain.ParseRemedy(params["deal_type"])
	if err != nil {
		return domain.NotSupported(), nil
	}
	return h.dispatcher.Deal(ctx, params["err_no"], remedy)
}

func (h *Handler) queryTxnStatus(ctx context.Context, params map[string]string) (domain.Result, error) {
	if err := require(params, "txn_no"); err != nil {
		return domain.Result{}, err
	}
	ticket, err := h.settlement.QueryTxnStatus(ctx, params["txn_no"])
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(ticketData(ticket)), nil
}

func (h *Handler) unifiedOrder(ctx context.Context, params map[string]string) (domain.Result, error) {
	if err := require(params, "txn_no", "open_id", "amount"); err != nil {
		return domain.Result{}, err
	}
	amount, err := amountParam(params)
	if err != nil {
		return domain.Result{}, err
	}

	res, err := h.settlement.UnifiedOrder(ctx, settlement.UnifiedOrderRequest{
		TxnNo:    params["txn_no"],
		Subject:  params["subject"],
		Amount:   amount,
		OpenID:   params["open_id"],
		ClientIP: params["client_ip"],
		SubMchID: params["sub_mch_id"],
	})
	if err != nil {
		return domain.Result{}, err
	}

	data := ticketData(res.Ticket)
	for k, v := range res.PayParams {
		if _, taken := data[k]; !taken {
			data[k] = v
		}
	}
	return domain.OK(data), nil
}

// microPay answers with the ticket even when the channel call failed in a way
// that left the payment processing; polling settles it
func (h *Handler) microPay(ctx context.Context, params map[string]string) (domain.Result, error) {
	if err := require(params, "txn_no", "auth_code", "amount"); err != nil {
		return domain.Result{}, err
	}
	amount, err := amountParam(params)
	if err != nil {
		return domain.Result{}, err
	}

	ticket, err := h.settlement.MicroPay(ctx, settlement.MicroPayRequest{
		TxnNo:    params["txn_no"],
		Subject:  params["subject"],
		Amount:   amount,
		AuthCode: params["auth_code"],
		ClientIP: params["client_ip"],
		SubMchID: params["sub_mch_id"],
	})
	if err != nil && (ticket == nil || ticket.DealStatus != domain.DealStatusProcessing) {
		return domain.Result{}, err
	}
	if err != nil {
		h.logger.Warn("Card-present payment left processing",
			zap.String("txn_no", ticket.TxnNo),
			zap.Error(err),
		)
	}
	return domain.OK(ticketData(ticket)), nil
}

func (h *Handler) refund(ctx context.Context, params map[string]string) (domain.Result, error) {
	if err := require(params, "txn_no"); err != nil {
		return domain.Result{}, err
	}

	req := settlement.RefundRequest{
		TxnNo:    params["txn_no"],
		RefundNo: params["refund_no"],
	}
	if strings.TrimSpace(params["amount"]) != "" {
		amount, err := amountParam(params)
		if err != nil {
			return domain.Result{}, err
		}
		req.Amount = amount
	}

	ticket, err := h.settlement.Refund(ctx, req)
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(ticketData(ticket)), nil
}

// ticketAction adapts an operation keyed only by txn_no
func ticketAction(op func(context.Context, string) (*domain.SettlementTicket, error)) action {
	return func(ctx context.Context, params map[string]string) (domain.Result, error) {
		if err := require(params, "txn_no"); err != nil {
			return domain.Result{}, err
		}
		ticket, err := op(ctx, params["txn_no"])
		if err != nil {
			return domain.Result{}, err
		}
		return domain.OK(ticketData(ticket)), nil
	}
}

func (h *Handler) channelCheck(ctx context.Context, params map[string]string) (domain.Result, error) {
	if err := require(params, "bill_date"); err != nil {
		return domain.Result{}, err
	}
	channel := params["channel"]
	if channel == "" {
		channel = h.defaultChannel
	}

	ctx, cancel := h.timeouts.IngestionContext(ctx)
	defer cancel()

	cmp, err := h.ingestor.Ingest(ctx, channel, params["bill_date"])
	if err != nil {
		return domain.Result{}, err
	}
	return domain.OK(map[string]string{
		"channel":       cmp.ChannelCode,
		"bill_date":     cmp.BillDate,
		"channel_lines": strconv.Itoa(len(cmp.Channel)),
		"platform_txns": strconv.Itoa(len(cmp.Platform)),
	}), nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, result domain.Result) {
	if err := encoding.WriteJSON(w, status, result.Map()); err != nil {
		h.logger.Error("Failed to encode dispatcher response", zap.Error(err))
	}
}

func decodeParams(body io.Reader) (map[string]string, error) {
	params := make(map[string]string)
	if body == nil {
		return params, nil
	}
	err := json.NewDecoder(body).Decode(&params)
	if errors.Is(err, io.EOF) {
		return params, nil
	}
	return params, err
}

func amountParam(params map[string]string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(params["amount"])
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Decimal{}, domain.NewDomainError(domain.ErrorCodeValidationAmountInvalid, "amount must be a positive decimal").
			WithDetail("amount", raw)
	}
	return amount, nil
}

func require(params map[string]string, keys ...string) error {
	for _, key := range keys {
		if strings.TrimSpace(params[key]) == "" {
			return domain.NewDomainError(domain.ErrorCodeValidationMissingField, key+" is required").
				WithDetail("field", key)
		}
	}
	return nil
}

func ticketData(t *domain.SettlementTicket) map[string]string {
	data := map[string]string{
		"txn_no":      t.TxnNo,
		"amount":      t.Amount.StringFixed(2),
		"biz_type":    string(t.BizType),
		"txn_status":  string(t.TxnStatus),
		"deal_status": string(t.DealStatus),
		"txn_step":    string(t.TxnStep),
	}
	if t.ChannelTxnNo != "" {
		data["channel_txn_no"] = t.ChannelTxnNo
	}
	if t.SettleDate != "" {
		data["settle_date"] = t.SettleDate
	}
	if t.OrgTxnNo != "" {
		data["org_txn_no"] = t.OrgTxnNo
	}
	return data
}
