package cron

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/pkg/encoding"
	"github.com/kevin07696/cashier-settlement/pkg/resilience"
	"github.com/kevin07696/cashier-settlement/pkg/shutdown"
	"github.com/kevin07696/cashier-settlement/pkg/timeutil"
	"go.uber.org/zap"
)

type ingester interface {
	Ingest(ctx context.Context, channelCode, billDate string) (*domain.StatementComparison, error)
	Channels() []string
}

// StatementHandler handles the scheduled statement ingestion endpoint
type StatementHandler struct {
	ingestor   ingester
	inflight   *shutdown.InFlightTracker
	timeouts   *resilience.TimeoutConfig
	logger     *zap.Logger
	cronSecret string
	now        func() time.Time
}

// NewStatementHandler creates a new statement ingestion cron handler
func NewStatementHandler(
	ingestor ingester,
	inflight *shutdown.InFlightTracker,
	timeouts *resilience.TimeoutConfig,
	logger *zap.Logger,
	cronSecret string,
) *StatementHandler {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	return &StatementHandler{
		ingestor:   ingestor,
		inflight:   inflight,
		timeouts:   timeouts,
		logger:     logger,
		cronSecret: cronSecret,
		now:        timeutil.Now,
	}
}

// IngestStatementRequest is the optional request body
type IngestStatementRequest struct {
	BillDate string `json:"bill_date"` // YYYYMMDD, defaults to the previous channel business day
	Channel  string `json:"channel"`   // defaults to every registered channel
}

// ChannelSummary reports one channel's ingestion
type ChannelSummary struct {
	Channel      string `json:"channel"`
	ChannelLines int    `json:"channel_lines"`
	PlatformTxns int    `json:"platform_txns"`
	Error        string `json:"error,omitempty"`
}

// IngestStatementResponse represents the response from statement ingestion
type IngestStatementResponse struct {
	Success     bool             `json:"success"`
	BillDate    string           `json:"bill_date"`
	Channels    []ChannelSummary `json:"channels"`
	ProcessedAt string           `json:"processed_at"`
}

// IngestStatement handles the POST /cron/ingest-statement endpoint
func (h *StatementHandler) IngestStatement(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Statement ingestion cron job triggered",
		zap.String("method", r.Method),
		zap.String("remote_addr", r.RemoteAddr),
	)

	if r.Method != http.MethodPost {
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req IngestStatementRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	billDate := req.BillDate
	if billDate == "" {
		billDate = timeutil.PreviousBillDate(h.now())
	} else if _, err := timeutil.ParseBillDate(billDate); err != nil {
		h.respondError(w, http.StatusBadRequest, "bill_date must be YYYYMMDD")
		return
	}

	channels := h.ingestor.Channels()
	if req.Channel != "" {
		channels = []string{req.Channel}
	}
	if len(channels) == 0 {
		h.respondError(w, http.StatusServiceUnavailable, "no statement channels registered")
		return
	}

	resp := IngestStatementResponse{Success: true, BillDate: billDate}
	ran := h.inflight.Run(func() {
		ctx, cancel := h.timeouts.CronContext(r.Context())
		defer cancel()

		for _, channel := range channels {
			summary := h.ingestChannel(ctx, channel, billDate)
			if summary.Error != "" {
				resp.Success = false
			}
			resp.Channels = append(resp.Channels, summary)
		}
	})
	if !ran {
		h.respondError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	resp.ProcessedAt = h.now().Format(time.RFC3339)

	h.logger.Info("Statement ingestion cron job completed",
		zap.String("bill_date", billDate),
		zap.Int("channels", len(resp.Channels)),
		zap.Bool("success", resp.Success),
	)

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadGateway
	}
	if err := encoding.WriteJSON(w, status, resp); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *StatementHandler) ingestChannel(ctx context.Context, channel, billDate string) ChannelSummary {
	ctx, cancel := h.timeouts.IngestionContext(ctx)
	defer cancel()

	summary := ChannelSummary{Channel: channel}
	cmp, err := h.ingestor.Ingest(ctx, channel, billDate)
	if err != nil {
		summary.Error = domain.ResultFromError(err).Message
		return summary
	}
	summary.ChannelLines = len(cmp.Channel)
	summary.PlatformTxns = len(cmp.Platform)
	return summary
}

// authenticateRequest accepts the cron secret in X-Cron-Secret or as a
// bearer token
func (h *StatementHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	if secret := r.Header.Get("X-Cron-Secret"); secret != "" {
		return h.matches(secret)
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return h.matches(token)
	}
	return false
}

func (h *StatementHandler) matches(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.cronSecret)) == 1
}

func (h *StatementHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if err := encoding.WriteJSON(w, statusCode, resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}
