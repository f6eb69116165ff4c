package statement

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/kevin07696/cashier-settlement/internal/domain/ports"
	"github.com/kevin07696/cashier-settlement/pkg/observability"
	"github.com/kevin07696/cashier-settlement/pkg/timeutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type channelStatement struct {
	source Source
	format Format
}

// Ingestor builds the two comparison tables for a channel and settlement
// date: the channel's statement and the platform's own tickets
type Ingestor struct {
	tickets    ports.TicketRepository
	archiveDir string
	logger     *zap.Logger

	mu       sync.RWMutex
	channels map[string]channelStatement
}

// NewIngestor creates an ingestor. When archiveDir is set every downloaded
// statement is kept there as received.
func NewIngestor(tickets ports.TicketRepository, archiveDir string, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		tickets:    tickets,
		archiveDir: archiveDir,
		logger:     logger,
		channels:   make(map[string]channelStatement),
	}
}

// Register sets the statement source and layout for a channel
func (i *Ingestor) Register(channelCode string, source Source, format Format) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.channels[channelCode] = channelStatement{source: source, format: format}
}

// Channels lists the registered channel codes in order
func (i *Ingestor) Channels() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	codes := make([]string, 0, len(i.channels))
	for code := range i.channels {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Ingest fetches and parses the channel statement for billDate while loading
// the platform's tickets for the same channel and date
func (i *Ingestor) Ingest(ctx context.Context, channelCode, billDate string) (*domain.StatementComparison, error) {
	if _, err := timeutil.ParseBillDate(billDate); err != nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "bill_date must be YYYYMMDD").
			WithDetail("bill_date", billDate)
	}

	i.mu.RLock()
	ch, ok := i.channels[channelCode]
	i.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError(domain.ErrorCodeOperationNotSupported, "no statement source for channel").
			WithDetail("channel", channelCode)
	}

	start := time.Now()
	i.logger.Info("Ingesting channel statement",
		zap.String("channel", channelCode),
		zap.String("bill_date", billDate),
		zap.String("format", ch.format.Name),
	)

	var (
		st       *Statement
		platform map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = i.channelSide(gctx, ch, channelCode, billDate)
		return err
	})
	g.Go(func() error {
		var err error
		platform, err = i.platformSide(gctx, channelCode, billDate)
		return err
	})
	if err := g.Wait(); err != nil {
		observability.RecordStatementIngestion(channelCode, "error", 0, time.Since(start))
		i.logger.Error("Statement ingestion failed",
			zap.String("channel", channelCode),
			zap.String("bill_date", billDate),
			zap.Error(err),
		)
		return nil, err
	}

	observability.RecordStatementIngestion(channelCode, "success", len(st.Lines), time.Since(start))
	i.logger.Info("Channel statement ingested",
		zap.String("channel", channelCode),
		zap.String("bill_date", billDate),
		zap.Int("channel_lines", len(st.Lines)),
		zap.Int("skipped_rows", st.Skipped),
		zap.Int("platform_txns", len(platform)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &domain.StatementComparison{
		ChannelCode: channelCode,
		BillDate:    billDate,
		Channel:     st.Lines,
		Platform:    platform,
	}, nil
}

func (i *Ingestor) channelSide(ctx context.Context, ch channelStatement, channelCode, billDate string) (*Statement, error) {
	raw, err := ch.source.Fetch(ctx, billDate)
	if err != nil {
		return nil, fmt.Errorf("fetch %s statement: %w", channelCode, err)
	}
	i.archive(channelCode, billDate, raw)

	text, err := Unpack(raw)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeProtocolDecodeFailed, "unpack statement", err)
	}
	st, err := Parse(text, ch.format)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorCodeProtocolDecodeFailed, "parse statement", err)
	}
	return st, nil
}

// platformSide maps each platform transaction number to its settlement disposition
func (i *Ingestor) platformSide(ctx context.Context, channelCode, billDate string) (map[string]string, error) {
	tickets, err := i.tickets.ListTicketsByChannelDate(ctx, channelCode, billDate)
	if err != nil {
		return nil, fmt.Errorf("list platform transactions: %w", err)
	}
	platform := make(map[string]string, len(tickets))
	for _, t := range tickets {
		platform[t.TxnNo] = string(t.DealStatus)
	}
	return platform, nil
}

// archive keeps the raw download; failure to archive never fails ingestion
func (i *Ingestor) archive(channelCode, billDate string, raw []byte) {
	if i.archiveDir == "" {
		return
	}

	ext := ".txt"
	switch archiveKind(raw) {
	case "zip":
		ext = ".zip"
	case "gzip":
		ext = ".gz"
	}

	dir := filepath.Join(i.archiveDir, channelCode)
	name := filepath.Join(dir, billDate+ext)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		i.logger.Warn("Failed to create statement archive directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	if err := os.WriteFile(name, raw, 0o640); err != nil {
		i.logger.Warn("Failed to archive statement", zap.String("file", name), zap.Error(err))
	}
}
