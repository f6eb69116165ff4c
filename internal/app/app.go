// Package app wires the settlement core from configuration. The server and
// the operator CLI build the same graph.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kevin07696/cashier-settlement/internal/adapters/database"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ledger"
	"github.com/kevin07696/cashier-settlement/internal/adapters/ports"
	"github.com/kevin07696/cashier-settlement/internal/adapters/secrets"
	"github.com/kevin07696/cashier-settlement/internal/adapters/wxpay"
	"github.com/kevin07696/cashier-settlement/internal/config"
	"github.com/kevin07696/cashier-settlement/internal/services/reconciliation"
	"github.com/kevin07696/cashier-settlement/internal/services/settlement"
	"github.com/kevin07696/cashier-settlement/internal/services/statement"
	"github.com/kevin07696/cashier-settlement/pkg/resourcemgmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App holds the wired settlement core
type App struct {
	Config     *config.Config
	DB         *database.Adapter
	Ledger     *ledger.Store
	Failover   *wxpay.DomainFailover
	Gateway    *wxpay.Client
	Lanes      *settlement.Lanes
	Tracker    *resourcemgmt.GoroutineTracker
	Scheduler  *settlement.Scheduler
	Settlement *settlement.Service
	Dispatcher *reconciliation.Dispatcher
	Ingestor   *statement.Ingestor

	secrets ports.SecretManagerAdapter
	logger  *zap.Logger
}

// NewLogger builds the process logger: JSON at the configured level in
// production, console output otherwise
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logger.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Logger.Level, err)
	}

	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() && !cfg.Logger.Development {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// New opens the ledger, loads gateway credentials and builds every service.
// Credential or certificate problems are fatal; nothing is returned
// half-initialized. The scheduler is built but not started.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	store, err := secrets.New(ctx, cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}
	a.secrets = store

	creds, err := secrets.LoadGatewayCredentials(ctx, store, cfg.Gateway, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("gateway credentials: %w", err)
	}

	dbCfg := database.DefaultConfig(cfg.Database.Driver, cfg.Database.DSN())
	dbCfg.MaxOpenConns = cfg.Database.MaxConns
	dbCfg.MaxIdleConns = cfg.Database.MinConns
	dbCfg.AutoMigrate = cfg.Database.Migrate
	if a.DB, err = database.NewAdapter(ctx, dbCfg, logger); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("ledger database: %w", err)
	}
	a.Ledger = ledger.NewStore(a.DB, logger)

	if err := a.buildGateway(creds); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Lanes = settlement.NewLanes()
	a.Tracker = resourcemgmt.NewGoroutineTracker(logger, resourcemgmt.DefaultConfig())

	schedCfg := settlement.DefaultSchedulerConfig()
	schedCfg.Attempts = cfg.Polling.Attempts
	schedCfg.Interval = cfg.Polling.Interval
	schedCfg.Workers = cfg.Polling.Workers
	a.Scheduler = settlement.NewScheduler(schedCfg, a.Gateway, a.Ledger, a.Lanes, a.Tracker, logger)

	svcCfg := settlement.DefaultConfig()
	svcCfg.ChannelCode = cfg.Gateway.ChannelCode
	svcCfg.NotifyURL = cfg.Gateway.NotifyURL
	a.Settlement = settlement.NewService(svcCfg, a.Gateway, a.Ledger, a.Scheduler, a.Lanes, logger)

	remediator := reconciliation.NewLedgerRemediator(a.Ledger, a.Settlement, logger)
	a.Dispatcher = reconciliation.NewDispatcher(a.Ledger, a.Ledger, remediator, a.Lanes, logger)

	a.Ingestor = statement.NewIngestor(a.Ledger, cfg.Statement.ArchiveDir, logger)
	a.Ingestor.Register(cfg.Gateway.ChannelCode, a.statementSource(), StatementFormat(cfg.Statement))

	logger.Info("Settlement core wired",
		zap.String("channel", cfg.Gateway.ChannelCode),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("secret_backend", cfg.Secrets.Backend),
		zap.Bool("sandbox", cfg.Gateway.Sandbox),
	)
	return a, nil
}

func (a *App) buildGateway(creds wxpay.Credentials) error {
	gw := a.Config.Gateway

	transport, err := wxpay.NewMutualTLSTransport(wxpay.DefaultTransportConfig(creds.MchID, creds.Certificate), a.logger)
	if err != nil {
		return fmt.Errorf("gateway transport: %w", err)
	}

	a.Failover, err = wxpay.NewDomainFailover(
		wxpay.DefaultEndpoints(gw.PrimaryDomain, gw.AlternateDomain),
		wxpay.DefaultFailoverConfig(),
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("gateway failover: %w", err)
	}

	clientCfg := wxpay.DefaultClientConfig(creds)
	clientCfg.Sandbox = gw.Sandbox
	clientCfg.ConnectTimeout = gw.ConnectTimeout
	clientCfg.ReadTimeout = gw.ReadTimeout
	clientCfg.PosBudget = gw.PosBudget
	if a.Gateway, err = wxpay.NewClient(clientCfg, transport, a.Failover, a.logger); err != nil {
		return fmt.Errorf("gateway client: %w", err)
	}
	return nil
}

func (a *App) statementSource() statement.Source {
	if tmpl := a.Config.Statement.URLTemplate; tmpl != "" {
		return statement.NewURLSource(statement.DefaultURLSourceConfig(tmpl), a.logger)
	}
	return statement.NewGatewaySource(a.Gateway, a.Config.Statement.BillType)
}

// StatementFormat maps the configured column layout onto a statement format
func StatementFormat(cfg config.StatementConfig) statement.Format {
	f := statement.WxPayBillFormat()
	f.HeaderRows = cfg.HeaderRows
	f.FooterRows = cfg.FooterRows
	f.KeyColumn = cfg.KeyColumn
	f.StatusColumn = cfg.StatusColumn
	f.AmountColumn = cfg.AmountColumn
	f.TimeColumn = cfg.TimeColumn
	return f
}

// Close stops the scheduler and releases the database and secret store.
// The server registers these steps with its shutdown manager instead.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		errs = append(errs, a.Scheduler.Shutdown(ctx))
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	errs = append(errs, a.CloseSecrets())
	return errors.Join(errs...)
}

// CloseSecrets releases the secret store client
func (a *App) CloseSecrets() error {
	if a.secrets == nil {
		return nil
	}
	return secrets.Close(a.secrets)
}
