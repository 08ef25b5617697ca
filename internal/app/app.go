package app

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/bridge"
	"deferred-estate/settlement-backend/internal/config"
	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/internal/database"
	"deferred-estate/settlement-backend/internal/documents"
	"deferred-estate/settlement-backend/internal/escrow"
	"deferred-estate/settlement-backend/internal/events"
	"deferred-estate/settlement-backend/internal/ledger"
	"deferred-estate/settlement-backend/internal/liquidity"
	"deferred-estate/settlement-backend/internal/marketplace"
	"deferred-estate/settlement-backend/internal/metrics"
	"deferred-estate/settlement-backend/internal/rewards"
	"deferred-estate/settlement-backend/internal/settings"
	"deferred-estate/settlement-backend/pkg/storage"
)

// App holds the wired services shared by the API server and the worker
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  metrics.SettlementMetrics
	Ledger   ledger.Ledger
	Hub      *events.Hub

	Auth        auth.Service
	Settings    settings.Service
	Escrow      escrow.Service
	Rewards     rewards.Service
	Liquidity   liquidity.Service
	Contracts   contracts.Service
	Marketplace marketplace.Service
	Documents   documents.Service

	gormDB  *gorm.DB
	sqlxDB  *sqlx.DB
	closers []func()
}

// NewLogger builds the zap logger described by the logging configuration
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

// New opens the databases, applies migrations and wires every service
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.openDatabases(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openDatabases() error {
	cfg := a.Config.Database

	gormDB, err := database.OpenGorm(cfg, a.Logger)
	if err != nil {
		return err
	}
	a.gormDB = gormDB
	a.closers = append(a.closers, func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.Close()
		}
	})

	sqlxDB, err := database.OpenSQLX(cfg, a.Logger)
	if err != nil {
		return err
	}
	a.sqlxDB = sqlxDB
	a.closers = append(a.closers, func() { sqlxDB.Close() })

	if !cfg.AutoMigrate {
		return nil
	}
	if err := database.Migrate(sqlxDB, cfg.Driver); err != nil {
		return err
	}
	for name, migrate := range map[string]func(*gorm.DB) error{
		"auth":        auth.AutoMigrate,
		"escrow":      escrow.AutoMigrate,
		"contracts":   contracts.AutoMigrate,
		"marketplace": marketplace.AutoMigrate,
	} {
		if err := migrate(gormDB); err != nil {
			return fmt.Errorf("failed to migrate %s tables: %w", name, err)
		}
	}
	a.Logger.Info("Database migrations applied")
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.InitMetrics(a.Registry)

	if cfg.Ledger.Endpoint == "" {
		a.Logger.Warn("No ledger endpoint configured, using the in-process ledger")
		a.Ledger = ledger.NewMemory(cfg.Ledger.DevFee)
	} else {
		a.Ledger = ledger.NewClient(ledger.ClientConfig{
			Endpoint:   cfg.Ledger.Endpoint,
			Timeout:    cfg.Ledger.Timeout,
			RetryCount: cfg.Ledger.RetryCount,
		}, a.Logger)
	}

	a.Hub = events.NewHub(a.Logger)
	a.closers = append(a.closers, a.Hub.Close)
	publishers := []events.Publisher{a.Hub, events.NewLogPublisher(a.Logger)}
	if cfg.Events.SNSTopicARN != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return fmt.Errorf("failed to load aws config: %w", err)
		}
		publishers = append(publishers, events.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.Events.SNSTopicARN, a.Logger))
	}
	publisher := events.Fanout(publishers...)

	a.Auth = auth.NewService(auth.NewRepository(a.gormDB), a.Logger)
	if err := a.Auth.BootstrapCustodians(ctx, cfg.Contracts.Custodians); err != nil {
		return fmt.Errorf("failed to bootstrap custodians: %w", err)
	}

	interest, err := decimal.NewFromString(cfg.Marketplace.InterestRateForBuyer)
	if err != nil {
		return fmt.Errorf("invalid marketplace.interest_rate_for_buyer: %w", err)
	}
	a.Settings = settings.NewService(settings.NewRepository(a.sqlxDB), a.Auth, settings.Defaults{
		AllowedCurrencies: cfg.Contracts.AllowedCurrencies,
		InterestRate:      interest,
	}, a.Logger)

	a.Escrow = escrow.NewService(escrow.NewRepository(a.gormDB), a.Ledger, cfg.Contracts.EscrowPrincipal, a.Logger)
	a.Rewards = rewards.NewService(rewards.NewRepository(a.sqlxDB), a.Ledger,
		rewards.NewCalculator(cfg.Rewards.InitialRMC, time.Now), cfg.Rewards.Principal, a.Logger)
	a.Liquidity = liquidity.NewService(liquidity.NewRepository(a.sqlxDB), a.Ledger, cfg.Liquidity.Principal, a.Logger)

	mirror, err := a.mirror(ctx)
	if err != nil {
		return err
	}

	a.Contracts = contracts.NewService(contracts.NewRepository(a.gormDB), contracts.Dependencies{
		Escrow:     a.Escrow,
		Rewards:    a.Rewards,
		Refunds:    a.Liquidity,
		Roles:      a.Auth,
		Mirror:     mirror,
		Currencies: a.Settings,
		Events:     publisher,
		Metrics:    a.Metrics,
		Operator:   cfg.Marketplace.Principal,
		Minter:     cfg.Contracts.Principal,
	}, a.Logger)

	rates, err := a.rates()
	if err != nil {
		return err
	}
	a.Marketplace = marketplace.NewService(marketplace.NewRepository(a.gormDB), marketplace.Dependencies{
		Contracts: a.Contracts,
		Ledger:    a.Ledger,
		Rates:     rates,
		Interest:  a.Settings,
		Liquidity: a.Liquidity,
		Metrics:   a.Metrics,
	}, cfg.Marketplace.Principal, a.Logger)

	store, err := a.objectStore(ctx)
	if err != nil {
		return err
	}
	a.Documents = documents.NewService(a.Contracts, store, documents.Options{
		MaxSize:    cfg.Storage.MaxDocumentSize,
		PresignTTL: cfg.Storage.PresignTTL,
	}, a.Logger)
	return nil
}

func (a *App) mirror(ctx context.Context) (contracts.Mirror, error) {
	if !a.Config.Bridge.Enabled {
		return bridge.NewNoopMirror(a.Logger), nil
	}
	m, err := bridge.Dial(ctx, a.Config.Bridge, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, m.Close)
	return m, nil
}

func (a *App) rates() (marketplace.RateProvider, error) {
	cfg := a.Config.Marketplace
	if cfg.RatesEndpoint != "" {
		return marketplace.NewCachedRates(marketplace.NewHTTPRates(cfg.RatesEndpoint, a.Config.Ledger.Timeout), nil), nil
	}
	// without rates every quote fails with a rate error
	a.Logger.Warn("Using static exchange rates", zap.Any("rates", cfg.StaticRates))
	return marketplace.NewStaticRates(cfg.StaticRates)
}

func (a *App) objectStore(ctx context.Context) (storage.ObjectStore, error) {
	cfg := a.Config.Storage
	if cfg.S3Bucket == "" {
		a.Logger.Warn("No document bucket configured, keeping documents in memory")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewS3Client(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
}

// Close releases connections in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
