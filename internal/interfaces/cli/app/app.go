// Package app wires configuration into the engine's components. Every CLI
// command builds its dependencies through New.
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"courseledger/internal/application/access"
	"courseledger/internal/application/certificate"
	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
	licenseapp "courseledger/internal/application/license"
	"courseledger/internal/application/pricing"
	progressapp "courseledger/internal/application/progress"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/credential"
	"courseledger/internal/domain/license"
	"courseledger/internal/infrastructure/config"
	"courseledger/internal/infrastructure/database"
	"courseledger/internal/infrastructure/exchangerate"
	"courseledger/internal/infrastructure/httpjson"
	"courseledger/internal/infrastructure/indexclient"
	"courseledger/internal/infrastructure/ledgerclient"
	"courseledger/internal/infrastructure/persistence"
	"courseledger/internal/infrastructure/pubsub"
	"courseledger/internal/infrastructure/ratelimit"
	"courseledger/internal/infrastructure/repository"
	"courseledger/internal/infrastructure/tokenissuer"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/id"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

// App holds the wired engine. Journal, Bus and Limiter are nil when their
// backing store is not configured.
type App struct {
	Config *config.Config

	Ledger      *ledger.Gateway
	Index       *index.Gateway
	Coordinator *reconcile.Coordinator
	Licenses    *licenseapp.StateMachine
	Progress    *progressapp.Aggregator
	Credentials *certificate.Engine
	Access      *access.Manager
	Pricing     *pricing.QuoteService

	Journal *repository.PendingOperationRepository
	Bus     *pubsub.IndexEventBus
	Limiter *ratelimit.RedisLimiter

	db     *gorm.DB
	redis  *redis.Client
	logger logger.Interface
}

func New(cfg *config.Config, log logger.Interface) (*App, error) {
	clk := clock.Real()
	a := &App{Config: cfg, logger: log}

	if cfg.Database.Enabled() {
		db, err := database.Open(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if err := persistence.Migrate(db); err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to migrate journal: %w", err)
		}
		a.db = db
		a.Journal = repository.NewPendingOperationRepository(db, log)
	}

	if cfg.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Bus = pubsub.NewIndexEventBus(a.redis, log)
		a.Limiter = ratelimit.NewRedisLimiter(a.redis, clk)
	}

	a.Ledger = ledger.NewGateway(
		ledgerclient.New(httpjson.Config{
			BaseURL:   cfg.Ledger.BaseURL,
			Timeout:   cfg.Ledger.RequestTimeout,
			RateLimit: cfg.Ledger.RateLimit,
			RateBurst: cfg.Ledger.RateBurst,
			Headers:   apiKeyHeader(cfg.Ledger.APIKey),
		}),
		ledger.GatewayConfig{
			Retry:        retry.FromConfig(cfg.Ledger.Retry, retry.Default()),
			PollInterval: cfg.Ledger.PollInterval,
			Clock:        clk,
			Logger:       log,
		},
	)

	a.Index = index.NewGateway(
		indexclient.New(httpjson.Config{
			BaseURL:   cfg.Index.BaseURL,
			Timeout:   cfg.Index.RequestTimeout,
			RateLimit: cfg.Index.RateLimit,
			RateBurst: cfg.Index.RateBurst,
		}),
		index.GatewayConfig{
			ViewTTL:          cfg.Cache.ViewTTL,
			LastGoodTTL:      cfg.Index.LastGoodTTL,
			AnalyticsTTL:     cfg.Index.AnalyticsTTL,
			AnalyticsRefresh: cfg.Index.AnalyticsRefresh,
			Retry:            retry.FromConfig(cfg.Cache.Retry, retry.Default()),
			Clock:            clk,
			Logger:           log,
		},
	)

	rcfg := reconcile.Config{
		ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout,
		Convergence:         retry.FromConfig(cfg.Reconcile.Convergence, retry.Default()),
		Background:          backgroundPolicy(cfg.Reconcile.BackgroundAttempts),
		Invalidate: func(subjectID, resourceID string) {
			a.Index.Invalidate(subjectID, resourceID)
		},
		Origin: instanceID(cfg.Server.InstanceID, clk),
		Clock:  clk,
		Logger: log,
	}
	if cfg.Reconcile.ConvergenceAttempts > 0 {
		rcfg.Convergence.MaxAttempts = cfg.Reconcile.ConvergenceAttempts
	}
	if a.Journal != nil {
		rcfg.Journal = a.Journal
	}
	if a.Bus != nil {
		rcfg.Publisher = a.Bus
	}
	a.Coordinator = reconcile.NewCoordinator(a.Ledger, rcfg)

	rates, err := exchangerate.NewCoinGecko(exchangerate.Config{
		APIURL:    cfg.Pricing.RateAPIURL,
		TokenID:   cfg.Pricing.RateTokenID,
		MinRate:   cfg.Pricing.MinRate,
		MaxRate:   cfg.Pricing.MaxRate,
		MaxChange: cfg.Pricing.MaxRateChange,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	catalog := license.NewCatalog(cfg.Pricing.Currency, cfg.Pricing.UnitPrices, cfg.Pricing.DefaultPrice, cfg.Pricing.MultiUnitTiers)
	a.Pricing = pricing.NewQuoteService(catalog, rates, pricing.Config{
		RateTTL:       cfg.Pricing.RateTTL,
		RateThreshold: cfg.Pricing.RateThreshold,
		RateMaxAge:    cfg.Pricing.RateMaxAge,
		Retry:         retry.FromConfig(cfg.Cache.Retry, retry.Default()),
		Clock:         clk,
		Logger:        log,
	})

	a.Licenses = licenseapp.NewStateMachine(a.Coordinator, a.Index, a.Ledger, a.Pricing, licenseapp.Config{
		RenewalWindow:    cfg.Reconcile.RenewalWindow,
		FallbackToLedger: cfg.Index.FallbackLedger,
		Clock:            clk,
	}, log.Named("license"))
	a.Progress = progressapp.NewAggregator(a.Coordinator, a.Index, clk, log.Named("progress"))
	a.Credentials = certificate.NewEngine(
		a.Coordinator,
		a.Index,
		a.Progress,
		a.Licenses,
		credential.Policy{AllowUnlicensedCompletion: cfg.Reconcile.AllowUnlicensedCompletion},
		clk,
		log.Named("certificate"),
	)

	a.Access = access.NewManager(
		tokenissuer.New(httpjson.Config{
			BaseURL: cfg.Access.IssuerURL,
			Timeout: cfg.Access.RequestTimeout,
		}),
		access.Config{
			RefreshThreshold: cfg.Access.RefreshThreshold,
			FirstRetryDelay:  cfg.Access.FirstRetryDelay,
			Backoff:          retry.FromConfig(cfg.Access.Retry, retry.Default()),
			Clock:            clk,
			Logger:           log,
		},
	)

	return a, nil
}

// MutationLimits is the per-subject budget for write endpoints.
func (a *App) MutationLimits() ratelimit.Limits {
	return ratelimit.Limits{
		PerMinute: a.Config.RateLimit.MutationsPerMinute,
		PerHour:   a.Config.RateLimit.MutationsPerHour,
		PerDay:    a.Config.RateLimit.MutationsPerDay,
	}
}

// CatalogResources lists the priced resources in a stable order.
func (a *App) CatalogResources() []string {
	ids := make([]string, 0, len(a.Config.Pricing.UnitPrices))
	for id := range a.Config.Pricing.UnitPrices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recover replays the journal, if there is one.
func (a *App) Recover(ctx context.Context) (int, error) {
	if a.Journal == nil {
		return 0, nil
	}
	return a.Coordinator.Recover(ctx)
}

// SubscribeIndexEvents feeds events from other instances into the
// coordinator. It is a no-op without Redis.
func (a *App) SubscribeIndexEvents(ctx context.Context) error {
	if a.Bus == nil {
		return nil
	}
	return a.Bus.Subscribe(ctx, func(_ context.Context, e reconcile.IndexEvent) {
		a.Coordinator.NotifyIndexed(e)
	})
}

func (a *App) Close() {
	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.Access != nil {
		a.Access.Close()
	}
	if a.Pricing != nil {
		a.Pricing.Close()
	}
	if a.Index != nil {
		a.Index.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnw("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warnw("failed to close database", "error", err)
		}
	}
}

func apiKeyHeader(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{"X-Api-Key": key}
}

func backgroundPolicy(attempts int) retry.Policy {
	p := retry.Policy{Initial: 5 * time.Second, Max: 5 * time.Minute, Multiplier: 2, Jitter: 0.2, MaxAttempts: 10}
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	return p
}

func instanceID(configured string, clk clock.Clock) string {
	if configured != "" {
		return configured
	}
	return id.FormatWithPrefix("node", id.NewULID(clk.Now()))
}
