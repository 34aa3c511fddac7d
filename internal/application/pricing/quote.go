// Package pricing quotes license prices in the catalog currency and in the
// settlement token.
package pricing

import (
	"context"
	"time"

	"courseledger/internal/domain/license"
	"courseledger/internal/infrastructure/cache"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

const (
	// TokenUnit is the number of smallest settlement token units per token.
	TokenUnit = 1_000_000
	// minorUnits is the number of minor currency units per major unit.
	minorUnits = 100

	DefaultRateTTL       = 5 * time.Minute
	DefaultRateThreshold = time.Minute
	DefaultRateMaxAge    = 15 * time.Minute
)

// RateSource returns the price of one settlement token in currency.
type RateSource interface {
	Rate(ctx context.Context, currency string) (float64, error)
}

// Quote is a priced license term.
type Quote struct {
	ResourceID     string  `json:"resource_id"`
	DurationUnits  int     `json:"duration_units"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	Formatted      string  `json:"formatted"`
	UnitPrice      int64   `json:"unit_price"`
	SavingsPercent float32 `json:"savings_percent"`
	// TokenAmount is the settlement amount in smallest token units. It is
	// zero when no rate is available.
	TokenAmount uint64  `json:"token_amount"`
	Rate        float64 `json:"rate,omitempty"`
}

type Config struct {
	// RateTTL is how long a fetched rate counts as fresh. The refresh starts
	// RateThreshold before that; failed refreshes keep the old rate until
	// RateMaxAge.
	RateTTL       time.Duration
	RateThreshold time.Duration
	RateMaxAge    time.Duration
	Retry         retry.Policy
	Clock         clock.Clock
	Logger        logger.Interface
}

// QuoteService prices licenses from the catalog and converts the price at
// an auto-refreshed exchange rate.
type QuoteService struct {
	catalog *license.Catalog
	rates   *cache.ExpiringCache[string, float64]
	logger  logger.Interface
}

func NewQuoteService(catalog *license.Catalog, source RateSource, cfg Config) *QuoteService {
	if cfg.RateTTL <= 0 {
		cfg.RateTTL = DefaultRateTTL
	}
	if cfg.RateThreshold <= 0 || cfg.RateThreshold >= cfg.RateTTL {
		cfg.RateThreshold = DefaultRateThreshold
	}
	if cfg.RateMaxAge < cfg.RateTTL {
		cfg.RateMaxAge = DefaultRateMaxAge
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}

	q := &QuoteService{catalog: catalog, logger: cfg.Logger.Named("pricing")}
	q.rates = cache.New(cache.Options[string, float64]{
		Name: "exchange_rates",
		Loader: func(ctx context.Context, currency string) (float64, time.Duration, error) {
			r, err := source.Rate(ctx, currency)
			return r, cfg.RateMaxAge, err
		},
		DefaultTTL: cfg.RateMaxAge,
		// Entries live until RateMaxAge; refreshing at RateTTL-RateThreshold
		// leaves the rest of that window for retries.
		RefreshThreshold: cfg.RateMaxAge - cfg.RateTTL + cfg.RateThreshold,
		Retry:            cfg.Retry,
		Clock:            cfg.Clock,
		Logger:           cfg.Logger,
	})
	return q
}

// Price is the pure catalog price; it satisfies the license state machine's
// pricing dependency.
func (q *QuoteService) Price(resourceID string, durationUnits int) (license.Price, error) {
	return q.catalog.Price(resourceID, durationUnits)
}

// Quote prices a term and converts it into the settlement token. A missing
// rate does not fail the quote.
func (q *QuoteService) Quote(ctx context.Context, resourceID string, durationUnits int) (Quote, error) {
	price, err := q.catalog.Price(resourceID, durationUnits)
	if err != nil {
		return Quote{}, errors.NewDomainRejection(err, resourceID)
	}
	unit, err := q.catalog.UnitPrice(resourceID)
	if err != nil {
		return Quote{}, errors.NewDomainRejection(err, resourceID)
	}

	quote := Quote{
		ResourceID:     resourceID,
		DurationUnits:  durationUnits,
		Amount:         price.Amount,
		Currency:       price.Currency,
		Formatted:      price.String(),
		UnitPrice:      unit.Amount,
		SavingsPercent: license.SavingRate(unit.Amount, price.Amount, durationUnits),
	}

	r, err := q.rates.Get(ctx, price.Currency)
	if err != nil {
		q.logger.Warnw("no exchange rate available, quoting without settlement amount",
			"currency", price.Currency,
			"error", err,
		)
		return quote, nil
	}
	quote.Rate = r
	quote.TokenAmount = ToTokenUnits(price.Amount, r)
	return quote, nil
}

// ToTokenUnits converts an amount in minor currency units at rate (currency
// per token) into smallest token units, rounding to nearest.
func ToTokenUnits(amountMinor int64, rate float64) uint64 {
	if rate <= 0 || amountMinor <= 0 {
		return 0
	}
	raw := float64(amountMinor) * float64(TokenUnit) / (float64(minorUnits) * rate)
	return uint64(raw + 0.5)
}

// WarmRate loads the rate of currency ahead of the first quote.
func (q *QuoteService) WarmRate(ctx context.Context, currency string) error {
	_, err := q.rates.Get(ctx, currency)
	return err
}

func (q *QuoteService) Close() {
	q.rates.Close()
}
