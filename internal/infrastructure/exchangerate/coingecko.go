// Package exchangerate fetches the fiat price of the settlement token.
package exchangerate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jtacoma/uritemplates"
	"golang.org/x/time/rate"

	"courseledger/internal/shared/logger"
)

const (
	DefaultAPIURL  = "https://api.coingecko.com/api/v3"
	DefaultTokenID = "tether"

	priceTemplate  = "{+base}/simple/price{?ids,vs_currencies}"
	requestTimeout = 10 * time.Second
	// Maximum response body size for the price API (64KB)
	maxResponseSize = 64 << 10
	// Maximum allowed change against the last accepted rate (10%)
	defaultMaxChange = 0.10
)

// Config configures a CoinGecko rate source. Zero MinRate/MaxRate disable
// the plausibility range.
type Config struct {
	APIURL    string
	TokenID   string
	MinRate   float64
	MaxRate   float64
	MaxChange float64
	// RatePerSecond limits outbound requests; zero means one per second.
	RatePerSecond float64
	HTTPClient    *http.Client
}

// CoinGecko returns how many units of a fiat currency one settlement token
// is worth. Rates that jump more than MaxChange from the last accepted rate
// are refused, so callers keep serving their cached value.
type CoinGecko struct {
	cfg        Config
	tmpl       *uritemplates.UriTemplate
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Interface

	mu   sync.Mutex
	last map[string]float64
}

func NewCoinGecko(cfg Config, log logger.Interface) (*CoinGecko, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.TokenID == "" {
		cfg.TokenID = DefaultTokenID
	}
	if cfg.MaxChange <= 0 {
		cfg.MaxChange = defaultMaxChange
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: requestTimeout}
	}
	tmpl, err := uritemplates.Parse(priceTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price url template: %w", err)
	}
	return &CoinGecko{
		cfg:        cfg,
		tmpl:       tmpl,
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:     log,
		last:       make(map[string]float64),
	}, nil
}

// Rate fetches the current token price in currency.
func (s *CoinGecko) Rate(ctx context.Context, currency string) (float64, error) {
	vs := strings.ToLower(currency)
	r, err := s.fetch(ctx, vs)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.last[vs]; prev > 0 {
		change := math.Abs(r-prev) / prev
		if change > s.cfg.MaxChange {
			s.logger.Warnw("exchange rate change exceeds threshold, refusing new rate",
				"currency", vs,
				"new_rate", r,
				"last_rate", prev,
				"change_percent", change,
				"max_allowed_percent", s.cfg.MaxChange,
			)
			return 0, fmt.Errorf("rate change %.2f%% exceeds threshold", change*100)
		}
	}
	s.last[vs] = r
	return r, nil
}

// Reset forgets the last accepted rate of currency so the next fetch is
// accepted unconditionally.
func (s *CoinGecko) Reset(currency string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, strings.ToLower(currency))
}

func (s *CoinGecko) fetch(ctx context.Context, vs string) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	url, err := s.tmpl.Expand(map[string]interface{}{
		"base":          strings.TrimSuffix(s.cfg.APIURL, "/"),
		"ids":           s.cfg.TokenID,
		"vs_currencies": vs,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to build request url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch exchange rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var data map[string]map[string]float64
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	r := data[s.cfg.TokenID][vs]
	if r <= 0 {
		return 0, fmt.Errorf("invalid rate from API: %f", r)
	}
	if s.cfg.MinRate > 0 && s.cfg.MaxRate > 0 && (r < s.cfg.MinRate || r > s.cfg.MaxRate) {
		return 0, fmt.Errorf("rate %f outside reasonable range [%f, %f]", r, s.cfg.MinRate, s.cfg.MaxRate)
	}

	s.logger.Infow("fetched settlement token rate",
		"token", s.cfg.TokenID,
		"currency", vs,
		"rate", r,
	)
	return r, nil
}
