package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"courseledger/internal/application/common/dto"
	"courseledger/internal/domain/credential"
	"courseledger/internal/domain/license"
	"courseledger/internal/domain/progress"
	"courseledger/internal/infrastructure/cache"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

// View is a projection read from the index. Degraded views hold partial
// data reported with ingestion errors or the last good data for the query,
// whichever is newer, or the zero value when there is none.
type View[T any] struct {
	Data          T
	VersionMarker uint64
	Degraded      bool
	Reason        string
}

var errIngestion = errors.New("index ingestion errors")

// partialError carries data the index returned alongside ingestion errors.
type partialError struct {
	res  Result
	errs []string
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%s: %s", errIngestion, strings.Join(e.errs, "; "))
}

func (e *partialError) Unwrap() error { return errIngestion }

type ReadOption func(*readOptions)

type readOptions struct {
	fresh bool
}

// Fresh bypasses the view cache. Convergence polling reads this way.
func Fresh() ReadOption {
	return func(o *readOptions) { o.fresh = true }
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// ViewTTL bounds how long a good result is served without asking the
	// index again.
	ViewTTL time.Duration
	// LastGoodTTL bounds how long a good result stays available as the
	// fallback for degraded reads.
	LastGoodTTL time.Duration
	// AnalyticsTTL and AnalyticsRefresh drive the auto-refreshing
	// analytics cache.
	AnalyticsTTL     time.Duration
	AnalyticsRefresh time.Duration
	Retry            retry.Policy
	Clock            clock.Clock
	Logger           logger.Interface
}

// Gateway queries the index. It never returns transport or decoding errors.
type Gateway struct {
	client   Client
	logger   logger.Interface
	views    *cache.ExpiringCache[QuerySpec, Result]
	lastGood *cache.ExpiringCache[QuerySpec, Result]
	stats    *cache.ExpiringCache[string, dto.AnalyticsRecord]
	lastTTL  time.Duration
}

func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = 10 * time.Second
	}
	if cfg.LastGoodTTL <= 0 {
		cfg.LastGoodTTL = 24 * time.Hour
	}
	if cfg.AnalyticsTTL <= 0 {
		cfg.AnalyticsTTL = 5 * time.Minute
	}
	if cfg.AnalyticsRefresh <= 0 {
		cfg.AnalyticsRefresh = time.Minute
	}
	log := cfg.Logger.Named("index")

	g := &Gateway{
		client:  client,
		logger:  log,
		lastTTL: cfg.LastGoodTTL,
	}
	g.views = cache.New(cache.Options[QuerySpec, Result]{
		Name:       "index_views",
		DefaultTTL: cfg.ViewTTL,
		Loader: func(ctx context.Context, q QuerySpec) (Result, time.Duration, error) {
			res, err := g.fetch(ctx, q)
			return res, cfg.ViewTTL, err
		},
		KeyString: QuerySpec.String,
		Clock:     cfg.Clock,
		Logger:    log,
	})
	g.lastGood = cache.New(cache.Options[QuerySpec, Result]{
		Name:       "index_last_good",
		DefaultTTL: cfg.LastGoodTTL,
		KeyString:  QuerySpec.String,
		Clock:      cfg.Clock,
		Logger:     log,
	})
	g.stats = cache.New(cache.Options[string, dto.AnalyticsRecord]{
		Name:             "analytics",
		DefaultTTL:       cfg.AnalyticsTTL,
		RefreshThreshold: cfg.AnalyticsRefresh,
		Retry:            cfg.Retry,
		Loader:           g.loadAnalytics,
		Clock:            cfg.Clock,
		Logger:           log,
	})
	return g
}

// fetch asks the index and keeps only results that are fully usable.
// Well-formed data that comes with ingestion errors is returned inside a
// *partialError and never cached.
func (g *Gateway) fetch(ctx context.Context, q QuerySpec) (Result, error) {
	res, err := g.client.Query(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("query %s: %w", q, err)
	}
	if err := validate(q.Kind, res.Data); err != nil {
		return Result{}, fmt.Errorf("malformed %s data: %w", q.Kind, err)
	}
	if len(res.IngestionErrors) > 0 {
		return Result{}, &partialError{res: res, errs: res.IngestionErrors}
	}
	g.lastGood.Set(q, res, g.lastTTL)
	return res, nil
}

// Query returns the raw projection for q, degraded when the index could
// not answer cleanly.
func (g *Gateway) Query(ctx context.Context, q QuerySpec, opts ...ReadOption) View[json.RawMessage] {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		res Result
		err error
	)
	if o.fresh {
		res, err = g.fetch(ctx, q)
		if err == nil {
			g.views.Set(q, res, 0)
		}
	} else {
		res, err = g.views.Get(ctx, q)
	}
	if err == nil {
		return View[json.RawMessage]{Data: res.Data, VersionMarker: res.VersionMarker}
	}

	g.logger.Warnw("index read degraded",
		"query", q.String(),
		"error", err,
	)
	v := View[json.RawMessage]{Degraded: true, Reason: err.Error()}
	var partial *partialError
	if errors.As(err, &partial) {
		v.Data = partial.res.Data
		v.VersionMarker = partial.res.VersionMarker
	}
	if last, ok := g.lastGood.Peek(q); ok && (v.Data == nil || last.VersionMarker > v.VersionMarker) {
		v.Data = last.Data
		v.VersionMarker = last.VersionMarker
	}
	return v
}

func decode[T any](g *Gateway, ctx context.Context, q QuerySpec, opts []ReadOption, conv func(json.RawMessage) (T, error)) View[T] {
	raw := g.Query(ctx, q, opts...)
	out := View[T]{VersionMarker: raw.VersionMarker, Degraded: raw.Degraded, Reason: raw.Reason}
	data, err := conv(raw.Data)
	if err != nil {
		out.Degraded = true
		out.Reason = err.Error()
		return out
	}
	out.Data = data
	return out
}

// License reads the subject's license for a resource. Data is nil when
// the index holds no row.
func (g *Gateway) License(ctx context.Context, subjectID, resourceID string, opts ...ReadOption) View[*license.License] {
	q := QuerySpec{SubjectID: subjectID, ResourceID: resourceID, Kind: KindLicense}
	return decode(g, ctx, q, opts, decodeLicense)
}

func (g *Gateway) Progress(ctx context.Context, subjectID, resourceID string, opts ...ReadOption) View[progress.Sections] {
	q := QuerySpec{SubjectID: subjectID, ResourceID: resourceID, Kind: KindProgress}
	return decode(g, ctx, q, opts, decodeSections)
}

// Credential reads the subject's credential. Data is nil before minting.
func (g *Gateway) Credential(ctx context.Context, subjectID string, opts ...ReadOption) View[*credential.Credential] {
	q := QuerySpec{SubjectID: subjectID, Kind: KindCredential}
	return decode(g, ctx, q, opts, decodeCredential)
}

func (g *Gateway) Outline(ctx context.Context, resourceID string, opts ...ReadOption) View[progress.Outline] {
	q := QuerySpec{ResourceID: resourceID, Kind: KindOutline}
	return decode(g, ctx, q, opts, func(raw json.RawMessage) (progress.Outline, error) {
		return decodeOutline(resourceID, raw)
	})
}

// Analytics returns the course aggregate from the auto-refreshing cache.
// When no value can be loaded the view is degraded and empty.
func (g *Gateway) Analytics(ctx context.Context, resourceID string) View[dto.AnalyticsRecord] {
	rec, err := g.stats.Get(ctx, resourceID)
	if err != nil {
		return View[dto.AnalyticsRecord]{
			Data:     dto.AnalyticsRecord{ResourceID: resourceID},
			Degraded: true,
			Reason:   err.Error(),
		}
	}
	return View[dto.AnalyticsRecord]{Data: rec}
}

// WarmAnalytics loads the aggregate of every listed course and returns how
// many loaded.
func (g *Gateway) WarmAnalytics(ctx context.Context, resourceIDs []string) int {
	n := 0
	for _, id := range resourceIDs {
		if _, err := g.stats.Get(ctx, id); err != nil {
			g.logger.Warnw("analytics warm-up failed",
				"resource_id", id,
				"error", err,
			)
			continue
		}
		n++
	}
	return n
}

func (g *Gateway) loadAnalytics(ctx context.Context, resourceID string) (dto.AnalyticsRecord, time.Duration, error) {
	q := QuerySpec{ResourceID: resourceID, Kind: KindAnalytics}
	res, err := g.fetch(ctx, q)
	if err != nil {
		return dto.AnalyticsRecord{}, 0, err
	}
	var rec dto.AnalyticsRecord
	if err := json.Unmarshal(res.Data, &rec); err != nil {
		return dto.AnalyticsRecord{}, 0, err
	}
	rec.ResourceID = resourceID
	return rec, 0, nil
}

// Invalidate drops cached views of subject and resource. An empty
// resourceID drops every view of the subject.
func (g *Gateway) Invalidate(subjectID, resourceID string) int {
	n := g.views.InvalidateFunc(func(q QuerySpec) bool {
		if q.SubjectID != subjectID {
			return false
		}
		return resourceID == "" || q.ResourceID == resourceID
	})
	if resourceID != "" {
		g.stats.Invalidate(resourceID)
	}
	return n
}

func (g *Gateway) Close() {
	g.views.Close()
	g.lastGood.Close()
	g.stats.Close()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func validate(kind Kind, raw json.RawMessage) error {
	var err error
	switch kind {
	case KindLicense:
		_, err = decodeLicense(raw)
	case KindProgress:
		_, err = decodeSections(raw)
	case KindCredential:
		_, err = decodeCredential(raw)
	case KindOutline:
		_, err = decodeOutline("", raw)
	case KindAnalytics:
		if !isNull(raw) {
			var rec dto.AnalyticsRecord
			err = json.Unmarshal(raw, &rec)
		}
	default:
		err = fmt.Errorf("unknown kind %q", kind)
	}
	return err
}

func decodeLicense(raw json.RawMessage) (*license.License, error) {
	if isNull(raw) {
		return nil, nil
	}
	var rec dto.LicenseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec.ToDomain()
}

func decodeSections(raw json.RawMessage) (progress.Sections, error) {
	if isNull(raw) {
		return progress.Sections{}, nil
	}
	var recs []dto.SectionRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	rows, errs := dto.SectionsToDomain(recs)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rows, nil
}

func decodeCredential(raw json.RawMessage) (*credential.Credential, error) {
	if isNull(raw) {
		return nil, nil
	}
	var rec dto.CredentialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec.ToDomain()
}

func decodeOutline(resourceID string, raw json.RawMessage) (progress.Outline, error) {
	if isNull(raw) {
		return progress.NewOutline(resourceID, nil), nil
	}
	var rec dto.OutlineRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return progress.Outline{}, err
	}
	if rec.ResourceID == "" {
		rec.ResourceID = resourceID
	}
	return rec.ToDomain(), nil
}
