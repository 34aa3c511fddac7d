// Package access keeps signed content tokens fresh for playback.
package access

import (
	"context"
	"fmt"
	"time"

	"courseledger/internal/infrastructure/cache"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

const (
	DefaultRefreshThreshold = 60 * time.Second
	DefaultFirstRetryDelay  = 5 * time.Second
)

// Token is a signed, time-limited content URL credential.
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer signs a token for one subject and content item.
type Issuer interface {
	Issue(ctx context.Context, subjectID, contentID string) (Token, error)
}

// Key identifies one subject's token for one content item.
type Key struct {
	SubjectID string
	ContentID string
}

func (k Key) String() string {
	return k.SubjectID + ":" + k.ContentID
}

type Config struct {
	RefreshThreshold time.Duration
	// FirstRetryDelay is the wait after the first failed refresh; later
	// failures back off exponentially from Backoff.Initial.
	FirstRetryDelay time.Duration
	Backoff         retry.Policy
	Clock           clock.Clock
	Logger          logger.Interface
}

// Manager hands out content tokens and refreshes them shortly before they
// expire. Refreshes are driven by the cache's own timers.
type Manager struct {
	issuer Issuer
	cache  *cache.ExpiringCache[Key, Token]
	clock  clock.Clock
	logger logger.Interface
}

func NewManager(issuer Issuer, cfg Config) *Manager {
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.FirstRetryDelay <= 0 {
		cfg.FirstRetryDelay = DefaultFirstRetryDelay
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = retry.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}

	m := &Manager{
		issuer: issuer,
		clock:  cfg.Clock,
		logger: cfg.Logger.Named("access"),
	}
	m.cache = cache.New(cache.Options[Key, Token]{
		Name:              "content_tokens",
		Loader:            m.load,
		RefreshThreshold:  cfg.RefreshThreshold,
		Retry:             cfg.Backoff,
		FirstRetryDelay:   cfg.FirstRetryDelay,
		UrgentWhenExpired: true,
		KeyString:         Key.String,
		Clock:             cfg.Clock,
		Logger:            cfg.Logger,
	})
	return m
}

func (m *Manager) load(ctx context.Context, k Key) (Token, time.Duration, error) {
	tok, err := m.issuer.Issue(ctx, k.SubjectID, k.ContentID)
	if err != nil {
		return Token{}, 0, err
	}
	ttl := tok.ExpiresAt.Sub(m.clock.Now())
	if ttl <= 0 {
		return Token{}, 0, fmt.Errorf("token for %s issued already expired at %s", k, tok.ExpiresAt.Format(time.RFC3339))
	}
	m.logger.Debugw("content token issued",
		"subject_id", k.SubjectID,
		"content_id", k.ContentID,
		"expires_at", tok.ExpiresAt,
	)
	return tok, ttl, nil
}

// Token returns a valid token, issuing one when none is cached.
func (m *Manager) Token(ctx context.Context, subjectID, contentID string) (Token, error) {
	if subjectID == "" || contentID == "" {
		return Token{}, errors.NewValidationError("subject and content are required")
	}
	tok, err := m.cache.Get(ctx, Key{SubjectID: subjectID, ContentID: contentID})
	if err != nil {
		if ctx.Err() != nil {
			return Token{}, ctx.Err()
		}
		return Token{}, errors.NewOperationFailedError(err, "content token", contentID)
	}
	return tok, nil
}

// Countdown returns the time left on the cached token, for display.
func (m *Manager) Countdown(subjectID, contentID string) (time.Duration, bool) {
	exp, ok := m.cache.ExpiresAt(Key{SubjectID: subjectID, ContentID: contentID})
	if !ok {
		return 0, false
	}
	left := exp.Sub(m.clock.Now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// Subscribe calls fn with every token issued for the key, including
// background refreshes.
func (m *Manager) Subscribe(subjectID, contentID string, fn func(Token)) (unsubscribe func()) {
	return m.cache.Subscribe(Key{SubjectID: subjectID, ContentID: contentID}, fn)
}

// Revoke drops the cached token. Subscribers get a freshly issued one.
func (m *Manager) Revoke(subjectID, contentID string) {
	m.cache.Invalidate(Key{SubjectID: subjectID, ContentID: contentID})
}

// RevokeSubject drops every cached token of a subject.
func (m *Manager) RevokeSubject(subjectID string) int {
	return m.cache.InvalidateFunc(func(k Key) bool { return k.SubjectID == subjectID })
}

func (m *Manager) Close() {
	m.cache.Close()
}
