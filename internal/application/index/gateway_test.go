package index

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/logger"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type stubClient struct {
	mu    sync.Mutex
	calls map[Kind]int
	next  func(q QuerySpec) (Result, error)
}

func (s *stubClient) Query(ctx context.Context, q QuerySpec) (Result, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[Kind]int)
	}
	s.calls[q.Kind]++
	next := s.next
	s.mu.Unlock()
	return next(q)
}

func (s *stubClient) set(next func(q QuerySpec) (Result, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = next
}

func (s *stubClient) count(k Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[k]
}

func respond(data string, version uint64, ingestion ...string) func(QuerySpec) (Result, error) {
	return func(QuerySpec) (Result, error) {
		return Result{Data: json.RawMessage(data), VersionMarker: version, IngestionErrors: ingestion}, nil
	}
}

func fail(err error) func(QuerySpec) (Result, error) {
	return func(QuerySpec) (Result, error) { return Result{}, err }
}

const licenseJSON = `{
	"subject_id": "alice",
	"resource_id": "go-101",
	"granted_at": "2025-05-01T00:00:00Z",
	"duration_units": 1,
	"expires_at": "2025-05-31T00:00:00Z",
	"is_active": true,
	"total_paid": 1000
}`

func newTestGateway(t *testing.T, c Client) (*Gateway, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	g := NewGateway(c, GatewayConfig{
		ViewTTL:     10 * time.Second,
		LastGoodTTL: time.Hour,
		Clock:       clk,
		Logger:      logger.NewNop(),
	})
	t.Cleanup(g.Close)
	return g, clk
}

func TestLicenseDecodesRecord(t *testing.T) {
	c := &stubClient{next: respond(licenseJSON, 7)}
	g, _ := newTestGateway(t, c)

	v := g.License(context.Background(), "alice", "go-101")
	require.False(t, v.Degraded)
	require.NotNil(t, v.Data)
	assert.Equal(t, "go-101", v.Data.ResourceID())
	assert.Equal(t, uint64(7), v.VersionMarker)
}

func TestLicenseNullMeansNoRow(t *testing.T) {
	c := &stubClient{next: respond(`null`, 3)}
	g, _ := newTestGateway(t, c)

	v := g.License(context.Background(), "alice", "go-101")
	assert.False(t, v.Degraded)
	assert.Nil(t, v.Data)
}

func TestViewsAreCachedUntilTTL(t *testing.T) {
	c := &stubClient{next: respond(licenseJSON, 7)}
	g, clk := newTestGateway(t, c)
	ctx := context.Background()

	g.License(ctx, "alice", "go-101")
	g.License(ctx, "alice", "go-101")
	assert.Equal(t, 1, c.count(KindLicense))

	clk.Advance(11 * time.Second)
	g.License(ctx, "alice", "go-101")
	assert.Equal(t, 2, c.count(KindLicense))
}

func TestFreshBypassesViewCache(t *testing.T) {
	c := &stubClient{next: respond(licenseJSON, 7)}
	g, _ := newTestGateway(t, c)
	ctx := context.Background()

	g.License(ctx, "alice", "go-101")
	c.set(respond(licenseJSON, 9))

	v := g.License(ctx, "alice", "go-101", Fresh())
	assert.Equal(t, uint64(9), v.VersionMarker)

	// The fresh result replaces the cached view.
	v = g.License(ctx, "alice", "go-101")
	assert.Equal(t, uint64(9), v.VersionMarker)
	assert.Equal(t, 2, c.count(KindLicense))
}

func TestDegradedReadsServeLastGood(t *testing.T) {
	tests := []struct {
		name    string
		next    func(QuerySpec) (Result, error)
		version uint64
	}{
		{"transport failure", fail(errors.New("connection refused")), 7},
		{"ingestion errors keep newer data", respond(licenseJSON, 8, "block 812 failed to decode"), 8},
		{"ingestion errors on older data", respond(licenseJSON, 6, "block 812 failed to decode"), 7},
		{"malformed record", respond(`{"subject_id": "alice"}`, 8), 7},
		{"invalid json", respond(`{`, 8), 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubClient{next: respond(licenseJSON, 7)}
			g, clk := newTestGateway(t, c)
			ctx := context.Background()

			require.False(t, g.License(ctx, "alice", "go-101").Degraded)

			c.set(tt.next)
			clk.Advance(11 * time.Second)

			v := g.License(ctx, "alice", "go-101")
			assert.True(t, v.Degraded)
			assert.NotEmpty(t, v.Reason)
			require.NotNil(t, v.Data)
			assert.Equal(t, tt.version, v.VersionMarker)
		})
	}
}

func TestIngestionErrorsReturnPartialData(t *testing.T) {
	c := &stubClient{next: respond(licenseJSON, 8, "block 812 failed to decode")}
	g, _ := newTestGateway(t, c)
	ctx := context.Background()

	v := g.License(ctx, "alice", "go-101")
	assert.True(t, v.Degraded)
	assert.Contains(t, v.Reason, "block 812 failed to decode")
	require.NotNil(t, v.Data)
	assert.Equal(t, "alice", v.Data.SubjectID())
	assert.Equal(t, uint64(8), v.VersionMarker)

	// partial data is not cached
	g.License(ctx, "alice", "go-101")
	assert.Equal(t, 2, c.count(KindLicense))
	_, ok := g.lastGood.Peek(QuerySpec{SubjectID: "alice", ResourceID: "go-101", Kind: KindLicense})
	assert.False(t, ok)
}

func TestDegradedWithoutHistoryIsEmpty(t *testing.T) {
	c := &stubClient{next: fail(errors.New("timeout"))}
	g, _ := newTestGateway(t, c)

	v := g.Progress(context.Background(), "alice", "go-101")
	assert.True(t, v.Degraded)
	assert.Empty(t, v.Data)
	assert.Zero(t, v.VersionMarker)
}

func TestLastGoodExpires(t *testing.T) {
	c := &stubClient{next: respond(licenseJSON, 7)}
	g, clk := newTestGateway(t, c)
	ctx := context.Background()

	g.License(ctx, "alice", "go-101")
	c.set(fail(errors.New("down")))
	clk.Advance(2 * time.Hour)

	v := g.License(ctx, "alice", "go-101")
	assert.True(t, v.Degraded)
	assert.Nil(t, v.Data)
}

func TestProgressAndOutline(t *testing.T) {
	c := &stubClient{next: func(q QuerySpec) (Result, error) {
		switch q.Kind {
		case KindProgress:
			return Result{Data: json.RawMessage(`[
				{"subject_id":"alice","resource_id":"go-101","section_id":"s1","started_at":"2025-05-01T00:00:00Z","completed_at":"2025-05-01T01:00:00Z","view_count":2},
				{"subject_id":"alice","resource_id":"go-101","section_id":"s2","started_at":"2025-05-02T00:00:00Z","view_count":1}
			]`), VersionMarker: 4}, nil
		case KindOutline:
			return Result{Data: json.RawMessage(`{"sections":[
				{"id":"s2","title":"Types","order":2},
				{"id":"s1","title":"Intro","order":1}
			]}`), VersionMarker: 4}, nil
		}
		return Result{}, errors.New("unexpected kind")
	}}
	g, _ := newTestGateway(t, c)
	ctx := context.Background()

	rows := g.Progress(ctx, "alice", "go-101")
	require.False(t, rows.Degraded)
	require.Len(t, rows.Data, 2)

	outline := g.Outline(ctx, "go-101")
	require.False(t, outline.Degraded)
	assert.Equal(t, "go-101", outline.Data.ResourceID())
	require.Equal(t, 2, outline.Data.Len())
	assert.Equal(t, "s1", outline.Data.Sections()[0].ID)
}

func TestCredentialBeforeMint(t *testing.T) {
	c := &stubClient{next: respond(``, 1)}
	g, _ := newTestGateway(t, c)

	v := g.Credential(context.Background(), "alice")
	assert.False(t, v.Degraded)
	assert.Nil(t, v.Data)
}

func TestInvalidateDropsSubjectViews(t *testing.T) {
	c := &stubClient{next: respond(licenseJSON, 7)}
	g, _ := newTestGateway(t, c)
	ctx := context.Background()

	g.License(ctx, "alice", "go-101")
	g.License(ctx, "bob", "go-101")

	assert.Equal(t, 1, g.Invalidate("alice", "go-101"))

	g.License(ctx, "alice", "go-101")
	g.License(ctx, "bob", "go-101")
	assert.Equal(t, 3, c.count(KindLicense))
}

func TestAnalytics(t *testing.T) {
	c := &stubClient{next: respond(`{"active_licenses":12,"total_licenses_sold":30,"completions":5,"average_progress":41.5}`, 2)}
	g, _ := newTestGateway(t, c)
	ctx := context.Background()

	v := g.Analytics(ctx, "go-101")
	require.False(t, v.Degraded)
	assert.Equal(t, "go-101", v.Data.ResourceID)
	assert.Equal(t, 12, v.Data.ActiveLicenses)
	assert.InDelta(t, 41.5, v.Data.AverageProgress, 0.001)

	g.Analytics(ctx, "go-101")
	assert.Equal(t, 1, c.count(KindAnalytics))
}

func TestAnalyticsDegraded(t *testing.T) {
	c := &stubClient{next: fail(errors.New("down"))}
	g, _ := newTestGateway(t, c)

	v := g.Analytics(context.Background(), "go-101")
	assert.True(t, v.Degraded)
	assert.Equal(t, "go-101", v.Data.ResourceID)
}

func TestWarmAnalytics(t *testing.T) {
	c := &stubClient{next: func(q QuerySpec) (Result, error) {
		if q.ResourceID == "broken" {
			return Result{}, errors.New("down")
		}
		return Result{Data: json.RawMessage(`{"completions":1}`), VersionMarker: 1}, nil
	}}
	g, _ := newTestGateway(t, c)

	n := g.WarmAnalytics(context.Background(), []string{"go-101", "broken", "rust-201"})
	assert.Equal(t, 2, n)
}
