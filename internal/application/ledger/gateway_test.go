package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseledger/internal/application/common/dto"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

var epoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClient struct {
	mu          sync.Mutex
	broadcasts  int
	broadcastFn func(n int, op Operation) (string, error)
	receipts    []Receipt
	receiptErr  error
	receiptCall int
	view        RawView
	viewErr     error
}

func (f *fakeClient) Broadcast(ctx context.Context, op Operation) (string, error) {
	f.mu.Lock()
	f.broadcasts++
	n := f.broadcasts
	fn := f.broadcastFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, op)
	}
	return fmt.Sprintf("tx-%d", n), nil
}

func (f *fakeClient) Receipt(ctx context.Context, txID string) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return Receipt{}, f.receiptErr
	}
	if len(f.receipts) == 0 {
		return Receipt{Status: ReceiptPending}, nil
	}
	i := min(f.receiptCall, len(f.receipts)-1)
	f.receiptCall++
	return f.receipts[i], nil
}

func (f *fakeClient) ReadCurrent(ctx context.Context, subjectID, resourceID string) (RawView, error) {
	return f.view, f.viewErr
}

func (f *fakeClient) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broadcasts
}

func newTestGateway(c Client) (*Gateway, *clock.Fake) {
	clk := clock.NewAutoFake(epoch)
	g := NewGateway(c, GatewayConfig{
		Retry:        retry.Policy{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, MaxAttempts: 3},
		PollInterval: time.Second,
		Clock:        clk,
		Logger:       logger.NewNop(),
	})
	return g, clk
}

func purchaseOp() Operation {
	return Operation{
		Type:       OpPurchaseLicense,
		SubjectID:  "alice",
		ResourceID: "go-101",
		Params:     Params{DurationUnits: 1, Price: 1000, Currency: "USD"},
	}
}

func TestSubmitReturnsHandle(t *testing.T) {
	c := &fakeClient{}
	g, _ := newTestGateway(c)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)
	assert.Equal(t, "tx-1", h.TxID)
	assert.NotEmpty(t, h.ID)
	assert.NotEmpty(t, h.Operation.IdempotencyKey)
	assert.Equal(t, epoch, h.SubmittedAt)

	got, ok := g.Lookup(h.ID)
	require.True(t, ok)
	assert.Equal(t, h, got)
}

func TestSubmitValidatesOperation(t *testing.T) {
	g, _ := newTestGateway(&fakeClient{})

	op := purchaseOp()
	op.Params.DurationUnits = 0
	_, err := g.Submit(context.Background(), op)
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestSubmitDeduplicatesUnconfirmedOperation(t *testing.T) {
	c := &fakeClient{}
	g, _ := newTestGateway(c)

	first, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)
	second, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, c.broadcastCount())
}

func TestSubmitKeyedOnPlannedState(t *testing.T) {
	c := &fakeClient{}
	g, _ := newTestGateway(c)
	ctx := context.Background()

	first, err := g.Submit(ctx, purchaseOp().KeyedOn("2025-07-01T09:00:00Z", "0"))
	require.NoError(t, err)
	retried, err := g.Submit(ctx, purchaseOp().KeyedOn("2025-07-01T09:00:00Z", "0"))
	require.NoError(t, err)
	next, err := g.Submit(ctx, purchaseOp().KeyedOn("2025-07-31T09:00:00Z", "1"))
	require.NoError(t, err)

	assert.Same(t, first, retried)
	assert.NotEqual(t, first.ID, next.ID)
	assert.NotEqual(t, first.Operation.IdempotencyKey, next.Operation.IdempotencyKey)
	assert.Equal(t, 2, c.broadcastCount())
}

func TestSubmitCollapsesConcurrentDuplicates(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	c := &fakeClient{broadcastFn: func(n int, op Operation) (string, error) {
		started.Add(1)
		<-release
		return "tx-shared", nil
	}}
	g, _ := newTestGateway(c)

	const n = 8
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := g.Submit(context.Background(), purchaseOp())
			assert.NoError(t, err)
			handles[i] = h
		}()
	}

	require.Eventually(t, func() bool { return started.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, c.broadcastCount())
	for _, h := range handles {
		require.NotNil(t, h)
		assert.Equal(t, "tx-shared", h.TxID)
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	c := &fakeClient{broadcastFn: func(n int, op Operation) (string, error) {
		if n < 3 {
			return "", fmt.Errorf("relay busy: %w", ErrTransient)
		}
		return "tx-ok", nil
	}}
	g, clk := newTestGateway(c)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)
	assert.Equal(t, "tx-ok", h.TxID)
	assert.Equal(t, 3, c.broadcastCount())
	// 1s + 2s of backoff on the auto-advancing clock.
	assert.Equal(t, epoch.Add(3*time.Second), clk.Now())
}

func TestSubmitReportsOperationFailedAfterRetries(t *testing.T) {
	c := &fakeClient{broadcastFn: func(n int, op Operation) (string, error) {
		return "", ErrTransient
	}}
	g, _ := newTestGateway(c)

	_, err := g.Submit(context.Background(), purchaseOp())
	require.Error(t, err)
	assert.True(t, errors.IsOperationFailed(err))
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, c.broadcastCount())
}

func TestSubmitDoesNotRetryRejection(t *testing.T) {
	c := &fakeClient{broadcastFn: func(n int, op Operation) (string, error) {
		return "", &RejectedError{Reason: "insufficient funds"}
	}}
	g, _ := newTestGateway(c)

	_, err := g.Submit(context.Background(), purchaseOp())
	require.Error(t, err)
	assert.True(t, errors.IsLedgerRejected(err))
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Equal(t, 1, c.broadcastCount())
}

func TestAwaitConfirmationConfirmed(t *testing.T) {
	c := &fakeClient{receipts: []Receipt{
		{Status: ReceiptPending},
		{Status: ReceiptPending},
		{Status: ReceiptConfirmed, VersionMarker: 41},
	}}
	g, _ := newTestGateway(c)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)

	conf, err := g.AwaitConfirmation(context.Background(), h, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, conf.Status)
	assert.Equal(t, uint64(41), conf.VersionMarker)

	_, ok := g.Lookup(h.ID)
	assert.False(t, ok, "confirmed handles are forgotten")

	again, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)
	assert.NotEqual(t, h.ID, again.ID)
	assert.Equal(t, 2, c.broadcastCount())
}

func TestAwaitConfirmationRejected(t *testing.T) {
	c := &fakeClient{receipts: []Receipt{{Status: ReceiptRejected, Reason: "expired quote"}}}
	g, _ := newTestGateway(c)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)

	conf, err := g.AwaitConfirmation(context.Background(), h, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Rejected, conf.Status)
	assert.Equal(t, "expired quote", conf.Reason)
}

func TestAwaitConfirmationTimesOut(t *testing.T) {
	c := &fakeClient{receiptErr: stderrors.New("relay unreachable")}
	g, clk := newTestGateway(c)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)

	conf, err := g.AwaitConfirmation(context.Background(), h, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, conf.Status)
	assert.Equal(t, epoch.Add(5*time.Second), clk.Now())

	_, ok := g.Lookup(h.ID)
	assert.True(t, ok, "timed out handles stay pending")
}

func TestAwaitConfirmationHonoursContext(t *testing.T) {
	c := &fakeClient{}
	g, _ := newTestGateway(c)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.AwaitConfirmation(ctx, h, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdoptRestoresDeduplication(t *testing.T) {
	c := &fakeClient{}
	g, _ := newTestGateway(c)

	op := purchaseOp().WithDefaultKey()
	recovered := &Handle{ID: "op_recovered", TxID: "tx-old", Operation: op, SubmittedAt: epoch}
	g.Adopt(recovered)

	h, err := g.Submit(context.Background(), purchaseOp())
	require.NoError(t, err)
	assert.Same(t, recovered, h)
	assert.Zero(t, c.broadcastCount())
}

func TestReadCurrentConvertsRecords(t *testing.T) {
	started := epoch.Add(-time.Hour)
	c := &fakeClient{view: RawView{
		License: &dto.LicenseRecord{
			SubjectID: "alice", ResourceID: "go-101",
			GrantedAt: epoch, DurationUnits: 1, ExpiresAt: epoch.Add(30 * 24 * time.Hour),
			IsActive: true, TotalPaid: 1000,
		},
		Sections: []dto.SectionRecord{
			{SubjectID: "alice", ResourceID: "go-101", SectionID: "intro", StartedAt: &started, ViewCount: 1},
		},
		VersionMarker: 9,
	}}
	g, _ := newTestGateway(c)

	snap, err := g.ReadCurrent(context.Background(), "alice", "go-101")
	require.NoError(t, err)
	require.NotNil(t, snap.License)
	assert.Equal(t, "go-101", snap.License.ResourceID())
	require.Len(t, snap.Sections, 1)
	assert.True(t, snap.Sections[0].IsStarted())
	assert.Nil(t, snap.Credential)
	assert.Equal(t, uint64(9), snap.VersionMarker)
}

func TestReadCurrentFailure(t *testing.T) {
	c := &fakeClient{viewErr: ErrTransient}
	g, _ := newTestGateway(c)

	_, err := g.ReadCurrent(context.Background(), "alice", "go-101")
	require.Error(t, err)
	assert.True(t, errors.IsOperationFailed(err))
}
