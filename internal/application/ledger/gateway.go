package ledger

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"courseledger/internal/application/common/dto"
	"courseledger/internal/domain/credential"
	"courseledger/internal/domain/license"
	"courseledger/internal/domain/progress"
	"courseledger/internal/infrastructure/metrics"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/id"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

// Handle identifies a submitted operation.
type Handle struct {
	ID          string    `json:"id"`
	TxID        string    `json:"tx_id"`
	Operation   Operation `json:"operation"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type ConfirmationStatus string

const (
	Confirmed ConfirmationStatus = "confirmed"
	TimedOut  ConfirmationStatus = "timed_out"
	Rejected  ConfirmationStatus = "rejected"
)

// Confirmation is the result of AwaitConfirmation.
type Confirmation struct {
	Status        ConfirmationStatus
	VersionMarker uint64
	Reason        string
}

// Snapshot is a strongly consistent read of ledger state.
type Snapshot struct {
	License       *license.License
	Sections      progress.Sections
	Credential    *credential.Credential
	VersionMarker uint64
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Retry bounds transient broadcast and read failures.
	Retry retry.Policy
	// PollInterval is the wait between receipt checks.
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       logger.Interface
}

// Gateway submits operations to the ledger. Submissions sharing an
// idempotency key collapse onto one handle until the ledger finalizes it.
type Gateway struct {
	client       Client
	clock        clock.Clock
	retry        retry.Policy
	pollInterval time.Duration
	logger       logger.Interface

	submits singleflight.Group

	mu    sync.Mutex
	byKey map[string]*Handle
	byID  map[string]*Handle
}

func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry = retry.Default()
	}
	return &Gateway{
		client:       client,
		clock:        cfg.Clock,
		retry:        cfg.Retry,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger.Named("ledger"),
		byKey:        make(map[string]*Handle),
		byID:         make(map[string]*Handle),
	}
}

// Submit broadcasts op and returns once the ledger has accepted it. While a
// previous submission with the same idempotency key is unconfirmed, its
// handle is returned instead of broadcasting again.
func (g *Gateway) Submit(ctx context.Context, op Operation) (*Handle, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	op = op.WithDefaultKey()

	v, err, _ := g.submits.Do(op.IdempotencyKey, func() (any, error) {
		if h, ok := g.pending(op.IdempotencyKey); ok {
			g.logger.Infow("duplicate submission, reusing handle",
				"handle", h.ID,
				"op", op.Type,
			)
			metrics.LedgerSubmission(string(op.Type), "deduplicated")
			return h, nil
		}
		return g.broadcast(ctx, op)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (g *Gateway) pending(key string) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.byKey[key]
	return h, ok
}

func (g *Gateway) broadcast(ctx context.Context, op Operation) (*Handle, error) {
	var txID string
	err := retry.Do(ctx, g.clock, g.retry, func(ctx context.Context) error {
		var err error
		txID, err = g.client.Broadcast(ctx, op)
		if err == nil {
			return nil
		}
		var rejected *RejectedError
		if stderrors.As(err, &rejected) {
			return retry.Permanent(err)
		}
		g.logger.Warnw("ledger broadcast failed",
			"op", op.Type,
			"subject_id", op.SubjectID,
			"resource_id", op.ResourceID,
			"error", err,
		)
		return err
	})

	if err != nil {
		var rejected *RejectedError
		if stderrors.As(err, &rejected) {
			metrics.LedgerSubmission(string(op.Type), "rejected")
			return nil, errors.NewLedgerRejectedError(rejected.Reason, op.String())
		}
		metrics.LedgerSubmission(string(op.Type), "failed")
		return nil, errors.NewOperationFailedError(err, op.String())
	}

	now := g.clock.Now()
	h := &Handle{
		ID:          id.NewOperationID(now),
		TxID:        txID,
		Operation:   op,
		SubmittedAt: now,
	}
	g.Adopt(h)
	metrics.LedgerSubmission(string(op.Type), "accepted")
	g.logger.Infow("ledger operation submitted",
		"handle", h.ID,
		"tx_id", txID,
		"op", op.Type,
		"subject_id", op.SubjectID,
		"resource_id", op.ResourceID,
	)
	return h, nil
}

// Adopt registers a handle submitted earlier, e.g. one recovered from the
// pending-operation journal, so idempotent resubmission keeps working.
func (g *Gateway) Adopt(h *Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byKey[h.Operation.IdempotencyKey] = h
	g.byID[h.ID] = h
}

// Lookup returns the handle with the given id while it is unconfirmed.
func (g *Gateway) Lookup(handleID string) (*Handle, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.byID[handleID]
	return h, ok
}

func (g *Gateway) finish(h *Handle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.byKey[h.Operation.IdempotencyKey]; ok && current.ID == h.ID {
		delete(g.byKey, h.Operation.IdempotencyKey)
	}
	delete(g.byID, h.ID)
}

// AwaitConfirmation polls the receipt of h until the ledger confirms or
// rejects it or timeout elapses. Receipt errors are treated as "not yet".
// The error is non-nil only when ctx ends first.
func (g *Gateway) AwaitConfirmation(ctx context.Context, h *Handle, timeout time.Duration) (Confirmation, error) {
	deadline := g.clock.Now().Add(timeout)
	for {
		r, err := g.client.Receipt(ctx, h.TxID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Confirmation{}, ctx.Err()
			}
			g.logger.Debugw("receipt check failed",
				"handle", h.ID,
				"error", err,
			)
		case r.Status == ReceiptConfirmed:
			c := Confirmation{Status: Confirmed, VersionMarker: r.VersionMarker}
			g.finish(h)
			g.logger.Infow("ledger operation confirmed",
				"handle", h.ID,
				"version_marker", r.VersionMarker,
			)
			return c, nil
		case r.Status == ReceiptRejected:
			c := Confirmation{Status: Rejected, Reason: r.Reason}
			g.finish(h)
			g.logger.Warnw("ledger operation rejected after broadcast",
				"handle", h.ID,
				"reason", r.Reason,
			)
			return c, nil
		}

		remaining := deadline.Sub(g.clock.Now())
		if remaining <= 0 {
			return Confirmation{Status: TimedOut}, nil
		}
		if err := clock.Sleep(ctx, g.clock, min(g.pollInterval, remaining)); err != nil {
			return Confirmation{}, err
		}
	}
}

// ReadCurrent reads ledger state directly. It is the fallback when the
// index is degraded; transient failures are retried.
func (g *Gateway) ReadCurrent(ctx context.Context, subjectID, resourceID string) (*Snapshot, error) {
	var raw RawView
	err := retry.Do(ctx, g.clock, g.retry, func(ctx context.Context) error {
		var err error
		raw, err = g.client.ReadCurrent(ctx, subjectID, resourceID)
		return err
	})
	if err != nil {
		return nil, errors.NewOperationFailedError(err, "read current "+subjectID+"/"+resourceID)
	}
	return snapshotFromRaw(raw)
}

func snapshotFromRaw(raw RawView) (*Snapshot, error) {
	s := &Snapshot{VersionMarker: raw.VersionMarker}
	if raw.License != nil {
		l, err := raw.License.ToDomain()
		if err != nil {
			return nil, errors.NewInternalError("malformed ledger license", err.Error())
		}
		s.License = l
	}
	rows, errs := dto.SectionsToDomain(raw.Sections)
	if len(errs) > 0 {
		return nil, errors.NewInternalError("malformed ledger progress", stderrors.Join(errs...).Error())
	}
	s.Sections = rows
	if raw.Credential != nil {
		c, err := raw.Credential.ToDomain()
		if err != nil {
			return nil, errors.NewInternalError("malformed ledger credential", err.Error())
		}
		s.Credential = c
	}
	return s, nil
}
