package reconcile

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
	"courseledger/internal/infrastructure/metrics"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/goroutine"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/retry"
)

// ErrNoChange is returned by a Plan when the mutation is already reflected
// in the current projection.
var ErrNoChange = stderrors.New("no change")

// Outcome is how far a mutation got before Perform returned.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	// OutcomePending means the ledger accepted the operation but did not
	// confirm it in time. Reconcile the handle later.
	OutcomePending  Outcome = "pending_confirmation"
	OutcomeIndexLag Outcome = "index_lag"
	OutcomeNoop     Outcome = "noop"
)

// Ledger is the part of the ledger gateway the coordinator drives.
type Ledger interface {
	Submit(ctx context.Context, op ledger.Operation) (*ledger.Handle, error)
	AwaitConfirmation(ctx context.Context, h *ledger.Handle, timeout time.Duration) (ledger.Confirmation, error)
	Adopt(h *ledger.Handle)
}

// Config configures a Coordinator.
type Config struct {
	ConfirmationTimeout time.Duration
	// Convergence paces index polls after confirmation. MaxAttempts bounds
	// the number of polls.
	Convergence retry.Policy
	// Background paces retries of unconfirmed and lagging operations.
	// MaxAttempts bounds how many are scheduled automatically.
	Background retry.Policy

	// Journal and Publisher are optional.
	Journal   Journal
	Publisher Publisher
	// Invalidate drops cached index views. An empty resourceID means every
	// view of the subject.
	Invalidate func(subjectID, resourceID string)
	// Origin tags published events so an instance can skip its own.
	Origin string

	Clock  clock.Clock
	Logger logger.Interface
}

// Coordinator runs mutations through optimistic patch, submission,
// confirmation and convergence.
type Coordinator struct {
	ledger Ledger
	cfg    Config
	clock  clock.Clock
	logger logger.Interface
	locks  *keyedMutex

	mu       sync.Mutex
	tracked  map[string]*tracked
	watchers map[Key]map[*watcher]struct{}
	stores   []Pruner
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(l Ledger, cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewLogger()
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 30 * time.Second
	}
	if cfg.Convergence.Initial <= 0 {
		cfg.Convergence = retry.Default()
	}
	if cfg.Background.Initial <= 0 {
		cfg.Background = retry.Policy{Initial: 5 * time.Second, Max: 5 * time.Minute, Multiplier: 2, Jitter: 0.2, MaxAttempts: 10}
	}
	if cfg.Invalidate == nil {
		cfg.Invalidate = func(string, string) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ledger:   l,
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger.Named("reconcile"),
		locks:    newKeyedMutex(),
		tracked:  make(map[string]*tracked),
		watchers: make(map[Key]map[*watcher]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Track registers an overlay store so index events can prune it.
func (c *Coordinator) Track(p Pruner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stores = append(c.stores, p)
}

// Mutation describes one reconciled write.
type Mutation[T any] struct {
	Type  ledger.OperationType
	Key   Key
	Kind  index.Kind
	Views *ViewStore[T]
	// Read loads the index view of the value; with index.Fresh it must not
	// be served from a cache.
	Read func(ctx context.Context, opts ...index.ReadOption) index.View[T]
	// Plan derives the ledger operation and the optimistic value from the
	// current projection. It returns ErrNoChange for no-ops.
	Plan func(current Projection[T]) (ledger.Operation, T, error)
	// Invalidate drops cached views touched by the mutation. Defaults to
	// the coordinator's invalidation for Key.
	Invalidate func()
}

// Result is what Perform reports back.
type Result[T any] struct {
	Outcome    Outcome        `json:"outcome"`
	Projection Projection[T]  `json:"projection"`
	Handle     *ledger.Handle `json:"handle,omitempty"`
}

// Perform runs m under the key's mutation lock. The lock is held until the
// ledger confirms, rejects or times out, and released before convergence.
//
// If ctx ends after submission, Perform returns ctx.Err() and the rest of
// the work continues in the background without notifying the caller.
func Perform[T any](ctx context.Context, c *Coordinator, m Mutation[T]) (Result[T], error) {
	if c.isClosed() {
		return Result[T]{}, errors.NewInternalError("coordinator closed")
	}
	if m.Invalidate == nil {
		key := m.Key
		m.Invalidate = func() { c.invalidateKey(key) }
	}

	unlock, err := c.locks.Lock(ctx, m.Key)
	if err != nil {
		return Result[T]{}, err
	}

	current := m.Views.Resolve(m.Key, m.Read(ctx))
	op, next, err := m.Plan(current)
	if stderrors.Is(err, ErrNoChange) {
		unlock()
		metrics.ReconcileOutcome(string(m.Type), string(OutcomeNoop))
		return Result[T]{Outcome: OutcomeNoop, Projection: current}, nil
	}
	if err != nil {
		unlock()
		return Result[T]{}, err
	}

	p := m.Views.push(m.Key, next)
	h, err := c.ledger.Submit(ctx, op)
	if err != nil {
		m.Views.rollback(p)
		unlock()
		metrics.ReconcileOutcome(string(m.Type), outcomeLabel(err))
		return Result[T]{}, err
	}
	m.Views.mark(p, PendingSubmitted, h.ID, 0)
	c.journal(h, JournalSubmitted, 0)

	r := &run[T]{c: c, m: m, p: p, h: h, unlock: unlock}
	type reply struct {
		res Result[T]
		err error
	}
	done := make(chan reply, 1)
	if !c.spawn("confirm "+h.ID, func() {
		res, err := r.confirm(c.ctx)
		done <- reply{res, err}
	}) {
		r.release()
		return Result[T]{}, errors.NewInternalError("coordinator closed")
	}

	select {
	case rep := <-done:
		return rep.res, rep.err
	case <-ctx.Done():
		c.logger.Infow("caller detached, reconciling in background",
			"handle", h.ID,
			"key", m.Key.String(),
		)
		return Result[T]{}, ctx.Err()
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.IsLedgerRejected(err):
		return "rejected"
	case errors.IsOperationFailed(err):
		return "failed"
	default:
		return "error"
	}
}

// run carries one mutation from confirmation to convergence.
type run[T any] struct {
	c *Coordinator
	m Mutation[T]
	p *patch
	h *ledger.Handle

	// confirmed is set once the ledger confirms; target is its version.
	confirmed bool
	target    uint64

	mu     sync.Mutex
	unlock func()
}

func (r *run[T]) release() {
	r.mu.Lock()
	unlock := r.unlock
	r.unlock = nil
	r.mu.Unlock()
	if unlock != nil {
		unlock()
	}
}

func (r *run[T]) projection() Projection[T] {
	proj, _ := r.m.Views.lookup(r.p)
	return proj
}

// confirm awaits the ledger and branches on its answer. It always releases
// the mutation lock.
func (r *run[T]) confirm(ctx context.Context) (Result[T], error) {
	c := r.c
	op := string(r.h.Operation.Type)

	conf, err := c.ledger.AwaitConfirmation(ctx, r.h, c.cfg.ConfirmationTimeout)
	if err != nil {
		conf = ledger.Confirmation{Status: ledger.TimedOut}
	}

	switch conf.Status {
	case ledger.Rejected:
		r.m.Views.rollback(r.p)
		r.release()
		c.forget(r.h.ID)
		metrics.ReconcileOutcome(op, "rejected")
		c.logger.Warnw("operation rejected, optimistic value rolled back",
			"handle", r.h.ID,
			"reason", conf.Reason,
		)
		return Result[T]{}, errors.NewLedgerRejectedError(conf.Reason, r.h.Operation.String())

	case ledger.TimedOut:
		r.m.Views.mark(r.p, PendingUnconfirmed, r.h.ID, 0)
		r.release()
		c.journal(r.h, JournalUnconfirmed, 0)
		c.track(r.h, r.m.Key, r.resume)
		metrics.ReconcileOutcome(op, string(OutcomePending))
		return Result[T]{Outcome: OutcomePending, Projection: r.projection(), Handle: r.h}, nil
	}

	r.confirmed = true
	r.target = conf.VersionMarker
	r.m.Views.mark(r.p, PendingIndexLag, r.h.ID, conf.VersionMarker)
	r.release()
	return r.converge(ctx, c.cfg.Convergence)
}

// converge polls the index until it reports the confirmed version.
func (r *run[T]) converge(ctx context.Context, policy retry.Policy) (Result[T], error) {
	c := r.c
	op := string(r.h.Operation.Type)

	var latest index.View[T]
	ok := c.poll(ctx, r.m.Key, policy, func(ctx context.Context) bool {
		latest = r.m.Read(ctx, index.Fresh())
		return !latest.Degraded && latest.VersionMarker >= r.target
	})
	r.m.Invalidate()

	if ok {
		r.m.Views.settle(r.p, latest.Data, latest.VersionMarker)
		c.publishSettled(r.m.Key, r.m.Kind, latest.VersionMarker)
		c.forget(r.h.ID)
		metrics.ReconcileOutcome(op, string(OutcomeConverged))
		return Result[T]{
			Outcome: OutcomeConverged,
			Projection: Projection[T]{
				Value:         latest.Data,
				Freshness:     FreshnessConfirmed,
				Pending:       PendingNone,
				VersionMarker: latest.VersionMarker,
			},
			Handle: r.h,
		}, nil
	}

	c.logger.Infow("index has not caught up, retrying in background",
		"handle", r.h.ID,
		"target_version", r.target,
		"index_version", latest.VersionMarker,
	)
	c.journal(r.h, JournalIndexLag, r.target)
	c.track(r.h, r.m.Key, r.resume)
	metrics.ReconcileOutcome(op, string(OutcomeIndexLag))
	return Result[T]{Outcome: OutcomeIndexLag, Projection: r.projection(), Handle: r.h}, nil
}

// resume continues a tracked run from wherever it stopped.
func (r *run[T]) resume(ctx context.Context) (Outcome, error) {
	var (
		res Result[T]
		err error
	)
	if !r.confirmed {
		res, err = r.confirm(ctx)
	} else {
		res, err = r.converge(ctx, r.c.cfg.Convergence)
	}
	return res.Outcome, err
}

type watcher struct {
	ch chan struct{}
}

// poll calls check on the policy's schedule until it reports true, the
// schedule is exhausted or ctx ends. Index events for key cut a wait short.
func (c *Coordinator) poll(ctx context.Context, key Key, policy retry.Policy, check func(context.Context) bool) bool {
	w := &watcher{ch: make(chan struct{}, 1)}
	c.mu.Lock()
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[*watcher]struct{})
	}
	c.watchers[key][w] = struct{}{}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.watchers[key], w)
		if len(c.watchers[key]) == 0 {
			delete(c.watchers, key)
		}
		c.mu.Unlock()
	}()

	s := policy.Schedule()
	for polls := 1; ; polls++ {
		if check(ctx) {
			metrics.ConvergencePolls(polls)
			return true
		}
		delay, more := s.Next()
		if !more {
			metrics.ConvergencePolls(polls)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-w.ch:
		case <-c.clock.After(delay):
		}
	}
}

func (c *Coordinator) invalidateKey(k Key) {
	if k.IsCredential() {
		c.cfg.Invalidate(k.SubjectID, "")
		return
	}
	c.cfg.Invalidate(k.SubjectID, k.ResourceID)
}

func (c *Coordinator) journal(h *ledger.Handle, state JournalState, target uint64) {
	if c.cfg.Journal == nil {
		return
	}
	err := c.cfg.Journal.Save(c.ctx, JournalEntry{
		Handle:        *h,
		State:         state,
		TargetVersion: target,
		UpdatedAt:     c.clock.Now(),
	})
	if err != nil {
		c.logger.Errorw("failed to journal operation",
			"handle", h.ID,
			"state", state,
			"error", err,
		)
	}
}

func (c *Coordinator) publishSettled(k Key, kind index.Kind, version uint64) {
	if c.cfg.Publisher == nil {
		return
	}
	resource := k.ResourceID
	if k.IsCredential() {
		resource = ""
	}
	err := c.cfg.Publisher.PublishSettled(c.ctx, IndexEvent{
		Type:          EventSettled,
		SubjectID:     k.SubjectID,
		ResourceID:    resource,
		Kind:          kind,
		VersionMarker: version,
		Origin:        c.cfg.Origin,
		Timestamp:     c.clock.Now().Unix(),
	})
	if err != nil {
		c.logger.Warnw("failed to publish settled event",
			"key", k.String(),
			"error", err,
		)
	}
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// spawn runs fn on a tracked goroutine unless the coordinator is closed.
func (c *Coordinator) spawn(name string, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	goroutine.SafeGoTracked(&c.wg, c.logger, name, fn)
	return true
}
