package reconcile

import (
	"context"
	"sync"

	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/retry"
)

// tracked is an operation that left Perform unsettled: unconfirmed, or
// confirmed with the index lagging.
type tracked struct {
	handle   *ledger.Handle
	key      Key
	resume   func(ctx context.Context) (Outcome, error)
	schedule *retry.Schedule
	timer    clock.Timer

	run sync.Mutex
}

// Summary counts the outcomes of a ReconcileAll pass.
type Summary struct {
	Converged int `json:"converged"`
	Pending   int `json:"pending"`
	IndexLag  int `json:"index_lag"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

func (c *Coordinator) track(h *ledger.Handle, key Key, resume func(context.Context) (Outcome, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	t, ok := c.tracked[h.ID]
	if !ok {
		t = &tracked{handle: h, key: key, schedule: c.cfg.Background.Schedule()}
		c.tracked[h.ID] = t
	}
	t.resume = resume
	c.scheduleLocked(t)
}

func (c *Coordinator) scheduleLocked(t *tracked) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	delay, ok := t.schedule.Next()
	if !ok {
		c.logger.Warnw("automatic reconciliation exhausted, waiting for sweep",
			"handle", t.handle.ID,
			"attempts", t.schedule.Attempts(),
		)
		return
	}
	t.timer = c.clock.AfterFunc(delay, func() {
		c.spawn("reconcile "+t.handle.ID, func() {
			if _, err := c.runTracked(c.ctx, t); err != nil {
				c.logger.Warnw("background reconciliation failed",
					"handle", t.handle.ID,
					"error", err,
				)
			}
		})
	})
}

// forget drops a settled operation and its journal row.
func (c *Coordinator) forget(handleID string) {
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.Delete(c.ctx, handleID); err != nil {
			c.logger.Errorw("failed to delete journal entry",
				"handle", handleID,
				"error", err,
			)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tracked[handleID]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(c.tracked, handleID)
	}
}

// runTracked resumes t unless it has been settled meanwhile, in which case
// the returned outcome is empty.
func (c *Coordinator) runTracked(ctx context.Context, t *tracked) (Outcome, error) {
	t.run.Lock()
	defer t.run.Unlock()

	c.mu.Lock()
	if c.tracked[t.handle.ID] != t {
		c.mu.Unlock()
		return "", nil
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	resume := t.resume
	c.mu.Unlock()

	return resume(ctx)
}

// Reconcile retries an unsettled operation now.
func (c *Coordinator) Reconcile(ctx context.Context, handleID string) (Outcome, error) {
	c.mu.Lock()
	t, ok := c.tracked[handleID]
	c.mu.Unlock()
	if !ok {
		return "", errors.NewNotFoundError("no unsettled operation with this handle", handleID)
	}
	outcome, err := c.runTracked(ctx, t)
	if err == nil && outcome == "" {
		return "", errors.NewNotFoundError("operation already settled", handleID)
	}
	return outcome, err
}

// ReconcileAll retries every unsettled operation once.
func (c *Coordinator) ReconcileAll(ctx context.Context) Summary {
	c.mu.Lock()
	ids := make([]string, 0, len(c.tracked))
	for id := range c.tracked {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var sum Summary
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		outcome, err := c.Reconcile(ctx, id)
		switch {
		case errors.IsNotFoundError(err):
		case errors.IsLedgerRejected(err):
			sum.Rejected++
		case err != nil:
			sum.Failed++
		case outcome == OutcomeConverged:
			sum.Converged++
		case outcome == OutcomePending:
			sum.Pending++
		case outcome == OutcomeIndexLag:
			sum.IndexLag++
		}
	}
	return sum
}

// Pending returns the handles of unsettled operations.
func (c *Coordinator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.tracked))
	for id := range c.tracked {
		ids = append(ids, id)
	}
	return ids
}

// KeyFor returns the mutation key and index kind an operation touches.
func KeyFor(op ledger.Operation) (Key, index.Kind) {
	switch op.Type {
	case ledger.OpAddToCredential:
		return CredentialKey(op.SubjectID), index.KindCredential
	case ledger.OpStartSection, ledger.OpCompleteSection:
		return ResourceKey(op.SubjectID, op.ResourceID), index.KindProgress
	default:
		return ResourceKey(op.SubjectID, op.ResourceID), index.KindLicense
	}
}

// Recover re-attaches journaled operations after a restart and retries each
// once. Recovered operations have no local overlay: once confirmed, their
// cached views are invalidated and the index is trusted to catch up.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	if c.cfg.Journal == nil {
		return 0, nil
	}
	entries, err := c.cfg.Journal.List(ctx)
	if err != nil {
		return 0, err
	}

	var recovered []string
	for _, e := range entries {
		h := e.Handle
		c.mu.Lock()
		_, known := c.tracked[h.ID]
		c.mu.Unlock()
		if known {
			continue
		}
		c.ledger.Adopt(&h)
		key, kind := KeyFor(h.Operation)
		c.track(&h, key, c.recoveredResume(&h, key, kind, e))
		recovered = append(recovered, h.ID)
	}

	for _, id := range recovered {
		if _, err := c.Reconcile(ctx, id); err != nil && !errors.IsNotFoundError(err) {
			c.logger.Warnw("recovered operation not settled",
				"handle", id,
				"error", err,
			)
		}
	}
	c.logger.Infow("journal recovered",
		"operations", len(recovered),
	)
	return len(recovered), nil
}

func (c *Coordinator) recoveredResume(h *ledger.Handle, key Key, kind index.Kind, e JournalEntry) func(context.Context) (Outcome, error) {
	confirmed := e.State == JournalIndexLag
	target := e.TargetVersion

	var resume func(context.Context) (Outcome, error)
	resume = func(ctx context.Context) (Outcome, error) {
		if !confirmed {
			conf, err := c.ledger.AwaitConfirmation(ctx, h, c.cfg.ConfirmationTimeout)
			switch {
			case err != nil || conf.Status == ledger.TimedOut:
				c.journal(h, JournalUnconfirmed, 0)
				c.track(h, key, resume)
				return OutcomePending, nil
			case conf.Status == ledger.Rejected:
				c.forget(h.ID)
				return "", errors.NewLedgerRejectedError(conf.Reason, h.Operation.String())
			}
			confirmed = true
			target = conf.VersionMarker
		}
		c.invalidateKey(key)
		c.publishSettled(key, kind, target)
		c.forget(h.ID)
		return OutcomeConverged, nil
	}
	return resume
}

// NotifyIndexed handles an index event: convergence waiters for the key
// are woken, cached views dropped and covered overlays pruned. Events this
// instance published itself are ignored.
func (c *Coordinator) NotifyIndexed(e IndexEvent) {
	if e.Origin != "" && e.Origin == c.cfg.Origin {
		return
	}
	key := e.Key()

	c.mu.Lock()
	for w := range c.watchers[key] {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
	stores := append([]Pruner(nil), c.stores...)
	c.mu.Unlock()

	c.invalidateKey(key)
	for _, s := range stores {
		s.Prune(key, e.VersionMarker)
	}
}

// Close stops background retries and waits for running work. Unsettled
// operations stay in the journal.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, t := range c.tracked {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
