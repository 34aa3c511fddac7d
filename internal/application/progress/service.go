// Package progress records section starts and completions and derives
// course completion from them.
package progress

import (
	"context"

	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/progress"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
)

// IndexReader reads progress rows and course outlines.
type IndexReader interface {
	Progress(ctx context.Context, subjectID, resourceID string, opts ...index.ReadOption) index.View[progress.Sections]
	Outline(ctx context.Context, resourceID string, opts ...index.ReadOption) index.View[progress.Outline]
}

// Report is the derived completion of a course together with the rows it
// was computed from.
type Report struct {
	Progress progress.CourseProgress
	Outline  progress.Outline
	Sections reconcile.Projection[progress.Sections]
	// OutlineDegraded is set when the outline came from a degraded read.
	OutlineDegraded bool
}

// Aggregator tracks per-section progress for subjects.
type Aggregator struct {
	coord  *reconcile.Coordinator
	index  IndexReader
	views  *reconcile.ViewStore[progress.Sections]
	clock  clock.Clock
	logger logger.Interface
}

func NewAggregator(coord *reconcile.Coordinator, idx IndexReader, clk clock.Clock, log logger.Interface) *Aggregator {
	if clk == nil {
		clk = clock.Real()
	}
	views := reconcile.NewViewStore[progress.Sections]()
	coord.Track(views)
	return &Aggregator{
		coord:  coord,
		index:  idx,
		views:  views,
		clock:  clk,
		logger: log,
	}
}

// Sections returns the subject's progress rows for a resource, including
// local writes the index has not caught up with.
func (a *Aggregator) Sections(ctx context.Context, subjectID, resourceID string) reconcile.Projection[progress.Sections] {
	key := reconcile.ResourceKey(subjectID, resourceID)
	return a.views.Resolve(key, a.index.Progress(ctx, subjectID, resourceID))
}

// StartSection records the first view of a section. Starting a started
// section is a no-op.
func (a *Aggregator) StartSection(ctx context.Context, subjectID, resourceID, sectionID string) (reconcile.Result[progress.Sections], error) {
	if err := a.checkSection(ctx, resourceID, sectionID); err != nil {
		return reconcile.Result[progress.Sections]{}, err
	}
	return a.mutate(ctx, ledger.OpStartSection, subjectID, resourceID, sectionID,
		func(current reconcile.Projection[progress.Sections]) (ledger.Operation, progress.Sections, error) {
			if row, ok := current.Value.Find(sectionID); ok && row.IsStarted() {
				return ledger.Operation{}, nil, reconcile.ErrNoChange
			}
			row := progress.NewStartedSection(subjectID, resourceID, sectionID, a.clock.Now())
			return sectionOp(ledger.OpStartSection, subjectID, resourceID, sectionID), current.Value.With(row), nil
		})
}

// CompleteSection marks a started section complete. Completing a completed
// section is a no-op.
func (a *Aggregator) CompleteSection(ctx context.Context, subjectID, resourceID, sectionID string) (reconcile.Result[progress.Sections], error) {
	if err := a.checkSection(ctx, resourceID, sectionID); err != nil {
		return reconcile.Result[progress.Sections]{}, err
	}
	return a.mutate(ctx, ledger.OpCompleteSection, subjectID, resourceID, sectionID,
		func(current reconcile.Projection[progress.Sections]) (ledger.Operation, progress.Sections, error) {
			row, ok := current.Value.Find(sectionID)
			if !ok || !row.IsStarted() {
				return ledger.Operation{}, nil, errors.NewDomainRejection(progress.ErrSectionNotStarted, sectionID)
			}
			if row.IsCompleted() {
				return ledger.Operation{}, nil, reconcile.ErrNoChange
			}
			done, err := row.Completed(a.clock.Now())
			if err != nil {
				return ledger.Operation{}, nil, errors.NewDomainRejection(err, sectionID)
			}
			return sectionOp(ledger.OpCompleteSection, subjectID, resourceID, sectionID), current.Value.With(done), nil
		})
}

// checkSection rejects sections missing from a healthy, non-empty outline.
// An outline that cannot be read does not block progress.
func (a *Aggregator) checkSection(ctx context.Context, resourceID, sectionID string) error {
	if sectionID == "" {
		return errors.NewValidationError("section id is required")
	}
	outline := a.index.Outline(ctx, resourceID)
	if outline.Degraded || outline.Data.Len() == 0 {
		return nil
	}
	if !outline.Data.Contains(sectionID) {
		return errors.NewDomainRejection(progress.ErrUnknownSection, resourceID, sectionID)
	}
	return nil
}

// CourseProgress computes completion over the outline and current rows.
func (a *Aggregator) CourseProgress(ctx context.Context, subjectID, resourceID string) Report {
	outline := a.index.Outline(ctx, resourceID)
	rows := a.Sections(ctx, subjectID, resourceID)
	return Report{
		Progress:        progress.ComputeCourseProgress(outline.Data, rows.Value),
		Outline:         outline.Data,
		Sections:        rows,
		OutlineDegraded: outline.Degraded,
	}
}

// NextIncompleteSection returns the first section in outline order without
// a completion, or nil when the course is complete.
func (a *Aggregator) NextIncompleteSection(ctx context.Context, subjectID, resourceID string) *progress.Section {
	r := a.CourseProgress(ctx, subjectID, resourceID)
	return progress.NextIncompleteSection(r.Outline, r.Sections.Value)
}

func sectionOp(t ledger.OperationType, subjectID, resourceID, sectionID string) ledger.Operation {
	return ledger.Operation{
		Type:       t,
		SubjectID:  subjectID,
		ResourceID: resourceID,
		Params:     ledger.Params{SectionID: sectionID},
	}
}

func (a *Aggregator) mutate(
	ctx context.Context,
	t ledger.OperationType,
	subjectID, resourceID, sectionID string,
	plan func(reconcile.Projection[progress.Sections]) (ledger.Operation, progress.Sections, error),
) (reconcile.Result[progress.Sections], error) {
	res, err := reconcile.Perform(ctx, a.coord, reconcile.Mutation[progress.Sections]{
		Type:  t,
		Key:   reconcile.ResourceKey(subjectID, resourceID),
		Kind:  index.KindProgress,
		Views: a.views,
		Read: func(ctx context.Context, opts ...index.ReadOption) index.View[progress.Sections] {
			return a.index.Progress(ctx, subjectID, resourceID, opts...)
		},
		Plan: plan,
	})
	if err != nil {
		a.logger.Warnw("progress mutation failed",
			"op", t,
			"subject_id", subjectID,
			"resource_id", resourceID,
			"section_id", sectionID,
			"error", err,
		)
		return res, err
	}
	a.logger.Debugw("progress mutation done",
		"op", t,
		"section_id", sectionID,
		"outcome", res.Outcome,
	)
	return res, nil
}
