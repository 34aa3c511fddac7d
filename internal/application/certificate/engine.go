// Package certificate decides credential eligibility and appends completed
// courses to a subject's credential.
package certificate

import (
	"context"
	stderrors "errors"

	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
	appprogress "courseledger/internal/application/progress"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/credential"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
)

// CredentialReader reads a subject's credential from the index.
type CredentialReader interface {
	Credential(ctx context.Context, subjectID string, opts ...index.ReadOption) index.View[*credential.Credential]
}

// ProgressReader computes course completion, optimistic writes included.
type ProgressReader interface {
	CourseProgress(ctx context.Context, subjectID, resourceID string) appprogress.Report
}

// LicenseHistory reports whether a subject ever held a license.
type LicenseHistory interface {
	HasEverHeld(ctx context.Context, subjectID, resourceID string) bool
}

// Engine evaluates eligibility and drives credential additions through the
// coordinator.
type Engine struct {
	coord    *reconcile.Coordinator
	index    CredentialReader
	progress ProgressReader
	licenses LicenseHistory
	policy   credential.Policy
	views    *reconcile.ViewStore[*credential.Credential]
	clock    clock.Clock
	logger   logger.Interface
}

func NewEngine(
	coord *reconcile.Coordinator,
	idx CredentialReader,
	progress ProgressReader,
	licenses LicenseHistory,
	policy credential.Policy,
	clk clock.Clock,
	log logger.Interface,
) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	views := reconcile.NewViewStore[*credential.Credential]()
	coord.Track(views)
	return &Engine{
		coord:    coord,
		index:    idx,
		progress: progress,
		licenses: licenses,
		policy:   policy,
		views:    views,
		clock:    clk,
		logger:   log,
	}
}

// Credential returns the subject's credential projection. Value is nil
// until the first course is added.
func (e *Engine) Credential(ctx context.Context, subjectID string) reconcile.Projection[*credential.Credential] {
	return e.views.Resolve(reconcile.CredentialKey(subjectID), e.index.Credential(ctx, subjectID))
}

// IsEligible evaluates the eligibility predicate for one resource.
func (e *Engine) IsEligible(ctx context.Context, subjectID, resourceID string) credential.Eligibility {
	return e.evaluate(ctx, subjectID, resourceID, e.Credential(ctx, subjectID).Value)
}

func (e *Engine) evaluate(ctx context.Context, subjectID, resourceID string, cred *credential.Credential) credential.Eligibility {
	return e.policy.Evaluate(credential.Facts{
		ResourceID:   resourceID,
		Progress:     e.progress.CourseProgress(ctx, subjectID, resourceID).Progress,
		Credential:   cred,
		EverLicensed: e.licenses.HasEverHeld(ctx, subjectID, resourceID),
	})
}

// AddToCredential appends one completed course to the credential.
func (e *Engine) AddToCredential(ctx context.Context, subjectID, resourceID string) (reconcile.Result[*credential.Credential], error) {
	return e.AddMultiple(ctx, subjectID, []string{resourceID})
}

// AddMultiple appends several courses in one ledger operation. Every member
// is validated before anything is submitted; one failing member rejects the
// whole batch.
func (e *Engine) AddMultiple(ctx context.Context, subjectID string, resourceIDs []string) (reconcile.Result[*credential.Credential], error) {
	if len(resourceIDs) == 0 {
		return reconcile.Result[*credential.Credential]{}, errors.NewValidationError("at least one resource id is required")
	}
	seen := make(map[string]bool, len(resourceIDs))
	for _, id := range resourceIDs {
		if id == "" {
			return reconcile.Result[*credential.Credential]{}, errors.NewValidationError("resource id must not be empty")
		}
		if seen[id] {
			return reconcile.Result[*credential.Credential]{}, notEligible(&credential.NotEligibleError{ResourceID: id, Reason: credential.ReasonDuplicate})
		}
		seen[id] = true
	}

	key := reconcile.CredentialKey(subjectID)
	res, err := reconcile.Perform(ctx, e.coord, reconcile.Mutation[*credential.Credential]{
		Type:  ledger.OpAddToCredential,
		Key:   key,
		Kind:  index.KindCredential,
		Views: e.views,
		Read: func(ctx context.Context, opts ...index.ReadOption) index.View[*credential.Credential] {
			return e.index.Credential(ctx, subjectID, opts...)
		},
		Plan: func(current reconcile.Projection[*credential.Credential]) (ledger.Operation, *credential.Credential, error) {
			for _, id := range resourceIDs {
				if err := e.evaluate(ctx, subjectID, id, current.Value).Err(); err != nil {
					return ledger.Operation{}, nil, notEligible(err)
				}
			}
			next, err := current.Value.WithResources(subjectID, e.clock.Now(), resourceIDs...)
			if err != nil {
				return ledger.Operation{}, nil, notEligible(err)
			}
			op := ledger.Operation{
				Type:      ledger.OpAddToCredential,
				SubjectID: subjectID,
				Params: ledger.Params{
					ResourceIDs: append([]string(nil), resourceIDs...),
					Mint:        current.Value == nil,
				},
			}
			return op, next, nil
		},
	})
	if err != nil {
		e.logger.Warnw("credential update failed",
			"subject_id", subjectID,
			"resource_ids", resourceIDs,
			"error", err,
		)
		return res, err
	}
	e.logger.Infow("credential update submitted",
		"subject_id", subjectID,
		"resource_ids", resourceIDs,
		"outcome", res.Outcome,
	)
	return res, nil
}

func notEligible(err error) error {
	var ne *credential.NotEligibleError
	if stderrors.As(err, &ne) {
		return errors.NewDomainRejection(err, ne.ResourceID, string(ne.Reason))
	}
	return errors.NewDomainRejection(err)
}
