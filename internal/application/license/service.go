// Package license runs the license state machine: status reads, purchases
// and renewals reconciled against the ledger.
package license

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/license"
	vo "courseledger/internal/domain/license/valueobjects"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/logger"
)

// IndexReader reads license projections.
type IndexReader interface {
	License(ctx context.Context, subjectID, resourceID string, opts ...index.ReadOption) index.View[*license.License]
}

// LedgerReader reads the ledger directly.
type LedgerReader interface {
	ReadCurrent(ctx context.Context, subjectID, resourceID string) (*ledger.Snapshot, error)
}

// Pricer is the pure pricing function.
type Pricer interface {
	Price(resourceID string, durationUnits int) (license.Price, error)
}

type Config struct {
	RenewalWindow time.Duration
	// FallbackToLedger reads the ledger when the index is degraded.
	FallbackToLedger bool
	Clock            clock.Clock
}

// Status is a license projection with its computed status.
type Status struct {
	Status        vo.LicenseStatus
	TimeRemaining time.Duration
	Projection    reconcile.Projection[*license.License]
}

// StateMachine derives license status and drives purchases and renewals
// through the reconciliation coordinator.
type StateMachine struct {
	coord  *reconcile.Coordinator
	index  IndexReader
	ledger LedgerReader
	pricer Pricer
	views  *reconcile.ViewStore[*license.License]
	cfg    Config
	clock  clock.Clock
	logger logger.Interface
}

func NewStateMachine(
	coord *reconcile.Coordinator,
	idx IndexReader,
	ledgerReader LedgerReader,
	pricer Pricer,
	cfg Config,
	log logger.Interface,
) *StateMachine {
	if cfg.RenewalWindow <= 0 {
		cfg.RenewalWindow = license.DefaultRenewalWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	views := reconcile.NewViewStore[*license.License]()
	coord.Track(views)
	return &StateMachine{
		coord:  coord,
		index:  idx,
		ledger: ledgerReader,
		pricer: pricer,
		views:  views,
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: log,
	}
}

// read returns the index view, replaced by a direct ledger read when the
// index is degraded and fallback is enabled.
func (s *StateMachine) read(ctx context.Context, subjectID, resourceID string, opts ...index.ReadOption) index.View[*license.License] {
	v := s.index.License(ctx, subjectID, resourceID, opts...)
	if !v.Degraded || !s.cfg.FallbackToLedger || s.ledger == nil {
		return v
	}
	snap, err := s.ledger.ReadCurrent(ctx, subjectID, resourceID)
	if err != nil {
		s.logger.Warnw("ledger fallback read failed",
			"subject_id", subjectID,
			"resource_id", resourceID,
			"error", err,
		)
		return v
	}
	return index.View[*license.License]{Data: snap.License, VersionMarker: snap.VersionMarker}
}

// Status computes the subject's license status for a resource.
func (s *StateMachine) Status(ctx context.Context, subjectID, resourceID string) Status {
	key := reconcile.ResourceKey(subjectID, resourceID)
	proj := s.views.Resolve(key, s.read(ctx, subjectID, resourceID))
	return s.statusOf(proj)
}

func (s *StateMachine) statusOf(proj reconcile.Projection[*license.License]) Status {
	now := s.clock.Now()
	st := Status{
		Status:     license.ComputeStatus(proj.Value, now, s.cfg.RenewalWindow),
		Projection: proj,
	}
	if proj.Value != nil {
		st.TimeRemaining = proj.Value.TimeRemaining(now)
	}
	return st
}

// HasEverHeld reports whether a license row exists in any status.
func (s *StateMachine) HasEverHeld(ctx context.Context, subjectID, resourceID string) bool {
	return s.Status(ctx, subjectID, resourceID).Status != vo.StatusNone
}

// Purchase buys durationUnits of access. It is rejected while the license
// is ACTIVE or EXPIRING_SOON.
func (s *StateMachine) Purchase(ctx context.Context, subjectID, resourceID string, durationUnits int) (reconcile.Result[*license.License], error) {
	if durationUnits <= 0 {
		return reconcile.Result[*license.License]{}, errors.NewDomainRejection(license.ErrInvalidDuration)
	}
	return s.mutate(ctx, ledger.OpPurchaseLicense, subjectID, resourceID,
		func(current reconcile.Projection[*license.License]) (ledger.Operation, *license.License, error) {
			now := s.clock.Now()
			status := license.ComputeStatus(current.Value, now, s.cfg.RenewalWindow)
			if !status.CanPurchase() {
				return ledger.Operation{}, nil, errors.NewDomainRejection(license.ErrLicenseAlreadyActive, resourceID, status.String())
			}
			price, err := s.price(resourceID, durationUnits)
			if err != nil {
				return ledger.Operation{}, nil, err
			}

			var next *license.License
			if current.Value == nil {
				next, err = license.NewLicense(subjectID, resourceID, now, durationUnits, price.Amount)
			} else {
				next, err = current.Value.Regranted(now, durationUnits, price.Amount)
			}
			if err != nil {
				return ledger.Operation{}, nil, errors.NewDomainRejection(err)
			}
			return s.operation(ledger.OpPurchaseLicense, current, subjectID, resourceID, durationUnits, price), next, nil
		})
}

// Renew extends an existing license from the later of now and its expiry.
func (s *StateMachine) Renew(ctx context.Context, subjectID, resourceID string, durationUnits int) (reconcile.Result[*license.License], error) {
	if durationUnits <= 0 {
		return reconcile.Result[*license.License]{}, errors.NewDomainRejection(license.ErrInvalidDuration)
	}
	return s.mutate(ctx, ledger.OpRenewLicense, subjectID, resourceID,
		func(current reconcile.Projection[*license.License]) (ledger.Operation, *license.License, error) {
			if current.Value == nil {
				return ledger.Operation{}, nil, errors.NewDomainRejection(license.ErrLicenseNotFound, resourceID)
			}
			price, err := s.price(resourceID, durationUnits)
			if err != nil {
				return ledger.Operation{}, nil, err
			}
			next, err := current.Value.Renewed(s.clock.Now(), durationUnits, price.Amount)
			if err != nil {
				return ledger.Operation{}, nil, errors.NewDomainRejection(err)
			}
			return s.operation(ledger.OpRenewLicense, current, subjectID, resourceID, durationUnits, price), next, nil
		})
}

func (s *StateMachine) price(resourceID string, durationUnits int) (license.Price, error) {
	price, err := s.pricer.Price(resourceID, durationUnits)
	if err != nil {
		if stderrors.Is(err, license.ErrUnknownResource) || stderrors.Is(err, license.ErrInvalidDuration) {
			return license.Price{}, errors.NewDomainRejection(err)
		}
		return license.Price{}, errors.NewInternalError("pricing failed", err.Error())
	}
	return price, nil
}

// operation builds a purchase or renewal. Neither is idempotent, so the key
// covers the license state the term was priced against.
func (s *StateMachine) operation(
	t ledger.OperationType,
	current reconcile.Projection[*license.License],
	subjectID, resourceID string,
	units int,
	price license.Price,
) ledger.Operation {
	op := ledger.Operation{
		Type:       t,
		SubjectID:  subjectID,
		ResourceID: resourceID,
		Params: ledger.Params{
			DurationUnits: units,
			Price:         price.Amount,
			Currency:      price.Currency,
		},
	}
	return op.KeyedOn(planBase(current)...)
}

func planBase(current reconcile.Projection[*license.License]) []string {
	version := strconv.FormatUint(current.VersionMarker, 10)
	l := current.Value
	if l == nil {
		return []string{"none", version}
	}
	return []string{
		l.ExpiresAt().UTC().Format(time.RFC3339Nano),
		strconv.Itoa(l.RenewalCount()),
		strconv.FormatInt(l.TotalPaid(), 10),
		version,
	}
}

func (s *StateMachine) mutate(
	ctx context.Context,
	t ledger.OperationType,
	subjectID, resourceID string,
	plan func(reconcile.Projection[*license.License]) (ledger.Operation, *license.License, error),
) (reconcile.Result[*license.License], error) {
	s.logger.Infow("license mutation requested",
		"op", t,
		"subject_id", subjectID,
		"resource_id", resourceID,
	)
	res, err := reconcile.Perform(ctx, s.coord, reconcile.Mutation[*license.License]{
		Type:  t,
		Key:   reconcile.ResourceKey(subjectID, resourceID),
		Kind:  index.KindLicense,
		Views: s.views,
		Read: func(ctx context.Context, opts ...index.ReadOption) index.View[*license.License] {
			return s.read(ctx, subjectID, resourceID, opts...)
		},
		Plan: plan,
	})
	if err != nil {
		s.logger.Warnw("license mutation failed",
			"op", t,
			"subject_id", subjectID,
			"resource_id", resourceID,
			"error", err,
		)
		return res, err
	}
	return res, nil
}

// StatusOf computes the status of a mutation result.
func (s *StateMachine) StatusOf(res reconcile.Result[*license.License]) Status {
	return s.statusOf(res.Projection)
}
