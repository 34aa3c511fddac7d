// Package license models time-limited access grants to course content.
package license

import (
	"time"

	vo "courseledger/internal/domain/license/valueobjects"
)

// UnitDuration is the length of one purchasable duration unit.
const UnitDuration = 30 * 24 * time.Hour

// DefaultRenewalWindow is how long before expiry a license counts as expiring soon.
const DefaultRenewalWindow = 7 * 24 * time.Hour

// License is one subject's grant for one resource. Values are immutable:
// transitions return a new License so earlier snapshots stay intact.
type License struct {
	subjectID     string
	resourceID    string
	grantedAt     time.Time
	durationUnits int
	expiresAt     time.Time
	active        bool
	totalPaid     int64
	renewalCount  int
	lastRenewedAt *time.Time
}

// NewLicense creates the provisional row a purchase produces.
func NewLicense(subjectID, resourceID string, grantedAt time.Time, durationUnits int, paid int64) (*License, error) {
	if subjectID == "" || resourceID == "" {
		return nil, errInvalid("subject and resource are required")
	}
	if durationUnits <= 0 {
		return nil, ErrInvalidDuration
	}
	return &License{
		subjectID:     subjectID,
		resourceID:    resourceID,
		grantedAt:     grantedAt,
		durationUnits: durationUnits,
		expiresAt:     grantedAt.Add(time.Duration(durationUnits) * UnitDuration),
		active:        true,
		totalPaid:     paid,
	}, nil
}

// ReconstructLicense rebuilds a license from a ledger or index record.
func ReconstructLicense(
	subjectID, resourceID string,
	grantedAt time.Time,
	durationUnits int,
	expiresAt time.Time,
	active bool,
	totalPaid int64,
	renewalCount int,
	lastRenewedAt *time.Time,
) (*License, error) {
	if subjectID == "" || resourceID == "" {
		return nil, errInvalid("subject and resource are required")
	}
	if expiresAt.IsZero() {
		return nil, errInvalid("missing expiry for %s/%s", subjectID, resourceID)
	}
	if renewalCount < 0 || totalPaid < 0 {
		return nil, errInvalid("negative counters for %s/%s", subjectID, resourceID)
	}
	return &License{
		subjectID:     subjectID,
		resourceID:    resourceID,
		grantedAt:     grantedAt,
		durationUnits: durationUnits,
		expiresAt:     expiresAt,
		active:        active,
		totalPaid:     totalPaid,
		renewalCount:  renewalCount,
		lastRenewedAt: lastRenewedAt,
	}, nil
}

func (l *License) SubjectID() string { return l.subjectID }

func (l *License) ResourceID() string { return l.resourceID }

func (l *License) GrantedAt() time.Time { return l.grantedAt }

func (l *License) DurationUnits() int { return l.durationUnits }

func (l *License) ExpiresAt() time.Time { return l.expiresAt }

// IsActiveFlag is the ledger's administrative flag, independent of expiry.
func (l *License) IsActiveFlag() bool { return l.active }

func (l *License) TotalPaid() int64 { return l.totalPaid }

func (l *License) RenewalCount() int { return l.renewalCount }

func (l *License) LastRenewedAt() *time.Time { return l.lastRenewedAt }

// Renewed returns the license extended by durationUnits. The extension starts
// from the later of now and the current expiry, so expiry never moves back.
// A paid renewal reactivates a deactivated row.
func (l *License) Renewed(now time.Time, durationUnits int, paid int64) (*License, error) {
	if durationUnits <= 0 {
		return nil, ErrInvalidDuration
	}
	base := l.expiresAt
	if now.After(base) {
		base = now
	}
	renewedAt := now
	next := *l
	next.expiresAt = base.Add(time.Duration(durationUnits) * UnitDuration)
	next.durationUnits = l.durationUnits + durationUnits
	next.totalPaid = l.totalPaid + paid
	next.renewalCount = l.renewalCount + 1
	next.lastRenewedAt = &renewedAt
	next.active = true
	return &next, nil
}

// Regranted returns the license re-purchased at now after it lapsed or was
// deactivated. The term restarts at now; payment and renewal history carry
// over.
func (l *License) Regranted(now time.Time, durationUnits int, paid int64) (*License, error) {
	if durationUnits <= 0 {
		return nil, ErrInvalidDuration
	}
	next := *l
	next.grantedAt = now
	next.durationUnits = durationUnits
	next.expiresAt = now.Add(time.Duration(durationUnits) * UnitDuration)
	if next.expiresAt.Before(l.expiresAt) {
		next.expiresAt = l.expiresAt
	}
	next.active = true
	next.totalPaid = l.totalPaid + paid
	return &next, nil
}

// Status computes the license status at now.
func (l *License) Status(now time.Time, renewalWindow time.Duration) vo.LicenseStatus {
	return ComputeStatus(l, now, renewalWindow)
}

// ComputeStatus derives the status of l at now. A nil license is NONE.
// Expired and administratively deactivated rows are both EXPIRED.
func ComputeStatus(l *License, now time.Time, renewalWindow time.Duration) vo.LicenseStatus {
	if l == nil {
		return vo.StatusNone
	}
	if !now.Before(l.expiresAt) || !l.active {
		return vo.StatusExpired
	}
	if l.expiresAt.Sub(now) <= renewalWindow {
		return vo.StatusExpiringSoon
	}
	return vo.StatusActive
}

// TimeRemaining returns the time left before expiry, or zero once expired.
func (l *License) TimeRemaining(now time.Time) time.Duration {
	if !now.Before(l.expiresAt) {
		return 0
	}
	return l.expiresAt.Sub(now)
}
