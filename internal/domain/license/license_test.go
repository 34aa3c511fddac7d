package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "courseledger/internal/domain/license/valueobjects"
)

var now = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func mustLicense(t *testing.T, expiresAt time.Time, active bool) *License {
	t.Helper()
	l, err := ReconstructLicense("alice", "C1", now.Add(-60*24*time.Hour), 2, expiresAt, active, 2000, 0, nil)
	require.NoError(t, err)
	return l
}

func TestComputeStatus(t *testing.T) {
	tests := []struct {
		name    string
		license *License
		want    vo.LicenseStatus
	}{
		{"no row", nil, vo.StatusNone},
		{"far from expiry", mustLicense(t, now.Add(20*24*time.Hour), true), vo.StatusActive},
		{"exactly at window edge", mustLicense(t, now.Add(DefaultRenewalWindow), true), vo.StatusExpiringSoon},
		{"inside window", mustLicense(t, now.Add(time.Hour), true), vo.StatusExpiringSoon},
		{"expires now", mustLicense(t, now, true), vo.StatusExpired},
		{"past expiry", mustLicense(t, now.Add(-time.Second), true), vo.StatusExpired},
		{"past expiry and deactivated", mustLicense(t, now.Add(-time.Hour), false), vo.StatusExpired},
		{"deactivated before expiry", mustLicense(t, now.Add(30*24*time.Hour), false), vo.StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeStatus(tt.license, now, DefaultRenewalWindow))
		})
	}
}

func TestStatusNeverActivePastExpiry(t *testing.T) {
	l := mustLicense(t, now, true)
	for _, offset := range []time.Duration{0, time.Nanosecond, time.Hour, 365 * 24 * time.Hour} {
		for _, window := range []time.Duration{0, time.Hour, DefaultRenewalWindow} {
			assert.Equal(t, vo.StatusExpired, l.Status(now.Add(offset), window))
		}
	}
}

func TestNewLicenseExpiresAfterUnits(t *testing.T) {
	l, err := NewLicense("alice", "C1", now, 1, 999)
	require.NoError(t, err)

	assert.Equal(t, now.Add(30*24*time.Hour), l.ExpiresAt())
	assert.True(t, l.IsActiveFlag())
	assert.Equal(t, vo.StatusActive, l.Status(now, DefaultRenewalWindow))

	_, err = NewLicense("alice", "C1", now, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestRenewedIsMonotonic(t *testing.T) {
	t.Run("active license extends from current expiry", func(t *testing.T) {
		l := mustLicense(t, now.Add(5*24*time.Hour), true)

		r, err := l.Renewed(now, 1, 1000)
		require.NoError(t, err)

		assert.Equal(t, now.Add(35*24*time.Hour), r.ExpiresAt())
		assert.Equal(t, 1, r.RenewalCount())
		assert.Equal(t, int64(3000), r.TotalPaid())
		require.NotNil(t, r.LastRenewedAt())
		assert.Equal(t, now, *r.LastRenewedAt())
	})

	t.Run("expired license extends from now", func(t *testing.T) {
		l := mustLicense(t, now.Add(-10*24*time.Hour), true)

		r, err := l.Renewed(now, 1, 1000)
		require.NoError(t, err)

		assert.Equal(t, now.Add(UnitDuration), r.ExpiresAt())
		assert.Equal(t, vo.StatusActive, r.Status(now, DefaultRenewalWindow))
	})

	t.Run("original value is untouched", func(t *testing.T) {
		l := mustLicense(t, now.Add(time.Hour), true)
		before := l.ExpiresAt()

		_, err := l.Renewed(now, 3, 0)
		require.NoError(t, err)

		assert.Equal(t, before, l.ExpiresAt())
		assert.Equal(t, 0, l.RenewalCount())
	})

	t.Run("never decreases", func(t *testing.T) {
		for _, exp := range []time.Duration{-90 * 24 * time.Hour, -time.Second, 0, time.Hour, 400 * 24 * time.Hour} {
			l := mustLicense(t, now.Add(exp), true)
			r, err := l.Renewed(now, 1, 0)
			require.NoError(t, err)
			assert.True(t, r.ExpiresAt().After(l.ExpiresAt()))
		}
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := mustLicense(t, now, true).Renewed(now, -1, 0)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})
}

func TestReconstructLicenseValidates(t *testing.T) {
	_, err := ReconstructLicense("", "C1", now, 1, now, true, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidLicense)

	_, err = ReconstructLicense("alice", "C1", now, 1, time.Time{}, true, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidLicense)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, vo.StatusNone.CanPurchase())
	assert.True(t, vo.StatusExpired.CanPurchase())
	assert.False(t, vo.StatusActive.CanPurchase())
	assert.False(t, vo.StatusExpiringSoon.CanPurchase())

	assert.False(t, vo.StatusNone.CanRenew())
	assert.True(t, vo.StatusExpired.CanRenew())
}

func TestRegrantedRestartsTerm(t *testing.T) {
	lapsed := mustLicense(t, now.Add(-24*time.Hour), true)

	next, err := lapsed.Regranted(now, 1, 1000)
	require.NoError(t, err)
	assert.Equal(t, now, next.GrantedAt())
	assert.Equal(t, now.Add(UnitDuration), next.ExpiresAt())
	assert.Equal(t, int64(3000), next.TotalPaid())
	assert.Equal(t, vo.StatusActive, next.Status(now, DefaultRenewalWindow))

	// The lapsed value is unchanged.
	assert.Equal(t, vo.StatusExpired, lapsed.Status(now, DefaultRenewalWindow))
}

func TestRegrantedReactivatesDeactivated(t *testing.T) {
	deactivated := mustLicense(t, now.Add(40*24*time.Hour), false)
	require.Equal(t, vo.StatusExpired, deactivated.Status(now, DefaultRenewalWindow))

	next, err := deactivated.Regranted(now, 1, 1000)
	require.NoError(t, err)
	assert.True(t, next.IsActiveFlag())
	assert.Equal(t, deactivated.ExpiresAt(), next.ExpiresAt(), "expiry never moves back")

	_, err = deactivated.Regranted(now, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestRenewedReactivatesDeactivated(t *testing.T) {
	deactivated := mustLicense(t, now.Add(20*24*time.Hour), false)
	require.Equal(t, vo.StatusExpired, deactivated.Status(now, DefaultRenewalWindow))

	next, err := deactivated.Renewed(now, 1, 1000)
	require.NoError(t, err)
	assert.True(t, next.IsActiveFlag())
	assert.Equal(t, deactivated.ExpiresAt().Add(UnitDuration), next.ExpiresAt())
	assert.Equal(t, vo.StatusActive, next.Status(now, DefaultRenewalWindow))
	assert.False(t, deactivated.IsActiveFlag())
}
