package valueobjects

// LicenseStatus is always derived from a license row and the current time,
// never stored.
type LicenseStatus string

const (
	StatusNone         LicenseStatus = "NONE"
	StatusActive       LicenseStatus = "ACTIVE"
	StatusExpiringSoon LicenseStatus = "EXPIRING_SOON"
	StatusExpired      LicenseStatus = "EXPIRED"
)

func (s LicenseStatus) String() string {
	return string(s)
}

// GrantsAccess reports whether content may be served under this status.
func (s LicenseStatus) GrantsAccess() bool {
	return s == StatusActive || s == StatusExpiringSoon
}

// CanPurchase reports whether a new purchase is allowed. Holding a license
// that still grants access blocks a purchase; renewal is the path there.
func (s LicenseStatus) CanPurchase() bool {
	return !s.GrantsAccess()
}

// CanRenew reports whether a renewal is allowed: any existing row qualifies.
func (s LicenseStatus) CanRenew() bool {
	return s != StatusNone
}

var ValidStatuses = map[LicenseStatus]bool{
	StatusNone:         true,
	StatusActive:       true,
	StatusExpiringSoon: true,
	StatusExpired:      true,
}
