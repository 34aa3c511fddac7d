package credential

import (
	"errors"
	"fmt"
)

var (
	ErrNotEligible       = errors.New("not eligible for credential")
	ErrInvalidCredential = errors.New("invalid credential record")
)

// NotEligibleError names the resource that failed the eligibility check and why.
type NotEligibleError struct {
	ResourceID string
	Reason     Reason
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrNotEligible, e.ResourceID, e.Reason)
}

func (e *NotEligibleError) Unwrap() error {
	return ErrNotEligible
}
