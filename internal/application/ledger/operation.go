// Package ledger is the gateway to the authoritative ledger: idempotent
// submission, confirmation polling and direct fallback reads.
package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"courseledger/internal/shared/errors"
	"courseledger/internal/shared/id"
)

type OperationType string

const (
	OpPurchaseLicense OperationType = "PURCHASE_LICENSE"
	OpRenewLicense    OperationType = "RENEW_LICENSE"
	OpStartSection    OperationType = "START_SECTION"
	OpCompleteSection OperationType = "COMPLETE_SECTION"
	OpAddToCredential OperationType = "ADD_TO_CREDENTIAL"
)

var validOperationTypes = map[OperationType]bool{
	OpPurchaseLicense: true,
	OpRenewLicense:    true,
	OpStartSection:    true,
	OpCompleteSection: true,
	OpAddToCredential: true,
}

func (t OperationType) IsValid() bool {
	return validOperationTypes[t]
}

// Params carries the type-specific operation arguments.
type Params struct {
	DurationUnits int      `json:"duration_units,omitempty"`
	Price         int64    `json:"price,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	SectionID     string   `json:"section_id,omitempty"`
	ResourceIDs   []string `json:"resource_ids,omitempty"`
	// Mint is set on the first addition, which creates the credential.
	Mint bool `json:"mint,omitempty"`
}

// Operation is one ledger mutation.
type Operation struct {
	Type           OperationType `json:"type"`
	SubjectID      string        `json:"subject_id"`
	ResourceID     string        `json:"resource_id,omitempty"`
	Params         Params        `json:"params"`
	IdempotencyKey string        `json:"idempotency_key"`
}

// Validate checks the operation is well formed for its type.
func (op Operation) Validate() error {
	if !op.Type.IsValid() {
		return errors.NewValidationError("unknown operation type", string(op.Type))
	}
	if op.SubjectID == "" {
		return errors.NewValidationError("subject is required")
	}
	switch op.Type {
	case OpPurchaseLicense, OpRenewLicense:
		if op.ResourceID == "" {
			return errors.NewValidationError("resource is required")
		}
		if op.Params.DurationUnits <= 0 {
			return errors.NewValidationError("duration units must be positive")
		}
	case OpStartSection, OpCompleteSection:
		if op.ResourceID == "" || op.Params.SectionID == "" {
			return errors.NewValidationError("resource and section are required")
		}
	case OpAddToCredential:
		if len(op.Params.ResourceIDs) == 0 {
			return errors.NewValidationError("at least one resource is required")
		}
	}
	return nil
}

// Fingerprint identifies the logical operation independent of when it was
// requested; the default idempotency key is derived from it.
func (op Operation) Fingerprint() string {
	return id.IdempotencyKey(
		string(op.Type),
		op.SubjectID,
		op.ResourceID,
		op.Params.SectionID,
		strconv.Itoa(op.Params.DurationUnits),
		strings.Join(op.Params.ResourceIDs, ","),
	)
}

// WithDefaultKey fills IdempotencyKey from the fingerprint when unset.
func (op Operation) WithDefaultKey() Operation {
	if op.IdempotencyKey == "" {
		op.IdempotencyKey = op.Fingerprint()
	}
	return op
}

// KeyedOn derives the idempotency key from the fingerprint and the state the
// operation was planned against. Retries of one request share a key; a new
// request planned on top of an earlier one does not.
func (op Operation) KeyedOn(base ...string) Operation {
	op.IdempotencyKey = id.IdempotencyKey(append([]string{op.Fingerprint()}, base...)...)
	return op
}

func (op Operation) String() string {
	return fmt.Sprintf("%s(%s/%s)", op.Type, op.SubjectID, op.ResourceID)
}
