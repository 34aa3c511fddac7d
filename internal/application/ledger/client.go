package ledger

import (
	"context"
	"errors"
	"fmt"

	"courseledger/internal/application/common/dto"
)

// ErrTransient marks client errors worth retrying: network failures,
// overloaded relays and 5xx responses.
var ErrTransient = errors.New("transient ledger error")

// RejectedError is the ledger's terminal refusal of an operation.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected operation: %s", e.Reason)
}

type ReceiptStatus string

const (
	ReceiptPending   ReceiptStatus = "pending"
	ReceiptConfirmed ReceiptStatus = "confirmed"
	ReceiptRejected  ReceiptStatus = "rejected"
)

// Receipt is the ledger's view of a broadcast transaction.
type Receipt struct {
	Status        ReceiptStatus `json:"status"`
	VersionMarker uint64        `json:"version_marker,omitempty"`
	Reason        string        `json:"reason,omitempty"`
}

// RawView is the ledger's current state for one subject and resource.
type RawView struct {
	License       *dto.LicenseRecord    `json:"license,omitempty"`
	Sections      []dto.SectionRecord   `json:"sections,omitempty"`
	Credential    *dto.CredentialRecord `json:"credential,omitempty"`
	VersionMarker uint64                `json:"version_marker"`
}

// Client is the transport to the ledger. Implementations wrap retryable
// failures with ErrTransient and terminal refusals as *RejectedError.
type Client interface {
	// Broadcast hands op to the ledger and returns its transaction id.
	Broadcast(ctx context.Context, op Operation) (txID string, err error)
	Receipt(ctx context.Context, txID string) (Receipt, error)
	ReadCurrent(ctx context.Context, subjectID, resourceID string) (RawView, error)
}
