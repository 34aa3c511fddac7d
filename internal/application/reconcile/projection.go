// Package reconcile keeps optimistic local state, ledger confirmations and
// index projections coherent for every mutation the engine performs.
package reconcile

import (
	"courseledger/internal/application/index"
)

// Freshness says where a projected value came from.
type Freshness string

const (
	// FreshnessConfirmed values are backed by the ledger or a healthy index.
	FreshnessConfirmed Freshness = "confirmed"
	// FreshnessOptimistic values are local patches awaiting confirmation.
	FreshnessOptimistic Freshness = "optimistic"
	// FreshnessStaleDegraded values are partial or last good index data
	// served while the index is unhealthy.
	FreshnessStaleDegraded Freshness = "stale_degraded"
)

// Pending marks work still outstanding for a projected value.
type Pending string

const (
	PendingNone        Pending = "none"
	PendingSubmitted   Pending = "submitted"
	PendingUnconfirmed Pending = "unconfirmed"
	PendingIndexLag    Pending = "pending_index_lag"
)

// Projection is the value callers see, tagged with its freshness.
type Projection[T any] struct {
	Value         T         `json:"value"`
	Freshness     Freshness `json:"freshness"`
	Pending       Pending   `json:"pending"`
	VersionMarker uint64    `json:"version_marker"`
	// Handle names the ledger operation behind an overlay value.
	Handle string `json:"handle,omitempty"`
}

// FromView wraps an index read without any local overlay.
func FromView[T any](v index.View[T]) Projection[T] {
	p := Projection[T]{
		Value:         v.Data,
		Freshness:     FreshnessConfirmed,
		Pending:       PendingNone,
		VersionMarker: v.VersionMarker,
	}
	if v.Degraded {
		p.Freshness = FreshnessStaleDegraded
	}
	return p
}

// Key scopes the mutation lock and the overlay. License and progress
// mutations are keyed by subject and resource; credential mutations by
// subject alone.
type Key struct {
	SubjectID  string
	ResourceID string
}

const credentialScope = "*credential"

func ResourceKey(subjectID, resourceID string) Key {
	return Key{SubjectID: subjectID, ResourceID: resourceID}
}

func CredentialKey(subjectID string) Key {
	return Key{SubjectID: subjectID, ResourceID: credentialScope}
}

// IsCredential reports whether k is a credential key.
func (k Key) IsCredential() bool {
	return k.ResourceID == credentialScope
}

func (k Key) String() string {
	return k.SubjectID + "/" + k.ResourceID
}
