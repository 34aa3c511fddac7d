package reconcile

import (
	"context"
	"time"

	"courseledger/internal/application/index"
	"courseledger/internal/application/ledger"
)

// JournalState is the stage a journaled operation was left in.
type JournalState string

const (
	JournalSubmitted   JournalState = "submitted"
	JournalUnconfirmed JournalState = "unconfirmed"
	JournalIndexLag    JournalState = "index_lag"
)

// JournalEntry is one operation that has been broadcast but not settled.
type JournalEntry struct {
	Handle        ledger.Handle
	State         JournalState
	TargetVersion uint64
	UpdatedAt     time.Time
}

// Journal persists unsettled operations so they survive a restart.
type Journal interface {
	// Save inserts or replaces the entry for its handle.
	Save(ctx context.Context, e JournalEntry) error
	Delete(ctx context.Context, handleID string) error
	List(ctx context.Context) ([]JournalEntry, error)
}

type EventType string

const (
	// EventIndexed is published by the indexer after it ingests a change.
	EventIndexed EventType = "indexed"
	// EventSettled is published by an engine instance after convergence.
	EventSettled EventType = "settled"
)

// IndexEvent announces that the index holds VersionMarker for a key.
type IndexEvent struct {
	Type          EventType  `json:"type"`
	SubjectID     string     `json:"subject_id"`
	ResourceID    string     `json:"resource_id,omitempty"`
	Kind          index.Kind `json:"kind"`
	VersionMarker uint64     `json:"version_marker"`
	// Origin identifies the publishing instance.
	Origin    string `json:"origin,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (e IndexEvent) Key() Key {
	if e.Kind == index.KindCredential {
		return CredentialKey(e.SubjectID)
	}
	return ResourceKey(e.SubjectID, e.ResourceID)
}

// Publisher announces settled operations to peer instances.
type Publisher interface {
	PublishSettled(ctx context.Context, e IndexEvent) error
}

// Pruner is implemented by every ViewStore.
type Pruner interface {
	Prune(key Key, version uint64) bool
}
