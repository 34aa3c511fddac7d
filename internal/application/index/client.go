// Package index reads projections from the eventually consistent index.
// Failures never surface as errors: callers get the best view available
// with a degraded flag.
package index

import (
	"context"
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindLicense    Kind = "license"
	KindProgress   Kind = "progress"
	KindCredential Kind = "credential"
	KindOutline    Kind = "outline"
	KindAnalytics  Kind = "analytics"
)

// QuerySpec selects one projection. Credential queries leave ResourceID
// empty; outline and analytics queries leave SubjectID empty.
type QuerySpec struct {
	SubjectID  string `json:"subject_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Kind       Kind   `json:"kind"`
}

func (q QuerySpec) String() string {
	return fmt.Sprintf("%s:%s/%s", q.Kind, q.SubjectID, q.ResourceID)
}

// Result is the index's raw answer. Ingestion errors are part of a
// successful response.
type Result struct {
	Data            json.RawMessage `json:"data"`
	VersionMarker   uint64          `json:"versionMarker"`
	IngestionErrors []string        `json:"errors,omitempty"`
}

// Client is the transport to the index.
type Client interface {
	Query(ctx context.Context, q QuerySpec) (Result, error)
}
