// Package dto holds the HTTP response shapes of the API.
package dto

import (
	"time"

	records "courseledger/internal/application/common/dto"
	licenseapp "courseledger/internal/application/license"
	progressapp "courseledger/internal/application/progress"
	"courseledger/internal/application/reconcile"
	"courseledger/internal/domain/credential"
	"courseledger/internal/domain/progress"
)

// ProjectionMeta tells the client how far a value can be trusted.
type ProjectionMeta struct {
	Freshness     reconcile.Freshness `json:"freshness"`
	Pending       reconcile.Pending   `json:"pending"`
	VersionMarker uint64              `json:"version_marker"`
	Handle        string              `json:"handle,omitempty"`
}

func metaOf[T any](p reconcile.Projection[T]) ProjectionMeta {
	return ProjectionMeta{
		Freshness:     p.Freshness,
		Pending:       p.Pending,
		VersionMarker: p.VersionMarker,
		Handle:        p.Handle,
	}
}

type LicenseStatusResponse struct {
	ResourceID           string                 `json:"resource_id"`
	Status               string                 `json:"status"`
	TimeRemainingSeconds int64                  `json:"time_remaining_seconds"`
	License              *records.LicenseRecord `json:"license,omitempty"`
	ProjectionMeta
}

func ToLicenseStatusResponse(resourceID string, s licenseapp.Status) LicenseStatusResponse {
	return LicenseStatusResponse{
		ResourceID:           resourceID,
		Status:               s.Status.String(),
		TimeRemainingSeconds: int64(s.TimeRemaining.Seconds()),
		License:              records.FromLicense(s.Projection.Value),
		ProjectionMeta:       metaOf(s.Projection),
	}
}

type SectionsResponse struct {
	Sections []records.SectionRecord `json:"sections"`
	ProjectionMeta
}

func ToSectionsResponse(p reconcile.Projection[progress.Sections]) SectionsResponse {
	rows := make([]records.SectionRecord, 0, len(p.Value))
	for _, s := range p.Value {
		rows = append(rows, records.FromSection(s))
	}
	return SectionsResponse{Sections: rows, ProjectionMeta: metaOf(p)}
}

type CourseProgressResponse struct {
	ResourceID string `json:"resource_id"`
	progress.CourseProgress
	OutlineDegraded bool             `json:"outline_degraded"`
	Sections        SectionsResponse `json:"sections"`
}

func ToCourseProgressResponse(resourceID string, r progressapp.Report) CourseProgressResponse {
	return CourseProgressResponse{
		ResourceID:      resourceID,
		CourseProgress:  r.Progress,
		OutlineDegraded: r.OutlineDegraded,
		Sections:        ToSectionsResponse(r.Sections),
	}
}

// NextSectionResponse has a nil Section once every section is completed.
type NextSectionResponse struct {
	ResourceID string                        `json:"resource_id"`
	Section    *records.OutlineSectionRecord `json:"section"`
	Completed  bool                          `json:"completed"`
}

func ToNextSectionResponse(resourceID string, s *progress.Section) NextSectionResponse {
	if s == nil {
		return NextSectionResponse{ResourceID: resourceID, Completed: true}
	}
	return NextSectionResponse{
		ResourceID: resourceID,
		Section: &records.OutlineSectionRecord{
			ID:       s.ID,
			Title:    s.Title,
			Order:    s.Order,
			Sequence: s.Sequence,
		},
	}
}

type CredentialResponse struct {
	Credential *records.CredentialRecord `json:"credential"`
	ProjectionMeta
}

func ToCredentialResponse(p reconcile.Projection[*credential.Credential]) CredentialResponse {
	return CredentialResponse{Credential: records.FromCredential(p.Value), ProjectionMeta: metaOf(p)}
}

// MutationResponse wraps the projected value after a write.
type MutationResponse struct {
	Outcome reconcile.Outcome `json:"outcome"`
	Handle  string            `json:"handle,omitempty"`
	TxID    string            `json:"tx_id,omitempty"`
	Data    interface{}       `json:"data"`
}

func ToMutationResponse[T any](res reconcile.Result[T], data interface{}) MutationResponse {
	resp := MutationResponse{Outcome: res.Outcome, Data: data}
	if res.Handle != nil {
		resp.Handle = res.Handle.ID
		resp.TxID = res.Handle.TxID
	}
	return resp
}

// IsSettled reports whether a write needs no further reconciliation.
func IsSettled(o reconcile.Outcome) bool {
	return o == reconcile.OutcomeConverged || o == reconcile.OutcomeNoop
}

type AnalyticsResponse struct {
	records.AnalyticsRecord
	Degraded      bool   `json:"degraded"`
	VersionMarker uint64 `json:"version_marker"`
}

type ContentTokenResponse struct {
	ContentID        string    `json:"content_id"`
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

type ReconcileResponse struct {
	Handle  string            `json:"handle"`
	Outcome reconcile.Outcome `json:"outcome"`
}
