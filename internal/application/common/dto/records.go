package dto

import (
	"time"

	"courseledger/internal/domain/credential"
	"courseledger/internal/domain/license"
	"courseledger/internal/domain/progress"
)

// LicenseRecord is the wire form of a license row, shared by the ledger and
// index boundaries.
type LicenseRecord struct {
	SubjectID     string     `json:"subject_id"`
	ResourceID    string     `json:"resource_id"`
	GrantedAt     time.Time  `json:"granted_at"`
	DurationUnits int        `json:"duration_units"`
	ExpiresAt     time.Time  `json:"expires_at"`
	IsActive      bool       `json:"is_active"`
	TotalPaid     int64      `json:"total_paid"`
	RenewalCount  int        `json:"renewal_count"`
	LastRenewedAt *time.Time `json:"last_renewed_at,omitempty"`
}

func (r LicenseRecord) ToDomain() (*license.License, error) {
	return license.ReconstructLicense(
		r.SubjectID, r.ResourceID,
		r.GrantedAt, r.DurationUnits, r.ExpiresAt,
		r.IsActive, r.TotalPaid, r.RenewalCount, r.LastRenewedAt,
	)
}

func FromLicense(l *license.License) *LicenseRecord {
	if l == nil {
		return nil
	}
	return &LicenseRecord{
		SubjectID:     l.SubjectID(),
		ResourceID:    l.ResourceID(),
		GrantedAt:     l.GrantedAt(),
		DurationUnits: l.DurationUnits(),
		ExpiresAt:     l.ExpiresAt(),
		IsActive:      l.IsActiveFlag(),
		TotalPaid:     l.TotalPaid(),
		RenewalCount:  l.RenewalCount(),
		LastRenewedAt: l.LastRenewedAt(),
	}
}

type SectionRecord struct {
	SubjectID   string     `json:"subject_id"`
	ResourceID  string     `json:"resource_id"`
	SectionID   string     `json:"section_id"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ViewCount   int        `json:"view_count"`
}

func (r SectionRecord) ToDomain() (progress.SectionProgress, error) {
	return progress.ReconstructSectionProgress(r.SubjectID, r.ResourceID, r.SectionID, r.StartedAt, r.CompletedAt, r.ViewCount)
}

func FromSection(s progress.SectionProgress) SectionRecord {
	return SectionRecord{
		SubjectID:   s.SubjectID(),
		ResourceID:  s.ResourceID(),
		SectionID:   s.SectionID(),
		StartedAt:   s.StartedAt(),
		CompletedAt: s.CompletedAt(),
		ViewCount:   s.ViewCount(),
	}
}

// SectionsToDomain converts every valid record and returns the errors of the
// records it had to skip.
func SectionsToDomain(records []SectionRecord) (progress.Sections, []error) {
	rows := make(progress.Sections, 0, len(records))
	var errs []error
	for _, r := range records {
		row, err := r.ToDomain()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, errs
}

type CredentialRecord struct {
	HolderID              string    `json:"holder_id"`
	CompletedResourceIDs  []string  `json:"completed_resource_ids"`
	TotalCoursesCompleted int       `json:"total_courses_completed"`
	IssuedAt              time.Time `json:"issued_at"`
	LastUpdatedAt         time.Time `json:"last_updated_at"`
}

func (r CredentialRecord) ToDomain() (*credential.Credential, error) {
	return credential.ReconstructCredential(r.HolderID, r.CompletedResourceIDs, r.TotalCoursesCompleted, r.IssuedAt, r.LastUpdatedAt)
}

func FromCredential(c *credential.Credential) *CredentialRecord {
	if c == nil {
		return nil
	}
	return &CredentialRecord{
		HolderID:              c.HolderID(),
		CompletedResourceIDs:  c.CompletedResourceIDs(),
		TotalCoursesCompleted: c.TotalCoursesCompleted(),
		IssuedAt:              c.IssuedAt(),
		LastUpdatedAt:         c.LastUpdatedAt(),
	}
}

type OutlineSectionRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Order    int    `json:"order"`
	Sequence int    `json:"sequence"`
}

type OutlineRecord struct {
	ResourceID string                 `json:"resource_id"`
	Sections   []OutlineSectionRecord `json:"sections"`
}

func (r OutlineRecord) ToDomain() progress.Outline {
	sections := make([]progress.Section, 0, len(r.Sections))
	for _, s := range r.Sections {
		sections = append(sections, progress.Section{ID: s.ID, Title: s.Title, Order: s.Order, Sequence: s.Sequence})
	}
	return progress.NewOutline(r.ResourceID, sections)
}

// AnalyticsRecord is the index's per-course aggregate.
type AnalyticsRecord struct {
	ResourceID        string  `json:"resource_id"`
	ActiveLicenses    int     `json:"active_licenses"`
	TotalLicensesSold int     `json:"total_licenses_sold"`
	Completions       int     `json:"completions"`
	AverageProgress   float64 `json:"average_progress"`
}
