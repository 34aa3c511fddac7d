// Package progress models per-section learning progress and the course
// completion derived from it.
package progress

import (
	"fmt"
	"time"
)

// SectionProgress is one subject's progress on one section. Values are
// immutable; transitions return a copy.
type SectionProgress struct {
	subjectID   string
	resourceID  string
	sectionID   string
	startedAt   *time.Time
	completedAt *time.Time
	viewCount   int
}

// NewStartedSection creates the row a start event produces.
func NewStartedSection(subjectID, resourceID, sectionID string, at time.Time) SectionProgress {
	return SectionProgress{
		subjectID:  subjectID,
		resourceID: resourceID,
		sectionID:  sectionID,
		startedAt:  &at,
		viewCount:  1,
	}
}

// ReconstructSectionProgress rebuilds a row from a record, enforcing that a
// completion implies a start no later than it.
func ReconstructSectionProgress(
	subjectID, resourceID, sectionID string,
	startedAt, completedAt *time.Time,
	viewCount int,
) (SectionProgress, error) {
	if subjectID == "" || resourceID == "" || sectionID == "" {
		return SectionProgress{}, fmt.Errorf("%w: missing identifiers", ErrInvalidProgress)
	}
	if completedAt != nil {
		if startedAt == nil {
			return SectionProgress{}, fmt.Errorf("%w: %s completed without start", ErrInvalidProgress, sectionID)
		}
		if completedAt.Before(*startedAt) {
			return SectionProgress{}, fmt.Errorf("%w: %s completed before start", ErrInvalidProgress, sectionID)
		}
	}
	if viewCount < 0 {
		viewCount = 0
	}
	return SectionProgress{
		subjectID:   subjectID,
		resourceID:  resourceID,
		sectionID:   sectionID,
		startedAt:   startedAt,
		completedAt: completedAt,
		viewCount:   viewCount,
	}, nil
}

func (s SectionProgress) SubjectID() string { return s.subjectID }

func (s SectionProgress) ResourceID() string { return s.resourceID }

func (s SectionProgress) SectionID() string { return s.sectionID }

func (s SectionProgress) StartedAt() *time.Time { return s.startedAt }

func (s SectionProgress) CompletedAt() *time.Time { return s.completedAt }

func (s SectionProgress) ViewCount() int { return s.viewCount }

func (s SectionProgress) IsStarted() bool { return s.startedAt != nil }

func (s SectionProgress) IsCompleted() bool { return s.completedAt != nil }

// Completed returns the row marked complete at at. A completion timestamp
// earlier than the start (clock skew) is clamped to the start.
func (s SectionProgress) Completed(at time.Time) (SectionProgress, error) {
	if s.startedAt == nil {
		return SectionProgress{}, ErrSectionNotStarted
	}
	if s.completedAt != nil {
		return s, nil
	}
	if at.Before(*s.startedAt) {
		at = *s.startedAt
	}
	next := s
	next.completedAt = &at
	return next, nil
}

// Sections is the set of progress rows for one subject and resource.
type Sections []SectionProgress

// Find returns the row for sectionID.
func (ss Sections) Find(sectionID string) (SectionProgress, bool) {
	for _, s := range ss {
		if s.sectionID == sectionID {
			return s, true
		}
	}
	return SectionProgress{}, false
}

// With returns a copy of ss with row inserted or replaced.
func (ss Sections) With(row SectionProgress) Sections {
	out := make(Sections, 0, len(ss)+1)
	replaced := false
	for _, s := range ss {
		if s.sectionID == row.sectionID {
			out = append(out, row)
			replaced = true
			continue
		}
		out = append(out, s)
	}
	if !replaced {
		out = append(out, row)
	}
	return out
}
