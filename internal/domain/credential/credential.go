// Package credential models the cumulative completion certificate.
package credential

import (
	"fmt"
	"slices"
	"time"
)

// Credential is the append-only set of courses a holder has completed.
type Credential struct {
	holderID              string
	completedResourceIDs  []string
	totalCoursesCompleted int
	issuedAt              time.Time
	lastUpdatedAt         time.Time
}

// ReconstructCredential rebuilds a credential from a record. Duplicate ids
// are collapsed; the total never drops below the number of members.
func ReconstructCredential(holderID string, resourceIDs []string, total int, issuedAt, lastUpdatedAt time.Time) (*Credential, error) {
	if holderID == "" {
		return nil, fmt.Errorf("%w: holder is required", ErrInvalidCredential)
	}
	ids := make([]string, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if total < len(ids) {
		total = len(ids)
	}
	return &Credential{
		holderID:              holderID,
		completedResourceIDs:  ids,
		totalCoursesCompleted: total,
		issuedAt:              issuedAt,
		lastUpdatedAt:         lastUpdatedAt,
	}, nil
}

func (c *Credential) HolderID() string { return c.holderID }

func (c *Credential) CompletedResourceIDs() []string {
	return slices.Clone(c.completedResourceIDs)
}

func (c *Credential) TotalCoursesCompleted() int { return c.totalCoursesCompleted }

func (c *Credential) IssuedAt() time.Time { return c.issuedAt }

func (c *Credential) LastUpdatedAt() time.Time { return c.lastUpdatedAt }

// Contains reports membership. A nil credential has no members.
func (c *Credential) Contains(resourceID string) bool {
	return c != nil && slices.Contains(c.completedResourceIDs, resourceID)
}

// WithResources returns the credential with resourceIDs appended. A nil
// receiver mints a new credential for holderID.
func (c *Credential) WithResources(holderID string, now time.Time, resourceIDs ...string) (*Credential, error) {
	next := &Credential{holderID: holderID, issuedAt: now}
	if c != nil {
		next = &Credential{
			holderID:              c.holderID,
			completedResourceIDs:  slices.Clone(c.completedResourceIDs),
			totalCoursesCompleted: c.totalCoursesCompleted,
			issuedAt:              c.issuedAt,
		}
	}
	for _, id := range resourceIDs {
		if next.Contains(id) {
			return nil, &NotEligibleError{ResourceID: id, Reason: ReasonAlreadyMember}
		}
		next.completedResourceIDs = append(next.completedResourceIDs, id)
		next.totalCoursesCompleted++
	}
	next.lastUpdatedAt = now
	return next, nil
}
