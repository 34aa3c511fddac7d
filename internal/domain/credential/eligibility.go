package credential

import "courseledger/internal/domain/progress"

// Reason explains an eligibility decision.
type Reason string

const (
	ReasonEligible      Reason = "eligible"
	ReasonNotCompleted  Reason = "course_not_completed"
	ReasonAlreadyMember Reason = "already_in_credential"
	ReasonNeverLicensed Reason = "never_licensed"
	ReasonDuplicate     Reason = "duplicate_in_batch"
)

// Policy holds the configurable eligibility rules.
type Policy struct {
	// AllowUnlicensedCompletion admits courses completed without ever
	// holding a license, e.g. through a free preview.
	AllowUnlicensedCompletion bool
}

// Facts is everything the predicate needs about one resource.
type Facts struct {
	ResourceID   string
	Progress     progress.CourseProgress
	Credential   *Credential
	EverLicensed bool
}

// Eligibility is the outcome of Evaluate.
type Eligibility struct {
	ResourceID string `json:"resource_id"`
	Eligible   bool   `json:"eligible"`
	Reason     Reason `json:"reason"`
}

// Evaluate applies the eligibility predicate. Checks run in a fixed order so
// the reported reason is stable.
func (p Policy) Evaluate(f Facts) Eligibility {
	e := Eligibility{ResourceID: f.ResourceID}
	switch {
	case !f.Progress.IsFullyCompleted:
		e.Reason = ReasonNotCompleted
	case f.Credential.Contains(f.ResourceID):
		e.Reason = ReasonAlreadyMember
	case !f.EverLicensed && !p.AllowUnlicensedCompletion:
		e.Reason = ReasonNeverLicensed
	default:
		e.Eligible = true
		e.Reason = ReasonEligible
	}
	return e
}

// Err returns a NotEligibleError for an ineligible result, nil otherwise.
func (e Eligibility) Err() error {
	if e.Eligible {
		return nil
	}
	return &NotEligibleError{ResourceID: e.ResourceID, Reason: e.Reason}
}
