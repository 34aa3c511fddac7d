package progress

import (
	"math"
	"sort"
)

// Section is one entry of a course outline. Order is the display position;
// Sequence is the authoring index that breaks ties between equal orders.
type Section struct {
	ID       string
	Title    string
	Order    int
	Sequence int
}

// Outline is the ordered section list of a course.
type Outline struct {
	resourceID string
	sections   []Section
}

// NewOutline sorts sections by (Order, Sequence) and drops duplicate ids.
func NewOutline(resourceID string, sections []Section) Outline {
	seen := make(map[string]bool, len(sections))
	sorted := make([]Section, 0, len(sections))
	for _, s := range sections {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].Sequence < sorted[j].Sequence
	})
	return Outline{resourceID: resourceID, sections: sorted}
}

func (o Outline) ResourceID() string { return o.resourceID }

func (o Outline) Sections() []Section {
	return append([]Section(nil), o.sections...)
}

func (o Outline) Len() int { return len(o.sections) }

func (o Outline) Contains(sectionID string) bool {
	for _, s := range o.sections {
		if s.ID == sectionID {
			return true
		}
	}
	return false
}

// CourseProgress is derived from the progress rows; it is never stored.
type CourseProgress struct {
	TotalSections     int  `json:"total_sections"`
	CompletedSections int  `json:"completed_sections"`
	Percentage        int  `json:"percentage"`
	IsFullyCompleted  bool `json:"is_fully_completed"`
}

// ComputeCourseProgress counts the outline sections that have a completion
// row. Rows for sections outside the outline are ignored. A course without
// sections is 0% and never fully completed.
func ComputeCourseProgress(outline Outline, rows Sections) CourseProgress {
	total := outline.Len()
	if total == 0 {
		return CourseProgress{}
	}
	completed := 0
	for _, s := range outline.sections {
		if row, ok := rows.Find(s.ID); ok && row.IsCompleted() {
			completed++
		}
	}
	return CourseProgress{
		TotalSections:     total,
		CompletedSections: completed,
		Percentage:        int(math.Round(float64(completed) / float64(total) * 100)),
		IsFullyCompleted:  completed == total,
	}
}

// NextIncompleteSection returns the first section in outline order without
// a completion row, or nil when everything is complete.
func NextIncompleteSection(outline Outline, rows Sections) *Section {
	for _, s := range outline.sections {
		if row, ok := rows.Find(s.ID); ok && row.IsCompleted() {
			continue
		}
		next := s
		return &next
	}
	return nil
}
