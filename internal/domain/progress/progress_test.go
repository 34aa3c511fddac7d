package progress

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

func outlineOf(n int) Outline {
	sections := make([]Section, n)
	for i := range n {
		sections[i] = Section{ID: fmt.Sprintf("S%d", i+1), Order: i, Sequence: i}
	}
	return NewOutline("C1", sections)
}

func completedRow(t *testing.T, id string) SectionProgress {
	t.Helper()
	row, err := NewStartedSection("alice", "C1", id, t0).Completed(t0.Add(time.Minute))
	require.NoError(t, err)
	return row
}

func TestComputeCourseProgress(t *testing.T) {
	tests := []struct {
		name      string
		outline   Outline
		completed []string
		started   []string
		want      CourseProgress
	}{
		{"no sections", outlineOf(0), nil, nil, CourseProgress{}},
		{"nothing done", outlineOf(4), nil, []string{"S1"}, CourseProgress{TotalSections: 4}},
		{"one of three rounds", outlineOf(3), []string{"S1"}, nil, CourseProgress{TotalSections: 3, CompletedSections: 1, Percentage: 33}},
		{"two of three rounds up", outlineOf(3), []string{"S1", "S2"}, nil, CourseProgress{TotalSections: 3, CompletedSections: 2, Percentage: 67}},
		{"all four done", outlineOf(4), []string{"S1", "S2", "S3", "S4"}, nil, CourseProgress{TotalSections: 4, CompletedSections: 4, Percentage: 100, IsFullyCompleted: true}},
		{"rows outside outline ignored", outlineOf(2), []string{"S1", "X9"}, nil, CourseProgress{TotalSections: 2, CompletedSections: 1, Percentage: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rows Sections
			for _, id := range tt.completed {
				rows = rows.With(completedRow(t, id))
			}
			for _, id := range tt.started {
				rows = rows.With(NewStartedSection("alice", "C1", id, t0))
			}

			got := ComputeCourseProgress(tt.outline, rows)

			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ComputeCourseProgress(tt.outline, rows), "must be deterministic")
			assert.GreaterOrEqual(t, got.Percentage, 0)
			assert.LessOrEqual(t, got.Percentage, 100)
		})
	}
}

func TestNextIncompleteSectionOrdering(t *testing.T) {
	outline := NewOutline("C1", []Section{
		{ID: "intro", Order: 0, Sequence: 0},
		{ID: "b", Order: 1, Sequence: 7},
		{ID: "a", Order: 1, Sequence: 3},
		{ID: "outro", Order: 2, Sequence: 1},
	})

	next := NextIncompleteSection(outline, Sections{completedRow(t, "intro")})
	require.NotNil(t, next)
	assert.Equal(t, "a", next.ID, "equal order is broken by sequence index")

	rows := Sections{completedRow(t, "intro"), completedRow(t, "a"), NewStartedSection("alice", "C1", "b", t0)}
	next = NextIncompleteSection(outline, rows)
	require.NotNil(t, next)
	assert.Equal(t, "b", next.ID)

	all := Sections{completedRow(t, "intro"), completedRow(t, "a"), completedRow(t, "b"), completedRow(t, "outro")}
	assert.Nil(t, NextIncompleteSection(outline, all))
}

func TestOutlineDropsDuplicates(t *testing.T) {
	o := NewOutline("C1", []Section{{ID: "S1"}, {ID: "S1", Order: 5}, {ID: ""}, {ID: "S2", Order: 1}})

	assert.Equal(t, 2, o.Len())
	assert.True(t, o.Contains("S2"))
	assert.False(t, o.Contains(""))
}

func TestCompleted(t *testing.T) {
	t.Run("requires start", func(t *testing.T) {
		var row SectionProgress
		_, err := row.Completed(t0)
		assert.ErrorIs(t, err, ErrSectionNotStarted)
	})

	t.Run("re-completion keeps the first timestamp", func(t *testing.T) {
		row := completedRow(t, "S1")
		again, err := row.Completed(t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, *row.CompletedAt(), *again.CompletedAt())
	})

	t.Run("clamps completion before start", func(t *testing.T) {
		row, err := NewStartedSection("alice", "C1", "S1", t0).Completed(t0.Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, t0, *row.CompletedAt())
	})
}

func TestReconstructSectionProgressInvariants(t *testing.T) {
	start := t0
	before := t0.Add(-time.Second)

	_, err := ReconstructSectionProgress("alice", "C1", "S1", nil, &start, 0)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	_, err = ReconstructSectionProgress("alice", "C1", "S1", &start, &before, 0)
	assert.ErrorIs(t, err, ErrInvalidProgress)

	row, err := ReconstructSectionProgress("alice", "C1", "S1", &start, nil, 3)
	require.NoError(t, err)
	assert.True(t, row.IsStarted())
	assert.False(t, row.IsCompleted())
	assert.Equal(t, 3, row.ViewCount())
}

func TestSectionsWithReplaces(t *testing.T) {
	rows := Sections{NewStartedSection("alice", "C1", "S1", t0)}
	rows2 := rows.With(completedRow(t, "S1"))

	assert.Len(t, rows2, 1)
	assert.True(t, rows2[0].IsCompleted())
	assert.False(t, rows[0].IsCompleted(), "original slice is not modified")
}
