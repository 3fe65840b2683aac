package detective

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"casefile/internal/models"
)

func TestSuggestQuestions(t *testing.T) {
	tests := []struct {
		name     string
		suspect  models.Suspect
		contains []string
		absent   []string
	}{
		{
			name:     "bare suspect",
			suspect:  models.Suspect{Name: "Pat"},
			contains: []string{"Where were you when The Missing Backpack happened?", "Did you see or hear anything strange?"},
			absent:   []string{"Can anyone say they saw you there?"},
		},
		{
			name:     "teacher with alibi",
			suspect:  models.Suspect{Name: "Ms. Rivera", Alibi: "grading"},
			contains: []string{"Can anyone say they saw you there?", "Did any of your students see something?"},
		},
		{
			name:     "staff with background",
			suspect:  models.Suspect{Name: "Gus", Description: "the school janitor", Background: "works nights"},
			contains: []string{"How often are you at the classroom?", "Which rooms did you visit today?"},
		},
	}

	c := models.Case{Title: "The Missing Backpack", Location: "the classroom"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SuggestQuestions(tt.suspect, c)
			assert.LessOrEqual(t, len(got), 8)
			for _, q := range tt.contains {
				assert.Contains(t, got, q)
			}
			for _, q := range tt.absent {
				assert.NotContains(t, got, q)
			}
		})
	}
}

func TestSuggestQuestions_CapAndDefaults(t *testing.T) {
	s := models.Suspect{Name: "Coach Kim", Alibi: "x", Motive: "y", Background: "z"}
	got := SuggestQuestions(s, models.Case{})

	assert.Len(t, got, 8)
	assert.Equal(t, "Where were you when this mystery happened?", got[0])
	assert.Contains(t, got, "How often are you at here?")
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, dedupe([]string{"a", "b", "a", "c"}, 2))
	assert.Equal(t, []string{}, dedupe(nil, 3))
}
