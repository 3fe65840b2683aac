package detective

import (
	"fmt"
	"strings"

	"casefile/internal/models"
)

const maxSuggestedQuestions = 8

var (
	teacherWords = []string{"teacher", "mr.", "ms.", "mrs.", "coach", "principal"}
	studentWords = []string{"student", "kid", "classmate"}
	staffWords   = []string{"janitor", "custodian", "guard", "cook", "chef", "librarian", "gardener"}
)

// SuggestQuestions offers interview questions for suspect without calling a
// provider. The list is deduplicated and capped at eight.
func SuggestQuestions(suspect models.Suspect, c models.Case) []string {
	title := c.Title
	if strings.TrimSpace(title) == "" {
		title = "this mystery"
	}
	place := c.Location
	if strings.TrimSpace(place) == "" {
		place = "here"
	}

	qs := []string{
		fmt.Sprintf("Where were you when %s happened?", title),
	}
	if suspect.Alibi != "" {
		qs = append(qs, "Can anyone say they saw you there?", "What did you do before and after?")
	}
	if suspect.Motive != "" {
		qs = append(qs, "What do you know about what happened?")
	}
	if suspect.Background != "" {
		qs = append(qs, fmt.Sprintf("How often are you at %s?", place), "Did you notice anything different today?")
	}

	name := strings.ToLower(suspect.Name + " " + suspect.Description)
	switch {
	case containsAny(name, teacherWords):
		qs = append(qs, "Did any of your students see something?")
	case containsAny(name, studentWords):
		qs = append(qs, "Who were you playing with today?")
	case containsAny(name, staffWords):
		qs = append(qs, "Which rooms did you visit today?")
	}

	qs = append(qs,
		"Did you see or hear anything strange?",
		"Is there anything else you want to tell me?",
		"Can you tell me about your day, step by step?",
	)
	return dedupe(qs, maxSuggestedQuestions)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func dedupe(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, min(len(in), limit))
	for _, q := range in {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
