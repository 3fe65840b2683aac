package normalize

import (
	"strings"

	"casefile/internal/models"
)

// MatchName returns the index of the candidate that query names, or -1.
// Case-insensitive equality is tried first, then substring containment in
// either direction. Blank candidates never match.
func MatchName(candidates []string, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return -1
	}
	for i, c := range candidates {
		if c = strings.TrimSpace(c); c != "" && strings.EqualFold(c, q) {
			return i
		}
	}
	for i, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if strings.Contains(q, c) || strings.Contains(c, q) {
			return i
		}
	}
	return -1
}

// earliestMention returns the candidate whose name occurs first in text.
func earliestMention(candidates []string, text string) int {
	lower := strings.ToLower(text)
	best, bestPos := -1, len(lower)+1
	for i, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if pos := strings.Index(lower, c); pos >= 0 && pos < bestPos {
			best, bestPos = i, pos
		}
	}
	return best
}

func indexByID(suspects []models.Suspect, id string) int {
	for i, s := range suspects {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func indexClueByID(clues []models.Clue, id string) int {
	for i, c := range clues {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func suspectNames(suspects []models.Suspect) []string {
	out := make([]string, len(suspects))
	for i, s := range suspects {
		out[i] = s.Name
	}
	return out
}

func clueTitles(clues []models.Clue) []string {
	out := make([]string, len(clues))
	for i, c := range clues {
		out[i] = c.Title
	}
	return out
}
