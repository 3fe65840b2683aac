package translator

import (
	"fmt"
	"strings"
)

var knownModels = map[string]struct{}{
	"gpt-4o":              {},
	"gpt-4o-mini":         {},
	"gpt-4-turbo":         {},
	"gpt-4-turbo-preview": {},
	"gpt-4":               {},
	"gpt-4.1":             {},
	"gpt-4.1-mini":        {},
	"gpt-3.5-turbo":       {},
	"gpt-5":               {},
	"gpt-5-mini":          {},
	"gpt-5-nano":          {},
	"o1":                  {},
	"o1-mini":             {},
	"o1-preview":          {},
	"o3":                  {},
	"o3-mini":             {},
	"o4-mini":             {},
}

var knownFamilies = []string{"gpt-5", "gpt-4", "gpt-3.5", "o1", "o3", "o4", "claude-"}

// CheckModel returns a warning for model identifiers outside the known set.
// It never rejects: dialect selection falls back to standard for anything
// unrecognised, so the warning only helps operators spot typos.
func CheckModel(model string) string {
	id := canonicalModelID(model)
	if id == "" {
		return ""
	}
	if _, ok := knownModels[id]; ok {
		return ""
	}
	if hasAnyPrefix(id, knownFamilies) {
		return fmt.Sprintf("model %q is not in the known list but has a recognised prefix; using the %s dialect", model, ProfileFor(model).Dialect)
	}
	if strings.Contains(id, "gpt") {
		return fmt.Sprintf("model %q does not match a known gpt family; check the configured model name", model)
	}
	return fmt.Sprintf("model %q is not recognised; sending it with the %s dialect", model, DialectStandard)
}
