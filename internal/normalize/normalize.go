// Package normalize maps recovered reply objects onto the canonical
// detective schemas. Every accepted source key is listed in the exported
// tables of fields.go.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"casefile/internal/faults"
	"casefile/internal/models"
)

// Schema tags a canonical target shape.
type Schema string

const (
	SchemaCase            Schema = "case"
	SchemaClueAnalysis    Schema = "clue-analysis"
	SchemaSuspectAnalysis Schema = "suspect-analysis"
	SchemaSolution        Schema = "solution"
)

// ParseSchema validates a schema tag.
func ParseSchema(s string) (Schema, error) {
	switch Schema(s) {
	case SchemaCase, SchemaClueAnalysis, SchemaSuspectAnalysis, SchemaSolution:
		return Schema(s), nil
	}
	return "", faults.InvalidRequest("unknown schema %q", s)
}

// CulpritFallback decides what happens when no guilty suspect can be
// inferred from a generated case.
type CulpritFallback int

const (
	// FirstSuspect marks the first suspect guilty.
	FirstSuspect CulpritFallback = iota
	// NoCulprit leaves every suspect innocent.
	NoCulprit
)

// ParseCulpritFallback reads the configuration spelling of a policy.
func ParseCulpritFallback(s string) (CulpritFallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first_suspect", "first-suspect":
		return FirstSuspect, nil
	case "none", "no_culprit", "no-culprit":
		return NoCulprit, nil
	}
	return 0, fmt.Errorf("unknown culprit fallback %q", s)
}

func (c CulpritFallback) String() string {
	if c == NoCulprit {
		return "none"
	}
	return "first_suspect"
}

// Hints carries caller-side context that the reply itself does not contain.
type Hints struct {
	Suspects    []models.Suspect
	Clues       []models.Clue
	SuspectID   string
	AccusedID   string
	EvidenceIDs []string
	Reasoning   string
	Language    string
}

// Normalizer turns recovered objects into canonical results. The zero value
// uses time.Now, random UUIDs and the FirstSuspect policy.
type Normalizer struct {
	Now             func() time.Time
	NewID           func() string
	CulpritFallback CulpritFallback
}

// New returns a Normalizer with the given culprit policy.
func New(fallback CulpritFallback) *Normalizer {
	return &Normalizer{CulpritFallback: fallback}
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) newID() string {
	if n.NewID != nil {
		return n.NewID()
	}
	return uuid.NewString()
}

// Normalize dispatches on schema.
func (n *Normalizer) Normalize(schema Schema, obj map[string]any, hints Hints) (any, error) {
	switch schema {
	case SchemaCase:
		return n.Case(obj, hints)
	case SchemaClueAnalysis:
		return n.ClueAnalysis(obj, hints)
	case SchemaSuspectAnalysis:
		return n.SuspectAnalysis(obj, hints)
	case SchemaSolution:
		return n.Solution(obj, hints)
	}
	return nil, faults.InvalidRequest("unknown schema %q", schema)
}

// Case normalizes a generated case. It has no strictly required fields.
func (n *Normalizer) Case(obj map[string]any, _ Hints) (models.GeneratedCase, error) {
	caseObj := nestedObject(obj, CaseObjectKeys)

	c := models.Case{
		ID:             n.str(CaseFields.Field("id"), caseObj, obj),
		Title:          n.str(CaseFields.Field("title"), caseObj, obj),
		Description:    n.str(CaseFields.Field("description"), caseObj, obj),
		Summary:        n.str(CaseFields.Field("summary"), caseObj, obj),
		Difficulty:     n.str(CaseFields.Field("difficulty"), caseObj, obj),
		Solved:         n.boolean(CaseFields.Field("solved"), caseObj, obj),
		Location:       n.str(CaseFields.Field("location"), caseObj, obj),
		DateTime:       n.str(CaseFields.Field("dateTime"), caseObj, obj),
		ImageURL:       n.str(CaseFields.Field("imageUrl"), caseObj, obj),
		IsLLMGenerated: n.boolean(CaseFields.Field("isLLMGenerated"), caseObj, obj),
	}

	var solutionObj map[string]any
	solution := ""
	if v, ok := lookup(GeneratedCaseFields.Field("solution"), obj); ok {
		if m, isObj := v.(map[string]any); isObj {
			solutionObj = m
			solution = n.str(SolutionObjectFields.Field("text"), m)
		} else if s, isStr := asString(v); isStr {
			solution = s
		}
	}

	out := models.GeneratedCase{
		Case:     c,
		Clues:    []models.Clue{},
		Suspects: []models.Suspect{},
		Solution: solution,
	}

	if v, ok := lookup(GeneratedCaseFields.Field("clues"), obj); ok {
		for _, item := range asList(v) {
			m, ok := asObject(item, "title")
			if !ok {
				continue
			}
			out.Clues = append(out.Clues, n.clue(m, c.ID))
		}
	}

	if v, ok := lookup(GeneratedCaseFields.Field("suspects"), obj); ok {
		for _, item := range asList(v) {
			m, ok := asObject(item, "name")
			if !ok {
				continue
			}
			out.Suspects = append(out.Suspects, n.suspect(m, c.ID))
		}
	}

	n.inferGuilty(out.Suspects, solution, obj, solutionObj, caseObj)
	return out, nil
}

func (n *Normalizer) clue(m map[string]any, caseID string) models.Clue {
	return models.Clue{
		ID:          n.str(ClueFields.Field("id"), m),
		CaseID:      caseID,
		Title:       n.str(ClueFields.Field("title"), m),
		Description: n.str(ClueFields.Field("description"), m),
		Location:    n.str(ClueFields.Field("location"), m),
		Type:        n.str(ClueFields.Field("type"), m),
		Discovered:  n.boolean(ClueFields.Field("discovered"), m),
		Examined:    n.boolean(ClueFields.Field("examined"), m),
		Relevance:   n.str(ClueFields.Field("relevance"), m),
		Emoji:       n.str(ClueFields.Field("emoji"), m),
	}
}

func (n *Normalizer) suspect(m map[string]any, caseID string) models.Suspect {
	return models.Suspect{
		ID:          n.str(SuspectFields.Field("id"), m),
		CaseID:      caseID,
		Name:        n.str(SuspectFields.Field("name"), m),
		Description: n.str(SuspectFields.Field("description"), m),
		Background:  n.str(SuspectFields.Field("background"), m),
		Motive:      n.str(SuspectFields.Field("motive"), m),
		Alibi:       n.str(SuspectFields.Field("alibi"), m),
		IsGuilty:    n.boolean(SuspectFields.Field("isGuilty"), m),
		Interviewed: n.boolean(SuspectFields.Field("interviewed"), m),
		Emoji:       n.str(SuspectFields.Field("emoji"), m),
	}
}

// inferGuilty marks one suspect guilty unless a flag is already set. Order:
// culprit id, culprit name, earliest name in the narrative, then the
// fallback policy.
func (n *Normalizer) inferGuilty(suspects []models.Suspect, narrative string, objs ...map[string]any) {
	if len(suspects) == 0 {
		return
	}
	for _, s := range suspects {
		if s.IsGuilty {
			return
		}
	}

	idx := -1
	if id := n.str(CulpritFields.Field("culpritId"), objs...); id != "" {
		idx = indexByID(suspects, id)
	}
	if idx < 0 {
		if name := n.str(CulpritFields.Field("culpritName"), objs...); name != "" {
			idx = MatchName(suspectNames(suspects), name)
		}
	}
	if idx < 0 && narrative != "" {
		idx = earliestMention(suspectNames(suspects), narrative)
	}
	if idx < 0 && n.CulpritFallback == FirstSuspect {
		idx = 0
	}
	if idx >= 0 {
		suspects[idx].IsGuilty = true
	}
}

// ClueAnalysis normalizes a clue analysis. Connections are resolved against
// hints.Suspects; unresolved ones are dropped.
func (n *Normalizer) ClueAnalysis(obj map[string]any, hints Hints) (models.ClueAnalysis, error) {
	out := models.ClueAnalysis{
		Summary:     n.str(ClueAnalysisFields.Field("summary"), obj),
		Connections: []models.ClueConnection{},
		NextSteps:   n.stringList(ClueAnalysisFields.Field("nextSteps"), obj),
	}

	if v, ok := lookup(ClueAnalysisFields.Field("connections"), obj); ok {
		for _, item := range asList(v) {
			m, ok := asObject(item, "suspect")
			if !ok {
				continue
			}
			idx := -1
			if id := n.str(ClueConnectionFields.Field("suspectId"), m); id != "" {
				idx = indexByID(hints.Suspects, id)
			}
			if idx < 0 {
				if name := n.str(ClueConnectionFields.Field("suspectName"), m); name != "" {
					idx = MatchName(suspectNames(hints.Suspects), name)
				}
			}
			if idx < 0 {
				continue
			}
			out.Connections = append(out.Connections, models.ClueConnection{
				SuspectID:      hints.Suspects[idx].ID,
				ConnectionType: n.str(ClueConnectionFields.Field("connectionType"), m),
				Description:    n.str(ClueConnectionFields.Field("description"), m),
			})
		}
	}
	return out, nil
}

// SuspectAnalysis normalizes a suspect analysis. The suspect id comes from
// hints when set and is required.
func (n *Normalizer) SuspectAnalysis(obj map[string]any, hints Hints) (models.SuspectAnalysis, error) {
	suspectID := strings.TrimSpace(hints.SuspectID)
	if suspectID == "" {
		suspectID = n.str(SuspectAnalysisFields.Field("suspectId"), obj)
	}
	if suspectID == "" {
		return models.SuspectAnalysis{}, &faults.ValidationError{Schema: string(SchemaSuspectAnalysis), Field: "suspectId"}
	}

	trust := SuspectAnalysisFields.Field("trustworthiness").Default.(int)
	if v, ok := lookup(SuspectAnalysisFields.Field("trustworthiness"), obj); ok {
		if t, ok := asInt(v); ok {
			trust = t
		}
	}

	out := models.SuspectAnalysis{
		SuspectID:          suspectID,
		Trustworthiness:    clamp(trust, 0, 100),
		Inconsistencies:    n.stringList(SuspectAnalysisFields.Field("inconsistencies"), obj),
		Connections:        []models.SuspectConnection{},
		SuggestedQuestions: n.stringList(SuspectAnalysisFields.Field("suggestedQuestions"), obj),
	}

	if v, ok := lookup(SuspectAnalysisFields.Field("connections"), obj); ok {
		for _, item := range asList(v) {
			m, ok := asObject(item, "clue")
			if !ok {
				continue
			}
			idx := -1
			if id := n.str(SuspectConnectionFields.Field("clueId"), m); id != "" {
				idx = indexClueByID(hints.Clues, id)
			}
			if idx < 0 {
				if title := n.str(SuspectConnectionFields.Field("clueTitle"), m); title != "" {
					idx = MatchName(clueTitles(hints.Clues), title)
				}
			}
			if idx < 0 {
				continue
			}
			out.Connections = append(out.Connections, models.SuspectConnection{
				ClueID:         hints.Clues[idx].ID,
				ConnectionType: n.str(SuspectConnectionFields.Field("connectionType"), m),
				Description:    n.str(SuspectConnectionFields.Field("description"), m),
			})
		}
	}
	return out, nil
}

// Solution normalizes a verdict on an accusation. The suspects list and a
// culprit id that names one of them are required. Solved is computed from
// the suspects' guilty flags when one is set.
func (n *Normalizer) Solution(obj map[string]any, hints Hints) (models.CaseSolution, error) {
	if len(hints.Suspects) == 0 {
		return models.CaseSolution{}, &faults.ValidationError{Schema: string(SchemaSolution), Field: "suspects"}
	}

	culprit := strings.TrimSpace(hints.AccusedID)
	if culprit == "" {
		culprit = n.str(SolutionFields.Field("culpritId"), obj)
	}
	if culprit == "" || indexByID(hints.Suspects, culprit) < 0 {
		return models.CaseSolution{}, &faults.ValidationError{Schema: string(SchemaSolution), Field: "culpritId"}
	}

	var solved bool
	if guilty, ok := (models.GeneratedCase{Suspects: hints.Suspects}).Guilty(); ok {
		solved = guilty.ID == culprit
	} else {
		solved = n.boolean(SolutionFields.Field("solved"), obj)
	}

	reasoning := hints.Reasoning
	if strings.TrimSpace(reasoning) == "" {
		reasoning = n.str(SolutionFields.Field("reasoning"), obj)
	}

	evidence := append([]string{}, hints.EvidenceIDs...)
	if hints.EvidenceIDs == nil {
		evidence = n.stringList(SolutionFields.Field("evidenceIds"), obj)
	}

	narrative := n.str(SolutionFields.Field("narrative"), obj)
	if narrative == "" {
		narrative = FallbackNarrative(solved, hints.Language)
	}

	return models.CaseSolution{
		Solved:      solved,
		CulpritID:   culprit,
		Reasoning:   reasoning,
		EvidenceIDs: evidence,
		Narrative:   narrative,
	}, nil
}

// FallbackNarrative is the verdict text used when a reply carries none.
func FallbackNarrative(correct bool, language string) string {
	if strings.EqualFold(strings.TrimSpace(language), "th") {
		if correct {
			return "การวิเคราะห์ของคุณถูกต้อง! คุณได้ระบุผู้กระทำผิดและมีเหตุผลที่ดี คุณแก้คดีสำเร็จแล้ว!"
		}
		return "การวิเคราะห์ของคุณมีจุดที่น่าสนใจ แต่ผู้ต้องสงสัยที่คุณเลือกไม่ใช่ผู้กระทำผิดจริง ลองตรวจสอบหลักฐานอีกครั้ง"
	}
	if correct {
		return "Your analysis is correct! You identified the true culprit and provided good reasoning. You successfully solved this case!"
	}
	return "Your analysis has interesting points, but the suspect you chose is not the actual culprit. Try reviewing the evidence again and reconsider the other suspects."
}

func nestedObject(obj map[string]any, keys []string) map[string]any {
	for _, key := range keys {
		if m, ok := obj[key].(map[string]any); ok {
			return m
		}
	}
	return nil
}
