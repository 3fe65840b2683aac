package normalize

// Generated marks a default that is produced at normalization time.
type Generated int

const (
	// GenerateID yields a fresh UUID.
	GenerateID Generated = iota + 1
	// GenerateNow yields the current time in RFC 3339.
	GenerateNow
)

// Field maps one canonical field onto the source keys a provider may use for
// it. Keys are probed in order; the first present key wins. Default applies
// when none is present.
type Field struct {
	Name    string
	Keys    []string
	Default any
}

// Table is the ordered mapping of one object shape.
type Table []Field

// Field returns the entry named name. It panics on an unknown name, which
// is a programming error.
func (t Table) Field(name string) Field {
	for _, f := range t {
		if f.Name == name {
			return f
		}
	}
	panic("normalize: unknown field " + name)
}

// CaseObjectKeys locate the nested case object. When none is present the
// top level of the payload is used.
var CaseObjectKeys = []string{"case", "case_details", "caseDetails"}

// CaseFields maps the case record. Each key is probed in the nested case
// object first and then at the top level.
var CaseFields = Table{
	{Name: "id", Keys: []string{"id", "caseId"}, Default: GenerateID},
	{Name: "title", Keys: []string{"title", "caseTitle", "case_title", "name"}, Default: "Untitled Case"},
	{Name: "description", Keys: []string{"description", "story", "details"}, Default: ""},
	{Name: "summary", Keys: []string{"summary", "synopsis", "shortSummary"}, Default: ""},
	{Name: "difficulty", Keys: []string{"difficulty", "level"}, Default: "medium"},
	{Name: "solved", Keys: []string{"solved"}, Default: false},
	{Name: "location", Keys: []string{"location", "setting", "place"}, Default: ""},
	{Name: "dateTime", Keys: []string{"dateTime", "date_time", "datetime", "time"}, Default: GenerateNow},
	{Name: "imageUrl", Keys: []string{"imageUrl", "image_url", "image"}, Default: "/case-file.png"},
	{Name: "isLLMGenerated", Keys: []string{"isLLMGenerated"}, Default: true},
}

// GeneratedCaseFields maps the top-level lists and the solution text.
var GeneratedCaseFields = Table{
	{Name: "clues", Keys: []string{"clues", "evidence"}, Default: nil},
	{Name: "suspects", Keys: []string{"suspects", "characters", "people"}, Default: nil},
	{Name: "solution", Keys: []string{"solution", "answer", "resolution"}, Default: ""},
}

// SolutionObjectFields maps a solution given as an object instead of text.
var SolutionObjectFields = Table{
	{Name: "text", Keys: []string{"reasoning", "explanation", "narrative", "description", "summary"}, Default: ""},
}

// CulpritFields are probed at the top level and inside a solution object.
var CulpritFields = Table{
	{Name: "culpritId", Keys: []string{"culpritId", "culprit_id", "guiltySuspectId"}, Default: ""},
	{Name: "culpritName", Keys: []string{"culprit", "culpritName", "culprit_name", "guiltySuspect", "guilty"}, Default: ""},
}

// ClueFields maps one clue.
var ClueFields = Table{
	{Name: "id", Keys: []string{"id"}, Default: GenerateID},
	{Name: "title", Keys: []string{"title", "item", "name"}, Default: "Untitled Clue"},
	{Name: "description", Keys: []string{"description", "details"}, Default: ""},
	{Name: "location", Keys: []string{"location", "position_found", "foundAt"}, Default: ""},
	{Name: "type", Keys: []string{"type", "category"}, Default: "physical"},
	{Name: "discovered", Keys: []string{"discovered"}, Default: false},
	{Name: "examined", Keys: []string{"examined"}, Default: false},
	{Name: "relevance", Keys: []string{"relevance", "significance", "importance"}, Default: "important"},
	{Name: "emoji", Keys: []string{"emoji", "icon"}, Default: "🔍"},
}

// SuspectFields maps one suspect.
var SuspectFields = Table{
	{Name: "id", Keys: []string{"id"}, Default: GenerateID},
	{Name: "name", Keys: []string{"name", "fullName", "full_name"}, Default: "Unknown Suspect"},
	{Name: "description", Keys: []string{"description", "role"}, Default: ""},
	{Name: "background", Keys: []string{"background", "backstory"}, Default: ""},
	{Name: "motive", Keys: []string{"motive", "reason"}, Default: ""},
	{Name: "alibi", Keys: []string{"alibi"}, Default: ""},
	{Name: "isGuilty", Keys: []string{"isGuilty", "is_guilty", "guilty", "isCulprit"}, Default: false},
	{Name: "interviewed", Keys: []string{"interviewed"}, Default: false},
	{Name: "emoji", Keys: []string{"emoji", "icon", "avatar"}, Default: "👤"},
}

// ClueAnalysisFields maps the clue-analysis schema.
var ClueAnalysisFields = Table{
	{Name: "summary", Keys: []string{"summary", "analysis", "explanation"}, Default: "No analysis available"},
	{Name: "connections", Keys: []string{"connections", "links"}, Default: nil},
	{Name: "nextSteps", Keys: []string{"nextSteps", "next_steps", "recommendations"}, Default: []string{"Continue investigating"}},
}

// ClueConnectionFields maps one clue-analysis connection.
var ClueConnectionFields = Table{
	{Name: "suspectId", Keys: []string{"suspectId", "suspect_id"}, Default: ""},
	{Name: "suspectName", Keys: []string{"suspect", "suspectName", "suspect_name", "name"}, Default: ""},
	{Name: "connectionType", Keys: []string{"connectionType", "type"}, Default: "related"},
	{Name: "description", Keys: []string{"description", "details"}, Default: ""},
}

// SuspectAnalysisFields maps the suspect-analysis schema.
var SuspectAnalysisFields = Table{
	{Name: "suspectId", Keys: []string{"suspectId", "suspect_id"}, Default: ""},
	{Name: "trustworthiness", Keys: []string{"trustworthiness", "trust", "trustScore"}, Default: 50},
	{Name: "inconsistencies", Keys: []string{"inconsistencies", "contradictions"}, Default: nil},
	{Name: "connections", Keys: []string{"connections", "links"}, Default: nil},
	{Name: "suggestedQuestions", Keys: []string{"suggestedQuestions", "suggested_questions", "questions"}, Default: []string{"What were you doing?", "Did you see anything unusual?"}},
}

// SuspectConnectionFields maps one suspect-analysis connection.
var SuspectConnectionFields = Table{
	{Name: "clueId", Keys: []string{"clueId", "clue_id"}, Default: ""},
	{Name: "clueTitle", Keys: []string{"clue", "clueTitle", "clue_title", "title"}, Default: ""},
	{Name: "connectionType", Keys: []string{"connectionType", "type"}, Default: "related"},
	{Name: "description", Keys: []string{"description", "details"}, Default: ""},
}

// SolutionFields maps the solution schema. culpritId, evidenceIds and
// reasoning come from the caller's hints when those are set.
var SolutionFields = Table{
	{Name: "solved", Keys: []string{"solved", "correct", "isCorrect"}, Default: false},
	{Name: "culpritId", Keys: []string{"culpritId", "culprit_id", "accusedId"}, Default: ""},
	{Name: "reasoning", Keys: []string{"reasoning"}, Default: ""},
	{Name: "evidenceIds", Keys: []string{"evidenceIds", "evidence_ids"}, Default: nil},
	{Name: "narrative", Keys: []string{"narrative", "explanation", "description", "feedback"}, Default: ""},
}
