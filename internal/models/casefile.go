package models

// Case is a detective case record.
type Case struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Summary        string `json:"summary"`
	Difficulty     string `json:"difficulty"`
	Solved         bool   `json:"solved"`
	Location       string `json:"location"`
	DateTime       string `json:"dateTime"`
	ImageURL       string `json:"imageUrl"`
	IsLLMGenerated bool   `json:"isLLMGenerated"`
}

// Clue is a piece of evidence attached to a case.
type Clue struct {
	ID          string `json:"id"`
	CaseID      string `json:"caseId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Type        string `json:"type"`
	Discovered  bool   `json:"discovered"`
	Examined    bool   `json:"examined"`
	Relevance   string `json:"relevance"`
	Emoji       string `json:"emoji"`
}

// Suspect is a person of interest in a case.
type Suspect struct {
	ID          string `json:"id"`
	CaseID      string `json:"caseId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Background  string `json:"background"`
	Motive      string `json:"motive"`
	Alibi       string `json:"alibi"`
	IsGuilty    bool   `json:"isGuilty"`
	Interviewed bool   `json:"interviewed"`
	Emoji       string `json:"emoji"`
}

// GeneratedCase is the canonical result of the case schema.
type GeneratedCase struct {
	Case     Case      `json:"case"`
	Clues    []Clue    `json:"clues"`
	Suspects []Suspect `json:"suspects"`
	Solution string    `json:"solution"`
}

// Guilty returns the first suspect flagged guilty.
func (g GeneratedCase) Guilty() (Suspect, bool) {
	for _, s := range g.Suspects {
		if s.IsGuilty {
			return s, true
		}
	}
	return Suspect{}, false
}

// ClueConnection links an analysed clue to a suspect.
type ClueConnection struct {
	SuspectID      string `json:"suspectId"`
	ConnectionType string `json:"connectionType"`
	Description    string `json:"description"`
}

// ClueAnalysis is the canonical result of the clue-analysis schema.
type ClueAnalysis struct {
	Summary     string           `json:"summary"`
	Connections []ClueConnection `json:"connections"`
	NextSteps   []string         `json:"nextSteps"`
}

// SuspectConnection links an analysed suspect to a clue.
type SuspectConnection struct {
	ClueID         string `json:"clueId"`
	ConnectionType string `json:"connectionType"`
	Description    string `json:"description"`
}

// SuspectAnalysis is the canonical result of the suspect-analysis schema.
type SuspectAnalysis struct {
	SuspectID          string              `json:"suspectId"`
	Trustworthiness    int                 `json:"trustworthiness"`
	Inconsistencies    []string            `json:"inconsistencies"`
	Connections        []SuspectConnection `json:"connections"`
	SuggestedQuestions []string            `json:"suggestedQuestions"`
}

// CaseSolution is the canonical result of the solution schema.
type CaseSolution struct {
	Solved      bool     `json:"solved"`
	CulpritID   string   `json:"culpritId"`
	Reasoning   string   `json:"reasoning"`
	EvidenceIDs []string `json:"evidenceIds"`
	Narrative   string   `json:"narrative"`
}

// InterviewQuestion is one question put to a suspect.
type InterviewQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Asked    bool   `json:"asked"`
}

// Interview holds the questions asked of one suspect.
type Interview struct {
	SuspectID string              `json:"suspectId"`
	Questions []InterviewQuestion `json:"questions"`
}
