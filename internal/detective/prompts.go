package detective

import (
	"fmt"
	"strings"

	"casefile/internal/models"
)

const (
	langEnglish = "en"
	langThai    = "th"
)

// normalizeLanguage maps anything but Thai to English.
func normalizeLanguage(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), langThai) {
		return langThai
	}
	return langEnglish
}

const caseSystemEN = `You write playful detective mysteries for children around seven years old.

Safety rules you must always follow:
- No violence, weapons, injury, death or crime against people.
- Nothing scary and no grown-up topics.
- Animals and people are always safe and happy at the end.
- Good topics: lost or swapped belongings, a missing class pet that is found safe, a harmless prank, a mixed-up school project.

Language rules:
- Simple words a second grader can read.
- Short sentences, under fifteen words each.
- Cheerful and friendly tone.

Build the mystery like this:
1. A title, a short summary, a place at school or home and a time of day.
2. Four to six clues a child can understand.
3. Three or four suspects: classmates, teachers or friendly grown-ups.
4. Exactly one suspect did it by mistake or with good intentions, and is not in trouble.

The mystery must be solvable with simple logic.

Reply with one JSON object and nothing else, shaped like:
{
  "case": {"title": "", "description": "", "summary": "", "difficulty": "", "location": "", "dateTime": ""},
  "clues": [{"title": "", "description": "", "location": "", "type": "physical", "relevance": "critical", "emoji": ""}],
  "suspects": [{"name": "", "description": "", "background": "", "motive": "", "alibi": "", "isGuilty": false, "emoji": ""}],
  "solution": "who did it and why, in two or three short sentences"
}`

const caseSystemTH = `คุณเขียนเรื่องนักสืบสนุกๆ สำหรับเด็กอายุประมาณ 7 ขวบ

กฎความปลอดภัย:
- ห้ามมีความรุนแรง อาวุธ การบาดเจ็บ หรือการตาย
- ห้ามมีเรื่องน่ากลัวหรือเรื่องของผู้ใหญ่
- คนและสัตว์ปลอดภัยเสมอ
- หัวข้อที่ดี: ของหาย ของสลับกัน สัตว์เลี้ยงในห้องเรียนหายแล้วหาเจอ

ใช้คำง่ายๆ ประโยคสั้นๆ และร่าเริง
สร้างเบาะแส 4-6 ชิ้น ผู้ต้องสงสัย 3-4 คน และมีผู้ทำเพียงคนเดียวที่ทำไปโดยไม่ได้ตั้งใจ

ตอบเป็น JSON object เดียวเท่านั้น โดยใช้คีย์ภาษาอังกฤษ: case, clues, suspects, solution`

// casePrompt builds the generation conversation for params.
func casePrompt(p CaseParams) []models.Message {
	lang := normalizeLanguage(p.Language)

	var user strings.Builder
	system := caseSystemEN
	if lang == langThai {
		system = caseSystemTH
		fmt.Fprintf(&user, "สร้างคดีนักสืบระดับความยาก %s", p.Difficulty)
		if p.Theme != "" && p.Theme != "random" {
			fmt.Fprintf(&user, " ในธีม %s", p.Theme)
		}
		if p.Location != "" {
			fmt.Fprintf(&user, " ที่เกิดขึ้นใน %s", p.Location)
		}
		if p.Era != "" {
			fmt.Fprintf(&user, " ในยุค %s", p.Era)
		}
	} else {
		fmt.Fprintf(&user, "Create a %s detective case", p.Difficulty)
		if p.Theme != "" && p.Theme != "random" {
			fmt.Fprintf(&user, " with a %s theme", p.Theme)
		}
		if p.Location != "" {
			fmt.Fprintf(&user, " set in %s", p.Location)
		}
		if p.Era != "" {
			fmt.Fprintf(&user, " during the %s era", p.Era)
		}
	}
	if s := strings.TrimSpace(p.CustomScenario); s != "" {
		user.WriteString(".\n\n")
		user.WriteString(s)
	}

	return []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user.String()},
	}
}

const clueSystemEN = `You are a friendly detective buddy helping a seven year old understand a clue.
Use easy words and short sentences. Keep it fun.

Tell us what the clue means, how it connects to the suspects, and what to check next.

Reply with one JSON object:
{
  "summary": "what this clue tells us",
  "connections": [{"suspect": "suspect name", "connectionType": "how they are linked", "description": "why"}],
  "nextSteps": ["something to check next"]
}`

const clueSystemTH = `คุณเป็นเพื่อนนักสืบที่ช่วยเด็ก 7 ขวบเข้าใจเบาะแส ใช้คำง่ายๆ และสนุก
ตอบเป็น JSON object เดียวที่มีคีย์ summary, connections (suspect, connectionType, description) และ nextSteps`

func cluePrompt(r ClueRequest) []models.Message {
	lang := normalizeLanguage(r.Language)

	var b strings.Builder
	if lang == langThai {
		fmt.Fprintf(&b, "ข้อมูลคดี:\nชื่อคดี: %s\nสรุป: %s\nสถานที่: %s\n\n", r.Case.Title, r.Case.Summary, r.Case.Location)
		fmt.Fprintf(&b, "เบาะแสที่ต้องวิเคราะห์:\nชื่อ: %s\nรายละเอียด: %s\nพบที่: %s\n\n", r.Clue.Title, r.Clue.Description, r.Clue.Location)
		b.WriteString("ผู้ต้องสงสัย:\n")
		writeSuspects(&b, r.Suspects)
		writeOtherClues(&b, "เบาะแสอื่นที่พบแล้ว:\n", r.Discovered, r.Clue.ID)
		b.WriteString("\nช่วยวิเคราะห์เบาะแสนี้หน่อย")
		return []models.Message{
			{Role: models.RoleSystem, Content: clueSystemTH},
			{Role: models.RoleUser, Content: b.String()},
		}
	}

	fmt.Fprintf(&b, "Case:\nTitle: %s\nSummary: %s\nLocation: %s\n\n", r.Case.Title, r.Case.Summary, r.Case.Location)
	fmt.Fprintf(&b, "Clue to look at:\nTitle: %s\nDescription: %s\nFound at: %s\n\n", r.Clue.Title, r.Clue.Description, r.Clue.Location)
	b.WriteString("Suspects:\n")
	writeSuspects(&b, r.Suspects)
	writeOtherClues(&b, "Other clues already found:\n", r.Discovered, r.Clue.ID)
	b.WriteString("\nPlease explain this clue and link it to the suspects.")
	return []models.Message{
		{Role: models.RoleSystem, Content: clueSystemEN},
		{Role: models.RoleUser, Content: b.String()},
	}
}

const suspectSystemEN = `You help a seven year old solve a friendly mystery by looking at one suspect.
Use easy words and short sentences.

Reply with one JSON object:
{
  "trustworthiness": 0-100,
  "inconsistencies": ["things in their story that do not match"],
  "connections": [{"clue": "clue title", "connectionType": "how they are linked", "description": "why"}],
  "suggestedQuestions": ["a kind question to ask them next"]
}`

const suspectSystemTH = `คุณช่วยเด็ก 7 ขวบไขปริศนาโดยดูผู้ต้องสงสัยหนึ่งคน ใช้คำง่ายๆ
ตอบเป็น JSON object เดียวที่มีคีย์ trustworthiness (0-100), inconsistencies, connections (clue, connectionType, description) และ suggestedQuestions`

func suspectPrompt(r SuspectRequest) []models.Message {
	lang := normalizeLanguage(r.Language)

	var b strings.Builder
	system := suspectSystemEN
	if lang == langThai {
		system = suspectSystemTH
		fmt.Fprintf(&b, "ข้อมูลคดี:\nชื่อคดี: %s\nสรุป: %s\n\n", r.Case.Title, r.Case.Summary)
		fmt.Fprintf(&b, "ผู้ต้องสงสัย:\nชื่อ: %s\nรายละเอียด: %s\nประวัติ: %s\nคำแก้ตัว: %s\n\n", r.Suspect.Name, r.Suspect.Description, r.Suspect.Background, r.Suspect.Alibi)
		b.WriteString("เบาะแส:\n")
	} else {
		fmt.Fprintf(&b, "Case:\nTitle: %s\nSummary: %s\n\n", r.Case.Title, r.Case.Summary)
		fmt.Fprintf(&b, "Suspect to look at:\nName: %s\nDescription: %s\nBackground: %s\nAlibi: %s\n\n", r.Suspect.Name, r.Suspect.Description, r.Suspect.Background, r.Suspect.Alibi)
		b.WriteString("Clues found so far:\n")
	}
	for _, c := range r.Clues {
		fmt.Fprintf(&b, "- %s: %s\n", c.Title, c.Description)
	}

	if r.Interview != nil {
		var asked []models.InterviewQuestion
		for _, q := range r.Interview.Questions {
			if q.Asked {
				asked = append(asked, q)
			}
		}
		if len(asked) > 0 {
			b.WriteString("\nInterview notes:\n")
			for _, q := range asked {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n", q.Question, q.Answer)
			}
		}
	}

	if lang == langThai {
		b.WriteString("\nช่วยวิเคราะห์ผู้ต้องสงสัยคนนี้หน่อย")
	} else {
		b.WriteString("\nPlease look closely at this suspect.")
	}
	return []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: b.String()},
	}
}

// interviewPrompt casts the model as the suspect and replays earlier
// questions as alternating user and assistant turns.
func interviewPrompt(r InterviewRequest) []models.Message {
	lang := normalizeLanguage(r.Language)

	var system string
	if lang == langThai {
		role := "- คุณไม่ได้ทำเรื่องนี้"
		if r.Suspect.IsGuilty {
			role = "- คุณเป็นคนทำจริง แต่ไม่ได้ตั้งใจทำผิด"
		}
		system = fmt.Sprintf("คุณคือ %s ในเรื่อง \"%s\"\n\nข้อมูลของคุณ:\n- รายละเอียด: %s\n- ประวัติ: %s\n- เรื่องเล่าของคุณ: %s\n%s\n\nตอบด้วยคำง่ายๆ ที่เด็ก 7 ขวบเข้าใจ ตอบสั้นๆ 2-3 ประโยค",
			r.Suspect.Name, r.Case.Title, r.Suspect.Description, r.Suspect.Background, r.Suspect.Alibi, role)
	} else {
		role := "- You did not do it."
		if r.Suspect.IsGuilty {
			role = "- You did do it, but you never meant to cause trouble."
		}
		system = fmt.Sprintf("You are %s in the mystery %q.\n\nAbout you:\n- Description: %s\n- Background: %s\n- Your story: %s\n%s\n\nAnswer with words a seven year old understands. Use two or three short sentences.",
			r.Suspect.Name, r.Case.Title, r.Suspect.Description, r.Suspect.Background, r.Suspect.Alibi, role)
	}

	messages := make([]models.Message, 0, 2+2*len(r.History))
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	for _, prev := range r.History {
		if strings.TrimSpace(prev.Question) == "" || strings.TrimSpace(prev.Answer) == "" {
			continue
		}
		messages = append(messages,
			models.Message{Role: models.RoleUser, Content: prev.Question},
			models.Message{Role: models.RoleAssistant, Content: prev.Answer},
		)
	}
	messages = append(messages, models.Message{Role: models.RoleUser, Content: r.Question})
	return messages
}

const solutionSystemEN = `You are a kind but careful detective checking a child's answer to a mystery.
Decide whether the accused suspect is the real culprit, whether the chosen evidence supports the reasoning, and whether the story makes sense.
Use easy words and short sentences.

Reply with one JSON object:
{"solved": true, "narrative": "two to four short sentences explaining the verdict"}`

const solutionSystemTH = `คุณเป็นนักสืบใจดีที่ตรวจคำตอบของเด็ก ใช้คำง่ายๆ
ตอบเป็น JSON object เดียวที่มีคีย์ solved และ narrative`

func solutionPrompt(r SolveRequest, accused, guilty models.Suspect) []models.Message {
	lang := normalizeLanguage(r.Language)

	var evidence []string
	for _, id := range r.EvidenceIDs {
		for _, c := range r.Clues {
			if c.ID == id {
				evidence = append(evidence, c.Title)
				break
			}
		}
	}

	var b strings.Builder
	system := solutionSystemEN
	if lang == langThai {
		system = solutionSystemTH
		fmt.Fprintf(&b, "ข้อมูลคดี:\nชื่อคดี: %s\nรายละเอียด: %s\n\nผู้ต้องสงสัย:\n", r.Case.Title, r.Case.Description)
		writeSuspects(&b, r.Suspects)
		b.WriteString("\nเบาะแส:\n")
		writeOtherClues(&b, "", r.Clues, "")
		fmt.Fprintf(&b, "\nคำตอบของเด็ก:\nผู้ต้องสงสัย: %s\nหลักฐาน: %s\nเหตุผล: %s\n\nผู้ทำจริง: %s\n\nช่วยประเมินคำตอบนี้",
			accused.Name, strings.Join(evidence, ", "), r.Reasoning, guilty.Name)
	} else {
		fmt.Fprintf(&b, "Case:\nTitle: %s\nDescription: %s\n\nSuspects:\n", r.Case.Title, r.Case.Description)
		writeSuspects(&b, r.Suspects)
		b.WriteString("\nClues:\n")
		writeOtherClues(&b, "", r.Clues, "")
		fmt.Fprintf(&b, "\nThe child's answer:\nAccused: %s\nEvidence: %s\nReasoning: %s\n\nReal culprit: %s\n\nPlease check this answer.",
			accused.Name, strings.Join(evidence, ", "), r.Reasoning, guilty.Name)
	}

	return []models.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: b.String()},
	}
}

func writeSuspects(b *strings.Builder, suspects []models.Suspect) {
	for _, s := range suspects {
		fmt.Fprintf(b, "- %s: %s\n", s.Name, s.Description)
	}
}

func writeOtherClues(b *strings.Builder, heading string, clues []models.Clue, skipID string) {
	wrote := false
	for _, c := range clues {
		if skipID != "" && c.ID == skipID {
			continue
		}
		if !wrote && heading != "" {
			b.WriteString("\n")
			b.WriteString(heading)
		}
		wrote = true
		fmt.Fprintf(b, "- %s: %s\n", c.Title, c.Description)
	}
}
