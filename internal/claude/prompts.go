// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package claude

import (
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"join": strings.Join,
	"oneline": func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	},
}

// analysisPromptTmpl asks for the questions, answers and notes in one chunk
// of a conversation.
var analysisPromptTmpl = template.Must(template.New("analysis").Funcs(funcs).Parse(`You are a knowledge base curator. Read the following conversation excerpt and extract reusable knowledge.

Classify what you find into three kinds:
- questions: requests for information that someone asked
- answers: statements that answer a question, either from this excerpt or from the open questions listed below
- notes: useful facts, decisions or context that are neither questions nor answers

For each entry give:
- ref: a short local label such as "q1" (questions only), used by answers in this excerpt to point at it
- author: the person who wrote it, exactly as shown in the excerpt
- text: the knowledge itself, rewritten as a clear standalone sentence
- timestamp: the message time in RFC 3339 format, or "" if unknown
- topics: one or more short topic names; reuse an existing topic when it fits
- area: a broad functional area such as "Engineering" or "Sales", or ""
- people: other people the entry mentions or concerns
- question_ref: (answers only) the ref of a question in this excerpt that it answers, or ""
- question_id: (answers and notes) the ID of an open question below that it answers, or ""

Respond with a JSON object with "questions", "answers" and "notes" arrays. Do not include any text outside the JSON object.

Example response:
{"questions": [{"ref": "q1", "author": "Alice", "text": "How do we deploy the billing service?", "timestamp": "2024-03-01T10:00:00Z", "topics": ["Deploy"], "area": "Engineering", "people": []}], "answers": [{"author": "Bob", "text": "Billing deploys through the release pipeline from main.", "timestamp": "2024-03-01T10:05:00Z", "topics": ["Deploy"], "area": "Engineering", "people": ["Alice"], "question_ref": "q1", "question_id": ""}], "notes": []}
{{if .Topics}}
Existing topics: {{join .Topics ", "}}
{{- end}}
{{- if .People}}
Known people: {{join .People ", "}}
{{- end}}
{{- if .Open}}

Open questions:
{{- range .Open}}
- {{.ID}} ({{.Author}}): {{oneline .Text}}
{{- end}}
{{- end}}
{{- if .Instructions}}

Additional instructions:
{{.Instructions}}
{{- end}}

Conversation excerpt:
{{.Text}}
`))

// mappingPromptTmpl asks which open question each unlinked entry answers.
var mappingPromptTmpl = template.Must(template.New("mapping").Funcs(funcs).Parse(`You are reconciling a knowledge base. Decide which of the open questions below, if any, each entry answers.

Open questions:
{{- range .Open}}
- {{.ID}} ({{.Author}}): {{oneline .Text}}
{{- end}}

Entries:
{{- range .Entries}}
- {{.ID}} ({{.Author}}): {{oneline .Text}}
{{- end}}
{{- if .Instructions}}

Additional instructions:
{{.Instructions}}
{{- end}}

Respond with a JSON object containing a "mappings" array. Each element has "entry_id", "question_id" and "confidence", a float between 0.0 and 1.0. Leave out entries that answer none of the questions. Do not include any text outside the JSON object.

Example response:
{"mappings": [{"entry_id": "A3", "question_id": "Q1", "confidence": 0.85}]}
`))

// aggregationPromptTmpl asks for a narrative about one topic or person.
var aggregationPromptTmpl = template.Must(template.New("aggregation").Funcs(funcs).Parse(`You are writing a knowledge base page about the {{.Kind}} "{{.Name}}". Summarize what the entries below say in a few short paragraphs of Markdown prose. {{- if eq .Kind "person"}} Describe what this person asks about, knows and works on.{{else}} Describe what is known, what is still open and who is involved.{{end}} Refer to entries by their ID in square brackets, for example [Q1]. Do not add a title.
{{- if .Instructions}}

Additional instructions:
{{.Instructions}}
{{- end}}

Entries:
{{- range .Entries}}
- {{.ID}} ({{.Author}}): {{oneline .Text}}
{{- end}}
`))
