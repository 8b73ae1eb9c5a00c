package usecase

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"docqa/internal/domain"
	"docqa/internal/port"
)

//go:embed templates/*.tmpl
var promptTemplates embed.FS

var templates = template.Must(
	template.New("prompts").Funcs(templateFuncs()).ParseFS(promptTemplates, "templates/*.tmpl"),
)

type promptData struct {
	NoAnswer string
	Question string
	Chunks   []domain.ScoredChunk
	History  []domain.Turn
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}
}

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// composeAnswerPrompt lays out the system instructions, the retrieved chunks
// in rank order, the active turns oldest first and the question. The output
// depends only on its arguments.
func composeAnswerPrompt(question string, chunks []domain.ScoredChunk, history []domain.Turn) (port.Prompt, error) {
	data := promptData{NoAnswer: domain.NoAnswer, Question: question, Chunks: chunks, History: history}

	system, err := render("system.tmpl", data)
	if err != nil {
		return port.Prompt{}, err
	}
	user, err := render("answer.tmpl", data)
	if err != nil {
		return port.Prompt{}, err
	}

	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = c.Chunk.Text
	}
	return port.Prompt{
		Kind:     port.PromptAnswer,
		System:   system,
		User:     user,
		Question: question,
		Passages: passages,
	}, nil
}

// composeCondensePrompt asks for the follow-up rewritten as a standalone
// question.
func composeCondensePrompt(question string, history []domain.Turn) (port.Prompt, error) {
	user, err := render("condense.tmpl", promptData{Question: question, History: history})
	if err != nil {
		return port.Prompt{}, err
	}
	earlier := make([]string, len(history))
	for i, t := range history {
		earlier[i] = t.Question
	}
	return port.Prompt{
		Kind:     port.PromptCondense,
		User:     user,
		Question: question,
		Passages: earlier,
	}, nil
}
