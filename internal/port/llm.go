package port

import "context"

// Generator produces an answer from a composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Prompt is the rendered input to a Generator. Passages carry the retrieved
// chunk texts in rank order so offline generators can work without parsing
// User.
type Prompt struct {
	Kind     PromptKind
	System   string
	User     string
	Question string
	Passages []string // for PromptCondense, the earlier questions oldest first
}

type PromptKind int

const (
	// PromptAnswer asks for an answer grounded in Passages.
	PromptAnswer PromptKind = iota
	// PromptCondense asks to rewrite a follow-up into a standalone question.
	PromptCondense
)
