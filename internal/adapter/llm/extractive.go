package llm

import (
	"context"
	"strings"
	"unicode"

	"docqa/internal/adapter/analyzer"
	"docqa/internal/domain"
	"docqa/internal/port"
)

var _ port.Generator = (*ExtractiveGenerator)(nil)

// ExtractiveGenerator answers offline by quoting the retrieved sentence that
// shares the most stemmed terms with the question. Earlier passages win
// ties, so the answer follows retrieval rank.
type ExtractiveGenerator struct {
	tokenizer port.Tokenizer
}

func NewExtractiveGenerator() *ExtractiveGenerator {
	return &ExtractiveGenerator{tokenizer: analyzer.NewTokenizer(true)}
}

func (g *ExtractiveGenerator) Generate(ctx context.Context, prompt port.Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if prompt.Kind == port.PromptCondense {
		return condense(prompt), nil
	}

	want := make(map[string]struct{})
	for _, tok := range g.tokenizer.Tokenize(prompt.Question) {
		want[tok] = struct{}{}
	}

	best, bestScore := "", 0
	for _, passage := range prompt.Passages {
		for _, sentence := range splitSentences(passage) {
			score := 0
			seen := make(map[string]struct{})
			for _, tok := range g.tokenizer.Tokenize(sentence) {
				if _, ok := want[tok]; !ok {
					continue
				}
				if _, dup := seen[tok]; dup {
					continue
				}
				seen[tok] = struct{}{}
				score++
			}
			if score > bestScore {
				best, bestScore = sentence, score
			}
		}
	}

	if bestScore == 0 {
		return domain.NoAnswer, nil
	}
	return best, nil
}

// condense folds the previous question into the follow-up so pronouns like
// "it" still retrieve the passages the conversation was about.
func condense(prompt port.Prompt) string {
	if len(prompt.Passages) == 0 {
		return prompt.Question
	}
	return prompt.Passages[len(prompt.Passages)-1] + " " + prompt.Question
}

func (g *ExtractiveGenerator) ModelName() string {
	return "extractive"
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		end := r == '\n' ||
			((r == '.' || r == '?' || r == '!') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])))
		if end {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
