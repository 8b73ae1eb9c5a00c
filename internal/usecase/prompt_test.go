package usecase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/port"
)

func TestComposeAnswerPrompt(t *testing.T) {
	chunks := []domain.ScoredChunk{
		{Chunk: domain.Chunk{ID: "c2", Text: "Second best passage."}, Score: 0.9},
		{Chunk: domain.Chunk{ID: "c1", Text: "Third best passage."}, Score: 0.4},
	}
	history := []domain.Turn{
		{Index: 0, Question: "first question", Answer: "first answer"},
		{Index: 1, Question: "second question", Answer: "second answer"},
	}

	p, err := composeAnswerPrompt("what now?", chunks, history)
	require.NoError(t, err)

	assert.Equal(t, port.PromptAnswer, p.Kind)
	assert.Contains(t, p.System, domain.NoAnswer)
	assert.Equal(t, []string{"Second best passage.", "Third best passage."}, p.Passages)

	order := []string{"[1] Second best passage.", "[2] Third best passage.", "Human: first question", "Human: second question", "Question: what now?"}
	last := -1
	for _, s := range order {
		i := strings.Index(p.User, s)
		require.GreaterOrEqual(t, i, 0, "missing %q in:\n%s", s, p.User)
		assert.Greater(t, i, last, "%q out of order", s)
		last = i
	}
	assert.True(t, strings.HasSuffix(p.User, "Question: what now?"))

	again, err := composeAnswerPrompt("what now?", chunks, history)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestComposeAnswerPrompt_NoHistory(t *testing.T) {
	p, err := composeAnswerPrompt("q?", nil, nil)
	require.NoError(t, err)
	assert.NotContains(t, p.User, "Chat History")
	assert.Contains(t, p.User, "(no relevant passages)")
}

func TestComposeCondensePrompt(t *testing.T) {
	history := []domain.Turn{{Question: "Is there a warranty?", Answer: "Yes."}}

	p, err := composeCondensePrompt("How long?", history)
	require.NoError(t, err)
	assert.Equal(t, port.PromptCondense, p.Kind)
	assert.Equal(t, []string{"Is there a warranty?"}, p.Passages)
	assert.Contains(t, p.User, "Follow Up Input: How long?")
	assert.True(t, strings.HasSuffix(p.User, "Standalone question:"))
}
