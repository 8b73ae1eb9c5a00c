// Package porttest holds behaviour suites shared by every port implementation.
package porttest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/port"
)

// RunGatewayTests checks the Gateway contract against a fresh store from newGateway.
func RunGatewayTests(t *testing.T, newGateway func(t *testing.T) port.Gateway) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	doc := func(id string, offset time.Duration) domain.Document {
		return domain.Document{
			ID:          id,
			Filename:    id + ".txt",
			ContentType: "text/plain",
			Text:        "alpha beta gamma",
			Fingerprint: "fp",
			CreatedAt:   t0.Add(offset),
		}
	}
	chunks := func(docID string, n int) []domain.Chunk {
		out := make([]domain.Chunk, n)
		for i := range out {
			out[i] = domain.Chunk{
				ID:      docID + "-c" + string(rune('0'+i)),
				DocID:   docID,
				Ordinal: i,
				Start:   i * 5,
				End:     i*5 + 10,
				Text:    "chunk text",
				Vector:  []float32{float32(i), 0.5, -1},
			}
		}
		return out
	}

	t.Run("document round trip", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		require.NoError(t, g.SaveDocument(ctx, doc("d1", 0), chunks("d1", 3)))

		got, err := g.GetDocument(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "d1.txt", got.Filename)
		assert.Equal(t, "text/plain", got.ContentType)
		assert.Equal(t, "alpha beta gamma", got.Text)
		assert.Equal(t, "fp", got.Fingerprint)
		assert.Equal(t, 3, got.ChunkCount)
		assert.True(t, t0.Equal(got.CreatedAt))

		loaded, err := g.LoadChunks(ctx, "d1")
		require.NoError(t, err)
		require.Len(t, loaded, 3)
		for i, ch := range loaded {
			assert.Equal(t, i, ch.Ordinal)
			assert.Equal(t, "d1", ch.DocID)
			assert.Equal(t, []float32{float32(i), 0.5, -1}, ch.Vector)
			assert.Equal(t, i*5, ch.Start)
			assert.Equal(t, i*5+10, ch.End)
		}
	})

	t.Run("save replaces chunk set", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		require.NoError(t, g.SaveDocument(ctx, doc("d1", 0), chunks("d1", 3)))
		require.NoError(t, g.SaveDocument(ctx, doc("d1", 0), chunks("d1", 1)))

		loaded, err := g.LoadChunks(ctx, "d1")
		require.NoError(t, err)
		assert.Len(t, loaded, 1)

		got, err := g.GetDocument(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.ChunkCount)
	})

	t.Run("zero chunks", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		require.NoError(t, g.SaveDocument(ctx, doc("d1", 0), nil))
		loaded, err := g.LoadChunks(ctx, "d1")
		require.NoError(t, err)
		assert.Empty(t, loaded)
	})

	t.Run("missing records", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		_, err := g.GetDocument(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
		_, err = g.LoadChunks(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
		assert.ErrorIs(t, g.DeleteDocument(ctx, "nope"), domain.ErrDocumentNotFound)
		_, err = g.GetSession(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		turns, err := g.LoadTurns(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("list documents ordered by creation", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		require.NoError(t, g.SaveDocument(ctx, doc("late", time.Hour), nil))
		require.NoError(t, g.SaveDocument(ctx, doc("early", 0), nil))

		docs, err := g.ListDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "early", docs[0].ID)
		assert.Equal(t, "late", docs[1].ID)
	})

	t.Run("sessions and turns", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)
		require.NoError(t, g.SaveDocument(ctx, doc("d1", 0), chunks("d1", 1)))

		sess := domain.Session{ID: "s1", DocumentID: "d1", CreatedAt: t0, LastActive: t0}
		require.NoError(t, g.SaveSession(ctx, sess))

		for i := 0; i < 3; i++ {
			require.NoError(t, g.SaveTurn(ctx, domain.Turn{
				SessionID:      "s1",
				Index:          i,
				Question:       "q" + string(rune('0'+i)),
				Answer:         "a" + string(rune('0'+i)),
				SourceChunkIDs: []string{"d1-c0"},
				CreatedAt:      t0.Add(time.Duration(i+1) * time.Minute),
			}))
		}

		turns, err := g.LoadTurns(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, turns, 3)
		for i, turn := range turns {
			assert.Equal(t, i, turn.Index)
			assert.Equal(t, []string{"d1-c0"}, turn.SourceChunkIDs)
		}
		assert.Equal(t, "q2", turns[2].Question)

		got, err := g.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "d1", got.DocumentID)
		assert.True(t, t0.Add(3*time.Minute).Equal(got.LastActive), "SaveTurn should bump LastActive")

		sessions, err := g.ListSessions(ctx, "d1")
		require.NoError(t, err)
		assert.Len(t, sessions, 1)

		require.NoError(t, g.DeleteTurns(ctx, "s1"))
		turns, err = g.LoadTurns(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, turns)
		_, err = g.GetSession(ctx, "s1")
		assert.NoError(t, err, "clearing turns keeps the session")
	})

	t.Run("turn requires session", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		err := g.SaveTurn(ctx, domain.Turn{SessionID: "ghost", Index: 0, Question: "q", Answer: "a", CreatedAt: t0})
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("session requires document", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)

		err := g.SaveSession(ctx, domain.Session{ID: "s1", DocumentID: "ghost", CreatedAt: t0})
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	})

	t.Run("delete cascades", func(t *testing.T) {
		ctx := context.Background()
		g := newGateway(t)
		require.NoError(t, g.SaveDocument(ctx, doc("d1", 0), chunks("d1", 2)))
		require.NoError(t, g.SaveDocument(ctx, doc("d2", time.Minute), chunks("d2", 2)))
		require.NoError(t, g.SaveSession(ctx, domain.Session{ID: "s1", DocumentID: "d1", CreatedAt: t0}))
		require.NoError(t, g.SaveSession(ctx, domain.Session{ID: "s2", DocumentID: "d2", CreatedAt: t0}))
		require.NoError(t, g.SaveTurn(ctx, domain.Turn{SessionID: "s1", Index: 0, Question: "q", Answer: "a", CreatedAt: t0}))

		require.NoError(t, g.DeleteDocument(ctx, "d1"))

		_, err := g.GetDocument(ctx, "d1")
		assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
		_, err = g.GetSession(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		turns, err := g.LoadTurns(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, turns)

		other, err := g.LoadChunks(ctx, "d2")
		require.NoError(t, err)
		assert.Len(t, other, 2)
		_, err = g.GetSession(ctx, "s2")
		assert.NoError(t, err)
	})
}
