package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"docqa/internal/domain"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// separators in order of preference. A break is placed right after the
// separator so it stays with the preceding chunk.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("? "),
	[]rune("! "),
	[]rune(" "),
}

// TextChunker splits text into windows of at most size runes. Consecutive
// chunks share exactly overlap runes, so dropping the first overlap runes of
// every chunk after the first and concatenating gives back the input.
type TextChunker struct {
	size    int
	overlap int
}

func NewTextChunker(size, overlap int) *TextChunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &TextChunker{size: size, overlap: overlap}
}

func (c *TextChunker) Size() int    { return c.size }
func (c *TextChunker) Overlap() int { return c.overlap }

func (c *TextChunker) Chunk(docID string, text string) ([]domain.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	runes := []rune(text)

	var chunks []domain.Chunk
	start := 0
	for {
		end := start + c.size
		last := end >= len(runes)
		if last {
			end = len(runes)
		} else {
			end = c.breakPoint(runes, start, end)
		}

		ordinal := len(chunks)
		chunks = append(chunks, domain.Chunk{
			ID:      generateChunkID(docID, ordinal, start, end),
			DocID:   docID,
			Ordinal: ordinal,
			Start:   start,
			End:     end,
			Text:    string(runes[start:end]),
		})

		if last {
			break
		}
		start = end - c.overlap
	}

	return chunks, nil
}

// breakPoint picks the end of the chunk starting at start, no later than
// limit. The end must leave the chunk longer than the overlap so the next
// start always advances; windows that are too short to contain a natural
// boundary are cut at limit.
func (c *TextChunker) breakPoint(runes []rune, start, limit int) int {
	minEnd := start + max(c.overlap+1, c.size/2)
	for _, sep := range separators {
		for e := limit; e >= minEnd; e-- {
			if endsWith(runes[start:e], sep) {
				return e
			}
		}
	}
	return limit
}

func endsWith(runes, suffix []rune) bool {
	if len(runes) < len(suffix) {
		return false
	}
	off := len(runes) - len(suffix)
	for i, r := range suffix {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}

func generateChunkID(docID string, ordinal, start, end int) string {
	data := fmt.Sprintf("%s:%d:%d-%d", docID, ordinal, start, end)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}

// Reassemble rebuilds the source text from chunks in ordinal order.
func Reassemble(chunks []domain.Chunk) string {
	var b strings.Builder
	covered := 0
	for _, ch := range chunks {
		r := []rune(ch.Text)
		skip := covered - ch.Start
		if skip < 0 || skip > len(r) {
			skip = 0
		}
		b.WriteString(string(r[skip:]))
		covered = ch.End
	}
	return b.String()
}
