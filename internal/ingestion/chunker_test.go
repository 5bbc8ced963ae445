package ingestion

import (
	"fmt"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func numberedWords(n int, mark func(i int) string) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%03d", i)
		if mark != nil {
			words[i] += mark(i)
		}
	}
	return strings.Join(words, " ")
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Equal(t, 0, len(ChunkText("   \n\t", 150, 0.2)))
}

func TestChunkTextShortIsSingleChunk(t *testing.T) {
	text := "  Talks in Vienna resumed on Monday.  Delegates met for hours. "
	chunks := ChunkText(text, 150, 0.2)

	assert.Equal(t, 1, len(chunks))
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, strings.TrimSpace(text), chunks[0].Text)
	assert.Equal(t, 10, chunks[0].WordCount)
}

func TestChunkTextExactlyChunkSize(t *testing.T) {
	chunks := ChunkText(numberedWords(150, nil), 150, 0.2)
	assert.Equal(t, 1, len(chunks))
	assert.Equal(t, 150, chunks[0].WordCount)
}

func TestChunkTextDenseIndicesAndOverlap(t *testing.T) {
	chunks := ChunkText(numberedWords(400, nil), 150, 0.2)

	// starts at 0, 120, 240, 360
	assert.Equal(t, 4, len(chunks))
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}

	for i := 0; i+1 < len(chunks); i++ {
		prev := strings.Fields(chunks[i].Text)
		next := strings.Fields(chunks[i+1].Text)
		assert.Equal(t, prev[len(prev)-30:], next[:30])
	}

	last := chunks[len(chunks)-1]
	assert.Equal(t, 40, last.WordCount)
	assert.Equal(t, true, strings.HasSuffix(last.Text, "w399"))
}

func TestChunkTextTrimsToSentenceBoundary(t *testing.T) {
	text := numberedWords(200, func(i int) string {
		if i == 145 {
			return "."
		}
		return ""
	})

	chunks := ChunkText(text, 150, 0.2)

	assert.Equal(t, 146, chunks[0].WordCount)
	assert.Equal(t, true, strings.HasSuffix(chunks[0].Text, "w145."))
	assert.Equal(t, true, strings.HasPrefix(chunks[1].Text, "w120"))
}

func TestChunkTextKeepsWindowWhenBoundaryTooEarly(t *testing.T) {
	text := numberedWords(200, func(i int) string {
		if i == 135 {
			return "!"
		}
		return ""
	})

	chunks := ChunkText(text, 150, 0.2)

	assert.Equal(t, 150, chunks[0].WordCount)
	assert.Equal(t, true, strings.HasSuffix(chunks[0].Text, "w149"))
}

func TestChunkTextZeroOverlap(t *testing.T) {
	chunks := ChunkText(numberedWords(300, nil), 100, 0)

	assert.Equal(t, 3, len(chunks))
	assert.Equal(t, true, strings.HasPrefix(chunks[1].Text, "w100"))
	assert.Equal(t, true, strings.HasPrefix(chunks[2].Text, "w200"))
}
