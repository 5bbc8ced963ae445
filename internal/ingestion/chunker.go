package ingestion

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 150
	DefaultOverlapRatio = 0.2

	boundaryWindow   = 100
	minBoundaryStart = 50
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

type Chunk struct {
	Index     int
	Text      string
	WordCount int
}

// ChunkText splits text into overlapping word windows. A window that does not
// reach the end of the text is cut back to the last sentence boundary found in
// its final 100 characters, provided the boundary sits past the middle of that tail.
func ChunkText(text string, chunkSize int, overlapRatio float64) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	words := strings.Fields(text)
	total := len(words)
	if total <= chunkSize {
		return []Chunk{{Index: 0, Text: strings.TrimSpace(text), WordCount: total}}
	}

	overlap := int(math.Floor(float64(chunkSize) * overlapRatio))
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}

	var chunks []Chunk
	start := 0
	for start < total {
		end := start + chunkSize
		if end > total {
			end = total
		}

		chunkText := strings.Join(words[start:end], " ")
		if end < total {
			chunkText = trimToSentence(chunkText)
		}
		chunkText = strings.TrimSpace(chunkText)

		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      chunkText,
			WordCount: len(strings.Fields(chunkText)),
		})

		if end >= total {
			break
		}
		start = end - overlap
	}

	return chunks
}

func trimToSentence(s string) string {
	runes := []rune(s)
	tailStart := len(runes) - boundaryWindow
	if tailStart < 0 {
		tailStart = 0
	}
	tail := string(runes[tailStart:])

	locs := sentenceEnd.FindAllStringIndex(tail, -1)
	if len(locs) == 0 {
		return s
	}
	last := locs[len(locs)-1]
	if utf8.RuneCountInString(tail[:last[0]]) <= minBoundaryStart {
		return s
	}

	cut := tailStart + utf8.RuneCountInString(tail[:last[1]])
	return string(runes[:cut])
}
