package server

import (
	"strings"
	"unicode"
)

// ChunkMessage splits text into pieces of at most limit characters, breaking
// on whitespace so no word is ever cut in half. A single word longer than the
// limit is the one case that must be hard-split.
func ChunkMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = 2000
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		if cut <= 0 {
			cut = limit
		}

		chunk := strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		for cut < len(runes) && unicode.IsSpace(runes[cut]) {
			cut++
		}
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
