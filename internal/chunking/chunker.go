// Package chunking splits job descriptions into chunks small enough for a
// single extraction call while keeping sentences intact.
package chunking

import "strings"

// DefaultMaxChars is the chunk size ceiling used by the extraction stage.
const DefaultMaxChars = 6000

// SplitSentences splits text on sentence-ending punctuation followed by
// whitespace. The terminator stays attached to its sentence.
func SplitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if isTerminator(runes[i]) {
			// Consume trailing terminators like "?!" or "..." as one unit.
			for i+1 < len(runes) && isTerminator(runes[i+1]) {
				i++
				b.WriteRune(runes[i])
			}
			if i+1 >= len(runes) || isSpace(runes[i+1]) {
				if s := strings.TrimSpace(b.String()); s != "" {
					sentences = append(sentences, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Split packs sentences into chunks of at most maxChars characters. A single
// sentence longer than maxChars becomes its own oversized chunk rather than
// being cut mid-sentence. Text at or under the limit comes back as one chunk.
func Split(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	var b strings.Builder
	for _, sentence := range SplitSentences(text) {
		if b.Len() > 0 && b.Len()+1+len(sentence) > maxChars {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
