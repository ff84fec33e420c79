package rag

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	sentenceRe   = regexp.MustCompile(`(?s)(.*?[.!?])(?:\s+|$)`)
)

// minChunkWords drops fragments too short to be useful retrieval hits.
const minChunkWords = 5

// CleanText collapses runs of whitespace into single spaces.
func CleanText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// SentenceSplit breaks text into sentences on terminal punctuation.
// Trailing text without terminal punctuation forms a final sentence.
func SentenceSplit(text string) []string {
	text = CleanText(text)
	if text == "" {
		return nil
	}

	var sentences []string
	consumed := 0
	for _, m := range sentenceRe.FindAllStringSubmatchIndex(text, -1) {
		sentence := strings.TrimSpace(text[m[2]:m[3]])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		consumed = m[1]
	}
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// SplitText packs sentences into chunks of at most chunkSize words.
// Chunks shorter than minChunkWords are dropped.
func SplitText(text string, chunkSize int) []string {
	sentences := SentenceSplit(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	words := 0

	flush := func() {
		if words >= minChunkWords {
			chunks = append(chunks, strings.Join(current, " "))
		}
		current = nil
		words = 0
	}

	for _, sentence := range sentences {
		fields := strings.Fields(sentence)
		if len(fields) > chunkSize {
			// Hard-split sentences that exceed the budget on their own.
			flush()
			for start := 0; start < len(fields); start += chunkSize {
				end := start + chunkSize
				if end > len(fields) {
					end = len(fields)
				}
				current = append(current, strings.Join(fields[start:end], " "))
				words = end - start
				flush()
			}
			continue
		}
		if words > 0 && words+len(fields) > chunkSize {
			flush()
		}
		current = append(current, sentence)
		words += len(fields)
	}
	flush()

	return chunks
}
