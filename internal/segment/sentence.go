// Package segment implements the Segment Processor: per-room patch
// dedup/merge, continuation-overlap repair, sentence segmentation, and
// final debounce ahead of translation and broadcast.
package segment

import "strings"

// terminalPunct are the sentence-boundary markers recognized by Split.
const terminalPunct = ".?!"

// Split breaks text into sentences on terminal punctuation followed by
// whitespace or end-of-text, returning the rune length of each sentence in
// order. A trailing fragment with no terminal punctuation is its own
// sentence. Lengths sum to the rune length of text.
// Complexity: O(n) where n is the rune length of text
func Split(text string) []int {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var lens []int
	start := 0
	i := 0
	for i < len(runes) {
		if strings.ContainsRune(terminalPunct, runes[i]) {
			j := i + 1
			for j < len(runes) && strings.ContainsRune(terminalPunct, runes[j]) {
				j++
			}
			if j == len(runes) || isSentenceBreakSpace(runes[j]) {
				lens = append(lens, j-start)
				start = j
				i = j
				continue
			}
			i = j
			continue
		}
		i++
	}

	if start < len(runes) {
		lens = append(lens, len(runes)-start)
	}

	return lens
}

func isSentenceBreakSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Count returns the number of complete sentences (terminal-punctuation
// terminated) in text, checked against Config.MinSentencesForTTS before a
// hard segment is enqueued for TTS.
func Count(text string) int {
	lens := Split(text)
	if len(lens) == 0 {
		return 0
	}
	runes := []rune(text)
	complete := 0
	offset := 0
	for _, l := range lens {
		end := offset + l
		if end > 0 && strings.ContainsRune(terminalPunct, runes[end-1]) {
			complete++
		}
		offset = end
	}
	return complete
}
