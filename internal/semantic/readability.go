package semantic

import (
	"strings"
	"unicode"

	"github.com/foldermcp/foldermcp/internal/text"
)

// Readability computes the Flesch reading-ease score of a chunk, normalized
// from the conventional 0-100 scale into [0,1]. Scores outside the scale
// (possible on degenerate input) are clamped. Empty input scores 0.
func Readability(content string) float64 {
	sentences := text.Sentences(content)
	words := strings.Fields(content)
	if len(sentences) == 0 || len(words) == 0 {
		return 0
	}

	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}

	wordsPerSentence := float64(len(words)) / float64(len(sentences))
	syllablesPerWord := float64(syllables) / float64(len(words))

	score := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord

	normalized := score / 100
	if normalized < 0 {
		return 0
	}
	if normalized > 1 {
		return 1
	}
	return normalized
}

// countSyllables approximates English syllables by counting vowel groups,
// discounting a silent trailing 'e'. Every word counts at least one.
func countSyllables(word string) int {
	w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if w == "" {
		return 1
	}

	count := 0
	prevVowel := false
	for _, r := range w {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}

	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}

	if count < 1 {
		count = 1
	}
	return count
}
