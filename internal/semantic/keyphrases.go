package semantic

import (
	"sort"
	"strings"

	"github.com/foldermcp/foldermcp/internal/text"
)

// candidate is one scored n-gram.
type candidate struct {
	phrase string
	tokens []string
	score  float64
	first  int // token index of first occurrence, for deterministic ties
}

// keyPhrases runs the full pipeline: candidate n-grams, lexical scoring,
// MMR-style diverse selection.
func (e *Extractor) keyPhrases(content string) []string {
	tokens := text.Tokenize(content)
	if len(tokens) == 0 {
		return nil
	}

	candidates := e.collectCandidates(tokens)
	if len(candidates) == 0 {
		return nil
	}

	return e.selectDiverse(candidates)
}

// collectCandidates enumerates n-grams of the configured lengths, skipping
// ones that start or end on a stop word, and scores them by frequency with
// a length bonus. Longer phrases are rarer per occurrence, so raw frequency
// alone would bury them.
func (e *Extractor) collectCandidates(tokens []string) []candidate {
	type stat struct {
		count int
		first int
	}
	stats := make(map[string]*stat)

	for n := e.cfg.NGramMin; n <= e.cfg.NGramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			gram := tokens[i : i+n]
			if text.IsStopWord(gram[0]) || text.IsStopWord(gram[n-1]) {
				continue
			}
			if allNumeric(gram) {
				continue
			}
			phrase := strings.Join(gram, " ")
			if s, ok := stats[phrase]; ok {
				s.count++
			} else {
				stats[phrase] = &stat{count: 1, first: i}
			}
		}
	}

	candidates := make([]candidate, 0, len(stats))
	for phrase, s := range stats {
		grams := strings.Split(phrase, " ")
		n := len(grams)

		// Multi-word phrases need at least one repeat or real length to
		// outrank their own constituent unigrams.
		lengthBonus := 1.0 + 0.5*float64(n-1)

		candidates = append(candidates, candidate{
			phrase: phrase,
			tokens: grams,
			score:  float64(s.count) * lengthBonus,
			first:  s.first,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].first < candidates[j].first
	})

	// Scoring beyond a generous pool is wasted work for MMR.
	const maxPool = 64
	if len(candidates) > maxPool {
		candidates = candidates[:maxPool]
	}

	return candidates
}

// selectDiverse applies maximal-marginal-relevance selection: each round
// picks the candidate with the best score minus a redundancy penalty
// against everything already selected.
func (e *Extractor) selectDiverse(candidates []candidate) []string {
	if len(candidates) == 0 {
		return nil
	}

	maxScore := candidates[0].score

	var selected []candidate
	remaining := make([]candidate, len(candidates))
	copy(remaining, candidates)

	for len(selected) < e.cfg.MaxPhrases && len(remaining) > 0 {
		bestIdx := -1
		bestValue := -1.0

		for i, c := range remaining {
			relevance := c.score / maxScore
			redundancy := 0.0
			for _, s := range selected {
				if sim := tokenOverlap(c.tokens, s.tokens); sim > redundancy {
					redundancy = sim
				}
			}
			value := (1-e.cfg.Diversity)*relevance - e.cfg.Diversity*redundancy
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}

		// Everything left is pure redundancy; stop rather than pad.
		if bestValue <= 0 && len(selected) > 0 {
			break
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	phrases := make([]string, len(selected))
	for i, c := range selected {
		phrases[i] = c.phrase
	}
	return phrases
}

// FallbackPhrases extracts 1 to max phrases by plain frequency: top
// non-stopword unigrams and adjacent bigrams. It backs the main pipeline
// when scoring produces nothing and is also the path for degraded
// extraction modes.
func FallbackPhrases(content string, max int) []string {
	tokens := text.Tokenize(content)
	if len(tokens) == 0 {
		return nil
	}
	if max <= 0 {
		max = 5
	}

	type stat struct {
		count int
		first int
	}
	freq := make(map[string]*stat)

	record := func(phrase string, pos int) {
		if s, ok := freq[phrase]; ok {
			s.count++
		} else {
			freq[phrase] = &stat{count: 1, first: pos}
		}
	}

	for i, tok := range tokens {
		if !text.IsStopWord(tok) {
			record(tok, i)
		}
		if i+1 < len(tokens) && !text.IsStopWord(tok) && !text.IsStopWord(tokens[i+1]) {
			record(tok+" "+tokens[i+1], i)
		}
	}

	phrases := make([]string, 0, len(freq))
	for p := range freq {
		phrases = append(phrases, p)
	}
	sort.Slice(phrases, func(i, j int) bool {
		a, b := freq[phrases[i]], freq[phrases[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.first < b.first
	})

	if len(phrases) > max {
		phrases = phrases[:max]
	}
	return phrases
}

// tokenOverlap is the Jaccard similarity of two token lists.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	union := len(setA)
	inter := 0
	seenB := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seenB[t]; dup {
			continue
		}
		seenB[t] = struct{}{}
		if _, ok := setA[t]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// allNumeric reports whether every token in the gram is digits only.
func allNumeric(gram []string) bool {
	for _, tok := range gram {
		if strings.IndexFunc(tok, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
			return false
		}
	}
	return true
}
