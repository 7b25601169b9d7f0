// Package semantic derives searchable metadata from chunk text: key phrases,
// coarse topics, and a readability score. Extraction is purely lexical and
// deterministic, so the indexing pipeline never needs a model call before
// the embedding stage, and re-running it over unchanged text yields
// identical metadata.
package semantic

import (
	"strings"

	"github.com/foldermcp/foldermcp/internal/text"
)

// Metadata is the semantic extraction result stored with every chunk.
type Metadata struct {
	// KeyPhrases has 1 to MaxPhrases entries. Never empty: a chunk with no
	// extractable phrases gets frequency fallbacks, then a raw-word rescue.
	KeyPhrases []string `json:"key_phrases"`

	// Topics has at most MaxTopics coarse labels from the heading trail and
	// recurring phrase stems.
	Topics []string `json:"topics,omitempty"`

	// Readability is a Flesch reading-ease score normalized to [0,1].
	// Higher is easier to read.
	Readability float64 `json:"readability"`
}

// Config tunes the extractor.
type Config struct {
	// MaxPhrases caps the key-phrase list.
	MaxPhrases int

	// NGramMin and NGramMax bound candidate phrase length in words.
	NGramMin int
	NGramMax int

	// Diversity in [0,1] is the redundancy penalty weight in the MMR
	// selection. 0 ranks purely by score, 1 purely by novelty.
	Diversity float64

	// MaxTopics caps the topic list.
	MaxTopics int
}

// DefaultConfig mirrors the KeyBERT-style parameters the system was tuned
// with: 1-3 word candidates, diversity 0.5, ten phrases, five topics.
func DefaultConfig() Config {
	return Config{
		MaxPhrases: 10,
		NGramMin:   1,
		NGramMax:   3,
		Diversity:  0.5,
		MaxTopics:  5,
	}
}

// Extractor computes Metadata for chunks.
type Extractor struct {
	cfg Config
}

// NewExtractor creates an Extractor. Zero config fields fall back to
// defaults, so NewExtractor(Config{}) behaves like DefaultConfig.
func NewExtractor(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.MaxPhrases <= 0 {
		cfg.MaxPhrases = def.MaxPhrases
	}
	if cfg.NGramMin <= 0 {
		cfg.NGramMin = def.NGramMin
	}
	if cfg.NGramMax < cfg.NGramMin {
		cfg.NGramMax = def.NGramMax
	}
	if cfg.Diversity < 0 || cfg.Diversity > 1 {
		cfg.Diversity = def.Diversity
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = def.MaxTopics
	}
	return &Extractor{cfg: cfg}
}

// Extract computes the metadata for one chunk. headingTrail is the path of
// section headings enclosing the chunk, outermost first; it may be nil.
func (e *Extractor) Extract(content string, headingTrail []string) Metadata {
	phrases := e.keyPhrases(content)
	if len(phrases) == 0 {
		phrases = FallbackPhrases(content, 5)
	}
	if len(phrases) == 0 {
		phrases = rescuePhrase(content)
	}

	return Metadata{
		KeyPhrases:  phrases,
		Topics:      e.topics(headingTrail, phrases),
		Readability: Readability(content),
	}
}

// topics merges the heading trail with recurring phrase stems, innermost
// heading first, capped at MaxTopics.
func (e *Extractor) topics(headingTrail []string, phrases []string) []string {
	seen := make(map[string]bool)
	var topics []string

	add := func(topic string) {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return
		}
		key := strings.ToLower(topic)
		if seen[key] || len(topics) >= e.cfg.MaxTopics {
			return
		}
		seen[key] = true
		topics = append(topics, topic)
	}

	// Innermost headings describe the chunk most precisely.
	for i := len(headingTrail) - 1; i >= 0; i-- {
		add(headingTrail[i])
	}

	// Stems of the top phrases fill the remaining slots.
	for _, phrase := range phrases {
		if len(topics) >= e.cfg.MaxTopics {
			break
		}
		words := strings.Fields(phrase)
		if len(words) == 0 {
			continue
		}
		add(stem(words[len(words)-1]))
	}

	return topics
}

// rescuePhrase guarantees at least one phrase for content the candidate
// pipeline could not handle (all stop words, all punctuation, single
// letters). The first raw word, bounded, is always an honest phrase.
// The return is never empty: the store refuses chunks without phrases.
func rescuePhrase(content string) []string {
	fields := strings.Fields(content)
	for _, field := range fields {
		cleaned := strings.ToLower(strings.Trim(field, ".,;:!?\"'()[]{}<>"))
		if cleaned == "" {
			continue
		}
		return []string{boundPhrase(cleaned)}
	}
	// Every field was pure punctuation. The raw first field is still what
	// the chunk says, so index it as-is.
	if len(fields) > 0 {
		return []string{boundPhrase(strings.ToLower(fields[0]))}
	}
	// Whitespace-only content is filtered before chunking; if a chunk
	// reaches here anyway it gets a fixed marker rather than nothing.
	return []string{"blank"}
}

// boundPhrase caps a rescue phrase at 32 runes.
func boundPhrase(p string) string {
	runes := []rune(p)
	if len(runes) > 32 {
		return string(runes[:32])
	}
	return p
}

// stem strips common English suffixes. It is intentionally crude; topics
// only need "policies" and "policy" to collapse, not linguistic accuracy.
func stem(word string) string {
	w := strings.ToLower(word)
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "es") && len(w) > 4:
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && len(w) > 3:
		return w[:len(w)-1]
	case strings.HasSuffix(w, "ing") && len(w) > 5:
		return w[:len(w)-3]
	case strings.HasSuffix(w, "ed") && len(w) > 4:
		return w[:len(w)-2]
	default:
		return w
	}
}

// queryTokens is a convenience for callers that score phrase overlap.
func queryTokens(phrase string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range text.Tokenize(phrase) {
		set[tok] = struct{}{}
	}
	return set
}
