package search

import (
	"time"

	"github.com/foldermcp/foldermcp/internal/config"
)

// Defaults filled in by withDefaults. They mirror the config defaults so a
// zero Options behaves like a default configuration.
const (
	defaultMaxResults        = 10
	defaultTopK              = 50
	defaultMaxResponseChunks = 50
	defaultMaxResponseTokens = 8000
	defaultPhraseBoost       = 0.05
	defaultPhraseBoostCap    = 0.15
	defaultRecencyWeight     = 0.10
	defaultRecencyHalfLife   = 30 * 24 * time.Hour
	defaultContextWindow     = 1
	defaultTimeout           = 5 * time.Second
)

// Options tunes retrieval and re-ranking for one engine. Zero fields take
// the package defaults.
type Options struct {
	// MaxResults is the result count returned when the request does not ask
	// for a specific count.
	MaxResults int

	// TopK is the ANN candidate count fetched before re-ranking. The
	// substring fallback reuses it as its recent-document scan limit.
	TopK int

	// MaxResponseChunks caps the chunks in one response, context included.
	MaxResponseChunks int

	// MaxResponseTokens caps the aggregate token estimate of one response.
	MaxResponseTokens int

	// MinScore drops semantic matches scoring below it (0 disables).
	MinScore float64

	// PhraseBoost is added to a match's score once per query term found in
	// the chunk's key phrases.
	PhraseBoost float64

	// PhraseBoostCap bounds the total phrase bonus for one chunk.
	PhraseBoostCap float64

	// RecencyWeight scales the document-recency bonus.
	RecencyWeight float64

	// RecencyHalfLife is the exponential-decay half-life of the recency
	// bonus: a document exactly this old earns half the weight.
	RecencyHalfLife time.Duration

	// ReadabilityFloor drops chunks whose readability falls below it
	// (0 disables; readability lives in [0,1]).
	ReadabilityFloor float64

	// ContextWindow is the neighbor count fetched on each side of a hit.
	// Zero means the default of 1; negative disables context entirely.
	ContextWindow int

	// Timeout is the soft deadline per query. On expiry the engine returns
	// whatever it has ranked so far, marked truncated.
	Timeout time.Duration
}

// FromConfig copies the search section of the daemon configuration.
func FromConfig(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		MaxResults:        cfg.Search.MaxResults,
		TopK:              cfg.Search.TopK,
		MaxResponseChunks: cfg.Search.MaxResponseChunks,
		MaxResponseTokens: cfg.Search.MaxResponseTokens,
		MinScore:          cfg.Search.MinScore,
		PhraseBoost:       cfg.Search.PhraseBoost,
		PhraseBoostCap:    cfg.Search.PhraseBoostCap,
		RecencyWeight:     cfg.Search.RecencyWeight,
		RecencyHalfLife:   cfg.RecencyHalfLife(),
		ReadabilityFloor:  cfg.Search.ReadabilityFloor,
		Timeout:           cfg.SearchTimeout(),
	}
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = defaultMaxResults
	}
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.MaxResponseChunks <= 0 {
		o.MaxResponseChunks = defaultMaxResponseChunks
	}
	if o.MaxResponseTokens <= 0 {
		o.MaxResponseTokens = defaultMaxResponseTokens
	}
	if o.PhraseBoost <= 0 {
		o.PhraseBoost = defaultPhraseBoost
	}
	if o.PhraseBoostCap <= 0 {
		o.PhraseBoostCap = defaultPhraseBoostCap
	}
	if o.RecencyWeight <= 0 {
		o.RecencyWeight = defaultRecencyWeight
	}
	if o.RecencyHalfLife <= 0 {
		o.RecencyHalfLife = defaultRecencyHalfLife
	}
	switch {
	case o.ContextWindow == 0:
		o.ContextWindow = defaultContextWindow
	case o.ContextWindow < 0:
		o.ContextWindow = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}
