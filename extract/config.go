package extract

// Config tunes a category extractor.
type Config struct {
	// MaxExtractionsPerChunk caps how many records one extraction call
	// keeps; the rest of the model's output is discarded.
	MaxExtractionsPerChunk int `yaml:"max_extractions_per_chunk" json:"max_extractions_per_chunk"`

	// MinConfidence drops records the model scored below this threshold.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`

	// AutoTagTopics tags records with curated topic keywords found in the
	// content. Tags are advisory and never affect validity.
	AutoTagTopics bool `yaml:"auto_tag_topics" json:"auto_tag_topics"`

	// IncludeContext stamps hierarchy provenance (context level and id)
	// on produced records.
	IncludeContext bool `yaml:"include_context" json:"include_context"`
}

// DefaultConfig returns the standard extractor settings.
func DefaultConfig() Config {
	return Config{
		MaxExtractionsPerChunk: 5,
		MinConfidence:          0.5,
		AutoTagTopics:          true,
		IncludeContext:         true,
	}
}
