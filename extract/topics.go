package extract

import (
	"regexp"
	"strings"
)

// maxTopics caps the advisory tags per record.
const maxTopics = 5

// topicKeywords is the curated topic dictionary, in tagging priority order.
// Hyphenated entries also match their space-separated spelling.
var topicKeywords = []string{
	"rag",
	"retrieval",
	"embeddings",
	"vector-search",
	"llm",
	"prompting",
	"fine-tuning",
	"agents",
	"evaluation",
	"chunking",
	"inference",
	"deployment",
	"monitoring",
	"scaling",
	"guardrails",
}

var topicPatterns = compileTopicPatterns()

func compileTopicPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(topicKeywords))
	for i, keyword := range topicKeywords {
		escaped := strings.ReplaceAll(regexp.QuoteMeta(keyword), "-", `[-\s]`)
		patterns[i] = regexp.MustCompile(`(?i)\b` + escaped + `\b`)
	}
	return patterns
}

// SuggestTopics scans texts against the curated dictionary and returns up
// to five matching topics in dictionary order. Tags are advisory; they aid
// filtering and never affect record validity.
func SuggestTopics(texts ...string) []string {
	var topics []string
	for i, pattern := range topicPatterns {
		for _, text := range texts {
			if text != "" && pattern.MatchString(text) {
				topics = append(topics, topicKeywords[i])
				break
			}
		}
		if len(topics) == maxTopics {
			break
		}
	}
	return topics
}
