package hierarchy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/c360studio/knowledgepipe/knowledge"
)

// charsPerToken is the rough character-to-token ratio used when a chunk
// must be cut below its own token count. Matches the upstream chunker's
// estimate.
const charsPerToken = 4

// Strategy selects how Combine behaves when chunks exceed the budget.
type Strategy string

const (
	// StrategyTruncate includes chunks greedily in order while the running
	// total stays within budget.
	StrategyTruncate Strategy = "truncate"

	// StrategyNone includes every chunk regardless of budget.
	StrategyNone Strategy = "none"

	// StrategySummaryIfExceeded is declared for a future summarizer; until
	// one is supplied it behaves exactly like StrategyTruncate.
	StrategySummaryIfExceeded Strategy = "summary_if_exceeded"
)

// Combined is the result of packing chunks into a token budget.
type Combined struct {
	// Content is the combined text, chunks joined by a blank line.
	Content string

	// ChunkIDs lists the contributing chunks in order.
	ChunkIDs []string

	// TotalTokens is the token total of the included content.
	TotalTokens int

	// Truncated reports whether content was cut to fit the budget.
	Truncated bool
}

// Combine packs ordered chunks into maxTokens under the given strategy.
// Chunks are concatenated with a blank-line separator. When the first
// chunk alone exceeds the budget under StrategyTruncate, a proportional
// prefix of its content is included and Truncated is set, with that single
// chunk still reported in ChunkIDs.
//
// An unknown strategy is a programming error and panics.
func Combine(chunks []knowledge.Chunk, maxTokens int, strategy Strategy) *Combined {
	switch strategy {
	case StrategyTruncate, StrategySummaryIfExceeded:
		return combineTruncate(chunks, maxTokens)
	case StrategyNone:
		return combineAll(chunks)
	default:
		panic(fmt.Sprintf("hierarchy: unknown combine strategy %q", strategy))
	}
}

func combineTruncate(chunks []knowledge.Chunk, maxTokens int) *Combined {
	combined := &Combined{}
	var parts []string

	for i, chunk := range chunks {
		tokens := chunk.TokenCount
		if tokens <= 0 {
			tokens = estimateTokens(chunk.Content)
		}

		if i == 0 && tokens > maxTokens {
			// First chunk alone blows the budget: keep a proportional
			// prefix so the extractor still sees the opening content.
			combined.Content = truncateToBudget(chunk.Content, tokens, maxTokens)
			combined.ChunkIDs = []string{chunk.ID}
			combined.TotalTokens = maxTokens
			combined.Truncated = true
			return combined
		}

		if combined.TotalTokens+tokens > maxTokens {
			combined.Truncated = true
			break
		}

		parts = append(parts, chunk.Content)
		combined.ChunkIDs = append(combined.ChunkIDs, chunk.ID)
		combined.TotalTokens += tokens
	}

	combined.Content = strings.Join(parts, "\n\n")
	return combined
}

func combineAll(chunks []knowledge.Chunk) *Combined {
	combined := &Combined{}
	parts := make([]string, 0, len(chunks))

	for _, chunk := range chunks {
		tokens := chunk.TokenCount
		if tokens <= 0 {
			tokens = estimateTokens(chunk.Content)
		}
		parts = append(parts, chunk.Content)
		combined.ChunkIDs = append(combined.ChunkIDs, chunk.ID)
		combined.TotalTokens += tokens
	}

	combined.Content = strings.Join(parts, "\n\n")
	return combined
}

// truncateToBudget cuts content to roughly maxTokens, proportional to the
// chunk's own token count so the estimate tracks the chunker's.
func truncateToBudget(content string, tokens, maxTokens int) string {
	if tokens <= maxTokens {
		return content
	}

	cut := len(content) * maxTokens / tokens
	if cut >= len(content) {
		cut = len(content) - 1
	}
	if cut < 0 {
		cut = 0
	}
	// The proportional cut is a byte index; back it off to a rune
	// boundary so a multi-byte rune is never split.
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// estimateTokens approximates token count from character count.
func estimateTokens(content string) int {
	return (len(content) + charsPerToken - 1) / charsPerToken
}
