// Package embed produces vector embeddings for document and query text.
package embed

import (
	"context"
	"fmt"
)

// Dimensions is the embedding size required by the vector store. Vectors
// of any other length are rejected.
const Dimensions = 768

// Embedder converts text to normalized vectors. Document and query sides
// apply different instruction prefixes so that cosine similarity between
// a query vector and a document vector is meaningful.
type Embedder interface {
	// EmbedDocument embeds text for storage.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds text for searching.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ValidateVector checks that a vector has exactly Dimensions components.
func ValidateVector(vec []float32) error {
	if len(vec) != Dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vec), Dimensions)
	}
	return nil
}
