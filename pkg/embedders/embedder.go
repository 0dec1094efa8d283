// Package embedders provides the embeddings client used by vector store
// providers that require query vectors. The embedding service itself is an
// external collaborator; this is only the narrow client.
package embedders

import "context"

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
