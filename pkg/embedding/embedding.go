// Package embedding turns text into vectors for the feedback index. The
// primary implementation talks to an OpenAI-compatible embeddings endpoint;
// a deterministic hash embedder serves as the no-credentials fallback.
package embedding

import "context"

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension this embedder produces.
	Dimension() int
}
