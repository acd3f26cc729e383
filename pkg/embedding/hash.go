package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

const hashDimension = 384

// HashEmbedder is a deterministic stand-in used when no embeddings endpoint
// is configured. The same text always maps to the same vector, which keeps
// exact-duplicate retrieval working without any external service.
type HashEmbedder struct{}

func NewHash() *HashEmbedder {
	return &HashEmbedder{}
}

func (h *HashEmbedder) Dimension() int {
	return hashDimension
}

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return hashVector(text), nil
}

func (h *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashVector(text)
	}
	return vectors, nil
}

// hashVector derives a vector from the hex digest of the text. Each
// component reads a 4-hex-digit window of the digest, normalized to
// [-0.5, 0.5]. The digest is walked cyclically until the vector is full.
func hashVector(text string) []float32 {
	digest := sha256.Sum256([]byte(text))
	hexDigest := hex.EncodeToString(digest[:])

	vector := make([]float32, 0, hashDimension)
	for i := 0; len(vector) < hashDimension; i++ {
		start := i % len(hexDigest)
		end := start + 4
		chunk := hexDigest[start:min(end, len(hexDigest))]
		for len(chunk) < 4 {
			chunk += "0"
		}
		val := 0
		for _, c := range chunk {
			val = val*16 + hexVal(byte(c))
		}
		vector = append(vector, float32(val)/65535.0-0.5)
	}
	return vector
}

func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return 0
}
