package chat

import (
	"log/slog"

	"github.com/convoloop/convoloop/pkg/config"
	"github.com/convoloop/convoloop/pkg/embedding"
	"github.com/convoloop/convoloop/pkg/feedback"
	"github.com/convoloop/convoloop/pkg/vector"
)

// BuildFeedback wires a feedback service from the per-request setting.
// Returns nil when no vector store is configured. Without an embedding API
// key the deterministic hash embedder takes over, which keeps the pipeline
// usable in offline setups.
func BuildFeedback(setting *config.Setting) *feedback.Service {
	if !setting.FeedbackEnabled() {
		return nil
	}

	store, err := vector.New(vector.Config{BaseURL: setting.VectorDBURL})
	if err != nil {
		slog.Warn("vector store unavailable, feedback disabled", "url", setting.VectorDBURL, "error", err)
		return nil
	}

	var embedder embedding.Embedder
	if setting.EmbeddingAPIKey != "" {
		embedder = embedding.NewOpenAI(embedding.OpenAIConfig{
			BaseURL:   setting.EmbeddingBaseURL,
			APIKey:    setting.EmbeddingAPIKey,
			Model:     setting.EmbeddingModel,
			Dimension: setting.EmbeddingVectorDim,
		})
	} else {
		embedder = embedding.NewHash()
	}

	return feedback.NewService(store, embedder)
}
