package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/convoloop/convoloop/pkg/embedding"
	"github.com/convoloop/convoloop/pkg/vector"
)

// Store is the slice of the vector client the service needs.
type Store interface {
	EnsureCollection(ctx context.Context, name string, vectorDim int) error
	Insert(ctx context.Context, collection, id string, properties map[string]any, vec []float32) error
	List(ctx context.Context, collection string, limit, offset int) ([]vector.Object, error)
	DeleteAll(ctx context.Context, collection string) error
	DeleteCollection(ctx context.Context, collection string) error
	CollectionExists(ctx context.Context, collection string) (bool, error)
	QueryByVector(ctx context.Context, collection string, vec []float32, topK int, tagFilter []string) ([]vector.Result, error)
}

// Service manages one feedback collection per agent. A nil store disables
// the service: writes fail loudly, retrieval returns empty.
type Service struct {
	store    Store
	embedder embedding.Embedder
	log      *slog.Logger
}

func NewService(store Store, embedder embedding.Embedder) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		log:      slog.Default().With("component", "feedback"),
	}
}

// Enabled reports whether a vector store is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.store != nil
}

// EnsureReady creates the agent's collection if missing.
func (s *Service) EnsureReady(ctx context.Context, agentName string) error {
	if !s.Enabled() {
		return fmt.Errorf("feedback store is not configured")
	}
	return s.store.EnsureCollection(ctx, CollectionName(agentName), s.embedder.Dimension())
}

// Add embeds and upserts the given feedbacks, returning the inserted ids.
// An id is generated fresh for every feedback that does not carry one; ids
// are never reused across inserts.
func (s *Service) Add(ctx context.Context, agentName string, feedbacks []Feedback) ([]string, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("feedback store is not configured")
	}
	if len(feedbacks) == 0 {
		return nil, nil
	}

	if err := s.EnsureReady(ctx, agentName); err != nil {
		return nil, err
	}
	collection := CollectionName(agentName)

	texts := make([]string, len(feedbacks))
	for i := range feedbacks {
		texts[i] = feedbacks[i].CanonicalText()
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed feedbacks: %w", err)
	}

	ids := make([]string, 0, len(feedbacks))
	for i := range feedbacks {
		fb := feedbacks[i]
		if fb.ID == "" {
			fb.ID = uuid.NewString()
		}
		fb.AgentName = agentName

		doc, err := json.Marshal(fb)
		if err != nil {
			return nil, fmt.Errorf("failed to encode feedback: %w", err)
		}
		properties := map[string]any{
			"text": string(doc),
			"tags": fb.Tags(),
		}
		if err := s.store.Insert(ctx, collection, fb.ID, properties, vectors[i]); err != nil {
			return nil, fmt.Errorf("failed to insert feedback: %w", err)
		}
		ids = append(ids, fb.ID)
	}

	s.log.Info("added feedbacks", "agent", agentName, "count", len(ids))
	return ids, nil
}

// List returns a page of stored feedbacks. A missing collection lists as
// empty.
func (s *Service) List(ctx context.Context, agentName string, offset, limit int) ([]Feedback, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("feedback store is not configured")
	}
	exists, err := s.store.CollectionExists(ctx, CollectionName(agentName))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	objects, err := s.store.List(ctx, CollectionName(agentName), limit, offset)
	if err != nil {
		return nil, err
	}

	feedbacks := make([]Feedback, 0, len(objects))
	for _, obj := range objects {
		fb, ok := decodeFeedback(obj.Properties)
		if !ok {
			s.log.Warn("skipping unparseable feedback object", "id", obj.ID)
			continue
		}
		if fb.ID == "" {
			fb.ID = obj.ID
		}
		feedbacks = append(feedbacks, fb)
	}
	return feedbacks, nil
}

// Retrieve embeds the query text and returns the topK nearest feedbacks,
// optionally narrowed by tags. A disabled service or missing collection
// yields an empty result, never an error.
func (s *Service) Retrieve(ctx context.Context, agentName, queryText string, topK int, tags []string) ([]Feedback, error) {
	if !s.Enabled() || queryText == "" || topK <= 0 {
		return nil, nil
	}

	collection := CollectionName(agentName)
	exists, err := s.store.CollectionExists(ctx, collection)
	if err != nil || !exists {
		if err != nil {
			s.log.Warn("feedback retrieval unavailable", "agent", agentName, "error", err)
		}
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		s.log.Warn("failed to embed feedback query", "agent", agentName, "error", err)
		return nil, nil
	}

	results, err := s.store.QueryByVector(ctx, collection, vec, topK, tags)
	if err != nil {
		s.log.Warn("feedback query failed", "agent", agentName, "error", err)
		return nil, nil
	}

	feedbacks := make([]Feedback, 0, len(results))
	for _, r := range results {
		fb, ok := decodeFeedback(r.Properties)
		if !ok {
			continue
		}
		if fb.ID == "" {
			fb.ID = r.ID
		}
		feedbacks = append(feedbacks, fb)
	}
	return feedbacks, nil
}

// Clear removes every feedback but keeps the collection.
func (s *Service) Clear(ctx context.Context, agentName string) error {
	if !s.Enabled() {
		return fmt.Errorf("feedback store is not configured")
	}
	return s.store.DeleteAll(ctx, CollectionName(agentName))
}

// Drop removes the agent's collection entirely.
func (s *Service) Drop(ctx context.Context, agentName string) error {
	if !s.Enabled() {
		return fmt.Errorf("feedback store is not configured")
	}
	return s.store.DeleteCollection(ctx, CollectionName(agentName))
}

func decodeFeedback(properties map[string]any) (Feedback, bool) {
	text, _ := properties["text"].(string)
	if text == "" {
		return Feedback{}, false
	}
	var fb Feedback
	if err := json.Unmarshal([]byte(text), &fb); err != nil {
		return Feedback{}, false
	}
	return fb, true
}
