// Package vector is a REST client for a Weaviate instance. It manages one
// collection per agent, with caller-supplied vectors (vectorizer "none") and
// an HNSW cosine index.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/convoloop/convoloop/pkg/httpclient"
)

const (
	// maxListLimit caps a single list page. Larger requests are clamped.
	maxListLimit = 10000

	defaultTimeout = 30 * time.Second

	hnswEFConstruction = 128
	hnswMaxConnections = 64

	dimMarker = "vector_dim="
)

// Config holds the coordinates of the Weaviate instance.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to Weaviate over its REST and GraphQL APIs.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *httpclient.Client
	log        *slog.Logger
}

// Object is a stored object with its properties.
type Object struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Result is one nearest-neighbor match.
type Result struct {
	ID         string
	Properties map[string]any
	Distance   float64
	Certainty  float64
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vector store base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(2),
			httpclient.WithBaseDelay(500*time.Millisecond),
		),
		log: slog.Default().With("component", "vector"),
	}, nil
}

// EnsureCollection creates the collection if it does not exist. Idempotent.
// An existing collection with a different vector dimension is a
// DimensionConflictError, never reused.
func (c *Client) EnsureCollection(ctx context.Context, name string, vectorDim int) error {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/schema/"+name, nil)
	if err != nil {
		return err
	}

	if status == http.StatusOK {
		var schema struct {
			Description string `json:"description"`
		}
		if err := json.Unmarshal(body, &schema); err != nil {
			return &StoreError{Message: fmt.Sprintf("failed to decode schema for %s: %v", name, err)}
		}
		existing := parseDimension(schema.Description)
		if existing > 0 && existing != vectorDim {
			return &DimensionConflictError{Collection: name, Existing: existing, Requested: vectorDim}
		}
		return nil
	}
	if status != http.StatusNotFound {
		return &StoreError{StatusCode: status, Message: string(body)}
	}

	c.log.Info("creating collection", "collection", name, "dim", vectorDim)

	schema := map[string]any{
		"class":       name,
		"description": fmt.Sprintf("Feedback collection (%s%d)", dimMarker, vectorDim),
		"properties": []map[string]any{
			{"name": "text", "dataType": []string{"text"}, "description": "Feedback content as JSON"},
			{"name": "tags", "dataType": []string{"text[]"}, "description": "Tags for filtering"},
		},
		"vectorConfig": map[string]any{
			"default": map[string]any{
				"vectorizer":      "none",
				"vectorIndexType": "hnsw",
				"vectorIndexConfig": map[string]any{
					"efConstruction": hnswEFConstruction,
					"maxConnections": hnswMaxConnections,
					"distance":       "cosine",
				},
			},
		},
	}

	body, status, err = c.do(ctx, http.MethodPost, "/v1/schema", schema)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return &StoreError{StatusCode: status, Message: string(body)}
	}
	return nil
}

// Insert upserts an object by id.
func (c *Client) Insert(ctx context.Context, collection, id string, properties map[string]any, vector []float32) error {
	obj := map[string]any{
		"class":      collection,
		"id":         id,
		"properties": properties,
		"vector":     vector,
	}

	body, status, err := c.do(ctx, http.MethodPost, "/v1/objects", obj)
	if err != nil {
		return err
	}
	if status == http.StatusOK || status == http.StatusCreated {
		return nil
	}

	// The id may already exist; replace it in place.
	if status == http.StatusUnprocessableEntity && strings.Contains(string(body), "already exists") {
		body, status, err = c.do(ctx, http.MethodPut, "/v1/objects/"+collection+"/"+id, obj)
		if err != nil {
			return err
		}
		if status == http.StatusOK {
			return nil
		}
	}
	return &StoreError{StatusCode: status, Message: string(body)}
}

// List returns a page of objects. limit is clamped to the store's page cap;
// limit <= 0 requests a full page.
func (c *Client) List(ctx context.Context, collection string, limit, offset int) ([]Object, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	path := fmt.Sprintf("/v1/objects?class=%s&limit=%d&offset=%d", url.QueryEscape(collection), limit, offset)
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StoreError{StatusCode: status, Message: string(body)}
	}

	var parsed struct {
		Objects []Object `json:"objects"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &StoreError{Message: fmt.Sprintf("failed to decode object list: %v", err)}
	}
	return parsed.Objects, nil
}

// DeleteObject removes a single object. A missing object is not an error.
func (c *Client) DeleteObject(ctx context.Context, collection, id string) error {
	body, status, err := c.do(ctx, http.MethodDelete, "/v1/objects/"+collection+"/"+id, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusOK && status != http.StatusNotFound {
		return &StoreError{StatusCode: status, Message: string(body)}
	}
	return nil
}

// DeleteAll removes every object in the collection but keeps the collection.
func (c *Client) DeleteAll(ctx context.Context, collection string) error {
	for {
		objects, err := c.List(ctx, collection, maxListLimit, 0)
		if err != nil {
			return err
		}
		if len(objects) == 0 {
			return nil
		}
		for _, obj := range objects {
			if err := c.DeleteObject(ctx, collection, obj.ID); err != nil {
				return err
			}
		}
		if len(objects) < maxListLimit {
			return nil
		}
	}
}

// DeleteCollection drops the collection entirely. A missing collection is
// not an error.
func (c *Client) DeleteCollection(ctx context.Context, collection string) error {
	body, status, err := c.do(ctx, http.MethodDelete, "/v1/schema/"+collection, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent && status != http.StatusNotFound {
		return &StoreError{StatusCode: status, Message: string(body)}
	}
	return nil
}

// CollectionExists reports whether the collection is present.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/schema/"+collection, nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &StoreError{StatusCode: status, Message: string(body)}
	}
}

// QueryByVector returns up to topK nearest objects. tagFilter is a
// conjunction: every listed tag must be present on a match.
func (c *Client) QueryByVector(ctx context.Context, collection string, vec []float32, topK int, tagFilter []string) ([]Result, error) {
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return nil, &StoreError{Message: fmt.Sprintf("failed to encode query vector: %v", err)}
	}

	args := []string{
		fmt.Sprintf("limit: %d", topK),
		fmt.Sprintf("nearVector: { vector: %s }", vecJSON),
	}
	if where := tagWhereClause(tagFilter); where != "" {
		args = append(args, "where: "+where)
	}

	gql := fmt.Sprintf(`{
  Get {
    %s(%s) {
      text
      tags
      _additional { id distance certainty }
    }
  }
}`, collection, strings.Join(args, ", "))

	body, status, err := c.do(ctx, http.MethodPost, "/v1/graphql", map[string]any{"query": gql})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StoreError{StatusCode: status, Message: string(body)}
	}

	var parsed struct {
		Data struct {
			Get map[string][]map[string]any `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &StoreError{Message: fmt.Sprintf("failed to decode graphql response: %v", err)}
	}
	if len(parsed.Errors) > 0 {
		return nil, &StoreError{Message: parsed.Errors[0].Message}
	}

	objects := parsed.Data.Get[collection]
	results := make([]Result, 0, len(objects))
	for _, obj := range objects {
		r := Result{Properties: map[string]any{}}
		for k, v := range obj {
			if k == "_additional" {
				continue
			}
			r.Properties[k] = v
		}
		if additional, ok := obj["_additional"].(map[string]any); ok {
			r.ID, _ = additional["id"].(string)
			r.Distance, _ = additional["distance"].(float64)
			r.Certainty, _ = additional["certainty"].(float64)
		}
		results = append(results, r)
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, &StoreError{Message: fmt.Sprintf("failed to marshal payload: %v", err)}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, &StoreError{Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &StoreError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &StoreError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	return body, resp.StatusCode, nil
}

// tagWhereClause builds an inline GraphQL where clause requiring every tag.
func tagWhereClause(tags []string) string {
	if len(tags) == 0 {
		return ""
	}

	operands := make([]string, len(tags))
	for i, tag := range tags {
		quoted, _ := json.Marshal(tag)
		operands[i] = fmt.Sprintf(`{ path: ["tags"], operator: Equal, valueText: %s }`, quoted)
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return fmt.Sprintf(`{ operator: And, operands: [%s] }`, strings.Join(operands, ", "))
}

// parseDimension extracts the dimension marker embedded in a collection
// description at creation time. Returns 0 when absent.
func parseDimension(description string) int {
	idx := strings.Index(description, dimMarker)
	if idx < 0 {
		return 0
	}
	rest := description[idx+len(dimMarker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	dim, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0
	}
	return dim
}
