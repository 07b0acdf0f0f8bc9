package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VectorMatch is one retrieved document chunk.
type VectorMatch struct {
	ID         string
	Score      float64
	Text       string
	MetadataID string
}

// VectorStore retrieves document chunks by similarity. Queries are scoped
// to a namespace (one per owning user) and filtered to an allow-list of
// document metadata ids.
type VectorStore interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int, metadataIDs []string) ([]VectorMatch, error)
}

// PineconeStore talks to a Pinecone index over its REST API.
type PineconeStore struct {
	httpClient *http.Client
	apiKey     string
	indexHost  string
}

func NewPineconeStore(apiKey, indexHost string) *PineconeStore {
	return &PineconeStore{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		apiKey:     apiKey,
		indexHost:  indexHost,
	}
}

type pineconeQueryRequest struct {
	Namespace       string                 `json:"namespace"`
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	IncludeMetadata bool                   `json:"includeMetadata"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []struct {
		ID       string            `json:"id"`
		Score    float64           `json:"score"`
		Metadata map[string]string `json:"metadata"`
	} `json:"matches"`
}

func (s *PineconeStore) Query(ctx context.Context, namespace string, vector []float32, topK int, metadataIDs []string) ([]VectorMatch, error) {
	reqBody := pineconeQueryRequest{
		Namespace:       namespace,
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	}
	if len(metadataIDs) > 0 {
		reqBody.Filter = map[string]interface{}{
			"metadataId": map[string]interface{}{"$in": metadataIDs},
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.indexHost+"/query", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("pinecone query failed: status %d: %s", resp.StatusCode, body)
	}

	var queryResp pineconeQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("pinecone query: decoding response: %w", err)
	}

	matches := make([]VectorMatch, 0, len(queryResp.Matches))
	for _, m := range queryResp.Matches {
		matches = append(matches, VectorMatch{
			ID:         m.ID,
			Score:      m.Score,
			Text:       m.Metadata["text"],
			MetadataID: m.Metadata["metadataId"],
		})
	}
	return matches, nil
}
