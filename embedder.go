package main

import (
	"context"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/genai"
)

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenAIEmbedder generates embeddings with the Gemini API
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for the genai embedder")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, embedConfig())
	if err != nil {
		return nil, &BackendError{Backend: "genai", Transient: true, Err: err}
	}
	if len(result.Embeddings) == 0 {
		return nil, &BackendError{Backend: "genai", Err: errors.New("no embeddings returned")}
	}
	return result.Embeddings[0].Values, nil
}

func embedConfig() *genai.EmbedContentConfig {
	return &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
}

// EmbeddingScorer scores by cosine similarity of embeddings. Vectors are cached
// by text, so the query is embedded once per process.
type EmbeddingScorer struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]
}

func NewEmbeddingScorer(embedder Embedder, cacheSize int) (*EmbeddingScorer, error) {
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, err
	}
	return &EmbeddingScorer{embedder: embedder, cache: cache}, nil
}

func (s *EmbeddingScorer) Similarity(ctx context.Context, a, b string) (float64, error) {
	va, err := s.vector(ctx, a)
	if err != nil {
		return 0, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return 0, err
	}
	return cosine(va, vb)
}

func (s *EmbeddingScorer) vector(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.cache.Get(text); ok {
		return v, nil
	}
	v, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Add(text, v)
	return v, nil
}

// cosine maps similarity into [0,1]; negative similarity counts as unrelated
func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0, nil
	}
	if sim > 1 {
		return 1, nil
	}
	return sim, nil
}
