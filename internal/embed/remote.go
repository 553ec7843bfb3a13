package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ── Gemini embeddings ──

// Gemini calls Google's embedContent API with a fixed 768-dim output.
type Gemini struct {
	apiKey string
	model  string
	client *http.Client
}

// NewGemini creates the Gemini embedding provider.
func NewGemini(apiKey string) *Gemini {
	return &Gemini{
		apiKey: apiKey,
		model:  "text-embedding-004",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *Gemini) Name() string { return "gemini" }

// Embed requests a 768-dim embedding via outputDimensionality.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model":                "models/" + g.model,
		"content":              map[string]any{"parts": []map[string]string{{"text": text}}},
		"outputDimensionality": Dim,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/%s:embedContent?key=%s",
		g.model, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: gemini status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadVector, err)
	}
	return checkDim(parsed.Embedding.Values)
}

// ── OpenAI embeddings ──

// OpenAI calls the embeddings endpoint with dimensions=768.
type OpenAI struct {
	apiKey string
	model  string
	client *http.Client
}

// NewOpenAI creates the OpenAI embedding provider.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		apiKey: apiKey,
		model:  "text-embedding-3-small",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (o *OpenAI) Name() string { return "openai" }

// Embed requests a truncated 768-dim embedding.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model":      o.model,
		"input":      text,
		"dimensions": Dim,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: openai status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadVector, err)
	}
	if len(parsed.Data) == 0 {
		return nil, ErrBadVector
	}
	return checkDim(parsed.Data[0].Embedding)
}
