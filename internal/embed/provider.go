// Package embed provides the 768-dimensional text-embedding capability
// with a local-model path and remote fallbacks. All providers return
// unit-norm vectors.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/config"
)

// Dim is the fixed embedding dimensionality across the knowledge base.
const Dim = 768

// Common errors.
var (
	ErrUnavailable = errors.New("embed: provider unavailable")
	ErrBadVector   = errors.New("embed: unexpected vector shape")
)

// Provider computes a 768-dim unit-norm embedding for a text.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Normalize scales v to unit L2 norm in place and returns it.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// checkDim validates the provider output before it reaches the store.
func checkDim(v []float32) ([]float32, error) {
	if len(v) != Dim {
		return nil, fmt.Errorf("%w: got %d dims, want %d", ErrBadVector, len(v), Dim)
	}
	return Normalize(v), nil
}

// Fallback tries each provider in order, moving on when one fails.
// The local model comes first; remote paths are appended when enabled.
type Fallback struct {
	chain []Provider
	log   zerolog.Logger
}

// NewFallback builds the provider chain from configuration. Returns an
// error when no path is configured at all.
func NewFallback(cfg *config.Config, log zerolog.Logger) (*Fallback, error) {
	f := &Fallback{log: log.With().Str("component", "embed").Logger()}

	if cfg.LLM.EmbeddingURL != "" {
		f.chain = append(f.chain, NewLocal(cfg.LLM.EmbeddingURL))
	}
	if cfg.Enrichment.UseGeminiEmbeddings && cfg.LLM.GeminiKey != "" {
		f.chain = append(f.chain, NewGemini(cfg.LLM.GeminiKey))
	}
	if cfg.Enrichment.UseOpenAIEmbeddings && cfg.LLM.OpenAIKey != "" {
		f.chain = append(f.chain, NewOpenAI(cfg.LLM.OpenAIKey))
	}
	if len(f.chain) == 0 {
		return nil, fmt.Errorf("embed: no embedding provider configured")
	}
	return f, nil
}

func (f *Fallback) Name() string { return "fallback" }

// Embed walks the chain until a provider answers.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, p := range f.chain {
		vec, err := p.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		f.log.Debug().Err(err).Str("provider", p.Name()).Msg("embedding provider failed, trying next")
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
