package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/config"
)

// CompareResult is one side-channel answer from a comparison model.
// Failures are recorded per entry, never propagated to the caller.
type CompareResult struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Text     string `json:"text,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Router sends every request to the primary provider and, when
// comparison models are configured, fans the same prompt out to them
// concurrently. The primary's answer drives decisions; comparison
// answers are handed to an observer for offline analysis.
type Router struct {
	primary  Provider
	compare  []compareTarget
	observer func([]CompareResult)
	log      zerolog.Logger
}

type compareTarget struct {
	provider Provider
	model    string
}

// NewRouter creates a router around the primary provider.
func NewRouter(primary Provider, log zerolog.Logger) *Router {
	return &Router{
		primary: primary,
		log:     log.With().Str("component", "llm").Logger(),
	}
}

// NewRouterFromConfig builds the primary provider and comparison chain
// from configuration. Returns nil when LLM use is disabled.
func NewRouterFromConfig(cfg *config.Config, log zerolog.Logger) (*Router, error) {
	if !cfg.Enrichment.UseLLM {
		return nil, nil
	}

	timeout := time.Duration(cfg.LLM.TimeoutSec) * time.Second
	primary, err := NewOpenAIProvider(cfg.LLM.APIKey,
		WithOpenAIBaseURL(cfg.LLM.BaseURL),
		WithOpenAIModel(cfg.LLM.Model),
		WithOpenAITimeout(timeout),
	)
	if err != nil {
		return nil, err
	}

	r := NewRouter(primary, log)
	for _, pair := range cfg.LLM.CompareList() {
		providerName, model := pair[0], pair[1]
		var p Provider
		switch providerName {
		case ProviderGemini:
			p, err = NewGeminiProvider(cfg.LLM.GeminiKey, WithGeminiModel(model))
		default:
			p, err = NewOpenAIProvider(cfg.LLM.OpenAIKey,
				WithOpenAIBaseURL(cfg.LLM.BaseURL), WithOpenAIModel(model))
		}
		if err != nil {
			r.log.Warn().Err(err).Str("provider", providerName).Str("model", model).
				Msg("compare model skipped")
			continue
		}
		r.compare = append(r.compare, compareTarget{provider: p, model: model})
	}
	return r, nil
}

// SetObserver registers the sink for side-channel comparison results.
func (r *Router) SetObserver(fn func([]CompareResult)) {
	r.observer = fn
}

func (r *Router) Name() string { return r.primary.Name() }

// Generate runs the primary request, dispatching the same prompt to
// every comparison model in the background.
func (r *Router) Generate(ctx context.Context, system, user string, opts *Options) (*Response, error) {
	if len(r.compare) > 0 {
		go r.dispatchCompare(system, user, opts)
	}
	return r.primary.Generate(ctx, system, user, opts)
}

func (r *Router) dispatchCompare(system, user string, opts *Options) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	results := make([]CompareResult, len(r.compare))
	var wg sync.WaitGroup
	for i, target := range r.compare {
		wg.Add(1)
		go func(i int, t compareTarget) {
			defer wg.Done()
			o := Options{Model: t.model}
			if opts != nil {
				o.Temperature = opts.Temperature
				o.MaxTokens = opts.MaxTokens
			}
			res := CompareResult{Provider: t.provider.Name(), Model: t.model}
			resp, err := t.provider.Generate(ctx, system, user, &o)
			if err != nil {
				res.Err = err.Error()
			} else {
				res.Text = resp.Text
			}
			results[i] = res
		}(i, target)
	}
	wg.Wait()

	if r.observer != nil {
		r.observer(results)
	}
}
