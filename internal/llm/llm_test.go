package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestExtractJSON(t *testing.T) {
	type answer struct {
		Score   float64 `json:"score"`
		Insight string  `json:"insight"`
	}

	tests := []struct {
		name    string
		text    string
		wantErr bool
		want    answer
	}{
		{
			name: "bare object",
			text: `{"score": 0.8, "insight": "bullish"}`,
			want: answer{Score: 0.8, Insight: "bullish"},
		},
		{
			name: "fenced object",
			text: "```json\n{\"score\": 0.3, \"insight\": \"weak\"}\n```",
			want: answer{Score: 0.3, Insight: "weak"},
		},
		{
			name: "prose around object",
			text: `Here is my analysis: {"score": 0.5, "insight": "neutral"} hope that helps`,
			want: answer{Score: 0.5, Insight: "neutral"},
		},
		{name: "no json", text: "I cannot answer that", wantErr: true},
		{name: "malformed", text: `{"score": not valid}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got answer
			err := ExtractJSON(tt.text, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrBadResponse) {
					t.Errorf("expected ErrBadResponse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer key123" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "{\"score\": 0.7}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("key123", WithOpenAIBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Generate(context.Background(), "system", "user", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"score": 0.7}` {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Provider != ProviderOpenAI {
		t.Errorf("provider = %s", resp.Provider)
	}
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimit},
		{"server down", http.StatusInternalServerError, ErrProviderDown},
		{"bad key", http.StatusUnauthorized, ErrNoAPIKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tt.name, tt.status)
			}))
			defer srv.Close()

			p, err := NewOpenAIProvider("k", WithOpenAIBaseURL(srv.URL))
			if err != nil {
				t.Fatal(err)
			}
			_, err = p.Generate(context.Background(), "", "hi", nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenAIRequiresKeyAgainstDefaultEndpoint(t *testing.T) {
	if _, err := NewOpenAIProvider(""); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	// A custom base URL permits keyless local gateways.
	if _, err := NewOpenAIProvider("", WithOpenAIBaseURL("http://localhost:11434/v1")); err != nil {
		t.Errorf("keyless custom endpoint should work: %v", err)
	}
}

// stubProvider records calls for router tests.
type stubProvider struct {
	name string
	text string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, system, user string, opts *Options) (*Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Text: s.text, Provider: s.name}, nil
}

func TestRouterPrimaryDrivesDecisions(t *testing.T) {
	primary := &stubProvider{name: "primary", text: "primary answer"}
	compare := &stubProvider{name: "compare", text: "other answer"}

	r := NewRouter(primary, zerolog.Nop())
	r.compare = []compareTarget{{provider: compare, model: "model-b"}}

	var observed []CompareResult
	done := make(chan struct{})
	r.SetObserver(func(results []CompareResult) {
		observed = results
		close(done)
	})

	resp, err := r.Generate(context.Background(), "s", "u", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text != "primary answer" {
		t.Errorf("router must return the primary's answer, got %q", resp.Text)
	}

	<-done
	if len(observed) != 1 || observed[0].Text != "other answer" {
		t.Errorf("side-channel results wrong: %+v", observed)
	}
}

func TestRouterRecordsCompareFailurePerEntry(t *testing.T) {
	primary := &stubProvider{name: "primary", text: "ok"}
	broken := &stubProvider{name: "broken", err: errors.New("refused")}

	r := NewRouter(primary, zerolog.Nop())
	r.compare = []compareTarget{{provider: broken, model: "m"}}

	done := make(chan struct{})
	var observed []CompareResult
	r.SetObserver(func(results []CompareResult) {
		observed = results
		close(done)
	})

	if _, err := r.Generate(context.Background(), "", "u", nil); err != nil {
		t.Fatalf("compare failure must not affect the primary: %v", err)
	}
	<-done
	if len(observed) != 1 || observed[0].Err == "" {
		t.Errorf("expected per-entry failure record, got %+v", observed)
	}
}
