package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalize(3,4) = %v, want (0.6, 0.8)", v)
	}

	// Zero vector stays untouched instead of dividing by zero.
	z := []float32{0, 0, 0}
	Normalize(z)
	for _, x := range z {
		if x != 0 {
			t.Fatal("zero vector must stay zero")
		}
	}
}

func TestCheckDim(t *testing.T) {
	short := make([]float32, 10)
	if _, err := checkDim(short); !errors.Is(err, ErrBadVector) {
		t.Errorf("expected ErrBadVector for 10 dims, got %v", err)
	}

	full := make([]float32, Dim)
	for i := range full {
		full[i] = 1
	}
	out, err := checkDim(full)
	if err != nil {
		t.Fatal(err)
	}
	var norm float64
	for _, x := range out {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("norm = %.4f, want ≈1", norm)
	}
}

func TestLocalEmbed(t *testing.T) {
	vec := make([]float32, Dim)
	vec[0] = 1

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Text == "" {
			http.Error(w, "empty", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	defer srv.Close()

	p := NewLocal(srv.URL)
	got, err := p.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != Dim {
		t.Fatalf("got %d dims", len(got))
	}
	if got[0] != 1 {
		t.Errorf("unit vector should survive normalization, got %f", got[0])
	}
}

func TestLocalEmbedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewLocal(srv.URL)
	if _, err := p.Embed(context.Background(), "text"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// stubEmbedder is a canned provider for fallback-chain tests.
type stubEmbedder struct {
	name string
	vec  []float32
	err  error
}

func (s stubEmbedder) Name() string { return s.name }
func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vec, s.err
}

func TestFallbackChain(t *testing.T) {
	good := make([]float32, Dim)
	good[0] = 1

	f := &Fallback{
		chain: []Provider{
			stubEmbedder{name: "local", err: errors.New("connection refused")},
			stubEmbedder{name: "remote", vec: good},
		},
		log: zerolog.Nop(),
	}

	got, err := f.Embed(context.Background(), "text")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 {
		t.Error("expected the remote provider's vector")
	}
}

func TestFallbackAllDown(t *testing.T) {
	f := &Fallback{
		chain: []Provider{
			stubEmbedder{name: "a", err: errors.New("down")},
			stubEmbedder{name: "b", err: errors.New("also down")},
		},
		log: zerolog.Nop(),
	}
	if _, err := f.Embed(context.Background(), "text"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
