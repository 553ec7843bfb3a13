package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/config"
)

// testServer builds a server with nil services; only routes that fail
// validation before touching a service are exercised here. The
// data-backed paths are not covered by these tests.
func testServer() *Server {
	cfg := &config.Config{}
	cfg.API.CORSOrigins = []string{"*"}
	return NewServer(cfg, nil, nil, nil, nil, zerolog.Nop())
}

func TestHealthz(t *testing.T) {
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAnalyzeValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"not json", `not json`},
		{"missing ticker", `{"use_llm": false}`},
	}
	srv := testServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestExecuteValidation(t *testing.T) {
	srv := testServer()
	req := httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(`{"tickers": []}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestNewsValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty content", `{"ticker": "MSFT", "source": "manual", "content": "  "}`},
		{"score above one", `{"ticker": "MSFT", "content": "x", "sentiment_score": 1.5}`},
		{"negative score", `{"ticker": "MSFT", "content": "x", "sentiment_score": -0.1}`},
	}
	srv := testServer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/news", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQuotesValidation(t *testing.T) {
	srv := testServer()
	req := httptest.NewRequest(http.MethodGet, "/api/quotes/MSFT?days=-1", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTradesValidation(t *testing.T) {
	srv := testServer()
	req := httptest.NewRequest(http.MethodGet, "/api/trades?limit=bogus", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
