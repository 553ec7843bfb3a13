// Package api provides the HTTP façade: a narrow read/command surface
// over the portfolio, quotes, knowledge base, analyst and executor,
// plus a websocket stream of executed trades.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/avkuzmin/sibyl/internal/analyst"
	"github.com/avkuzmin/sibyl/internal/config"
	"github.com/avkuzmin/sibyl/internal/exec"
	"github.com/avkuzmin/sibyl/internal/kb"
	"github.com/avkuzmin/sibyl/internal/metrics"
	"github.com/avkuzmin/sibyl/internal/store"
	"github.com/avkuzmin/sibyl/pkg/models"
)

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	store    *store.Store
	kb       *kb.Service
	analyst  *analyst.Analyst
	executor *exec.Executor
	wsHub    *WSHub
	log      zerolog.Logger
}

// NewServer creates a configured API server with all routes mounted.
func NewServer(cfg *config.Config, s *store.Store, kbSvc *kb.Service, an *analyst.Analyst, ex *exec.Executor, log zerolog.Logger) *Server {
	srv := &Server{
		cfg:      cfg,
		store:    s,
		kb:       kbSvc,
		analyst:  an,
		executor: ex,
		wsHub:    NewWSHub(log),
		log:      log.With().Str("component", "api").Logger(),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Hub exposes the websocket hub so the executor can push trades.
func (s *Server) Hub() *WSHub { return s.wsHub }

// Router returns the chi router, mainly for tests.
func (s *Server) Router() chi.Router { return s.router }

// ListenAndServe starts the server and blocks until SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.wsHub.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	s.log.Info().Msg("shutting down API server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.API.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/quotes/{ticker}", s.handleQuotes)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/execute", s.handleExecute)
		r.Post("/news", s.handleNews)
		r.Get("/trades", s.handleTrades)
	})

	return r
}

// ── Handlers ──

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.Portfolio.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	view := models.PortfolioView{Positions: []models.PositionView{}}
	for _, p := range positions {
		if p.Ticker == models.CashTicker {
			view.Cash = p.Quantity
			continue
		}
		if p.Quantity <= 0 {
			continue
		}
		pv := models.PositionView{
			Ticker:        p.Ticker,
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
		}
		if latest, err := s.store.Quotes.Latest(r.Context(), p.Ticker); err == nil {
			pv.LastPrice = latest.Close
			pv.UnrealizedPnL = (latest.Close - p.AvgEntryPrice) * p.Quantity
		}
		view.Positions = append(view.Positions, pv)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(chi.URLParam(r, "ticker"))
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 3650 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	bars, err := s.store.Quotes.History(r.Context(), ticker, time.Time{}, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bars)
}

type analyzeRequest struct {
	Ticker string `json:"ticker"`
	UseLLM bool   `json:"use_llm"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}

	result, err := s.analyst.Analyze(r.Context(), strings.ToUpper(req.Ticker), req.UseLLM)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.wsHub.Broadcast(WSMessage{Type: "analysis", Data: result})
	writeJSON(w, http.StatusOK, result)
}

type executeRequest struct {
	Tickers []string `json:"tickers"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tickers) == 0 {
		writeError(w, http.StatusBadRequest, "tickers is required")
		return
	}

	trades := []models.Trade{}
	for _, ticker := range req.Tickers {
		ticker = strings.ToUpper(ticker)
		analysis, err := s.analyst.Analyze(r.Context(), ticker, s.cfg.Enrichment.UseLLM)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("analysis failed during execute")
			continue
		}
		trade, err := s.executor.ExecuteDecision(r.Context(), analysis)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("execution failed")
			continue
		}
		if trade != nil {
			trades = append(trades, *trade)
		}
	}

	exits, err := s.executor.ApplyExitRules(r.Context())
	if err == nil {
		trades = append(trades, exits...)
	}
	writeJSON(w, http.StatusOK, trades)
}

type newsRequest struct {
	Ticker         string   `json:"ticker"`
	Source         string   `json:"source"`
	Content        string   `json:"content"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	var req newsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SentimentScore != nil && (*req.SentimentScore < 0 || *req.SentimentScore > 1) {
		writeError(w, http.StatusBadRequest, "sentiment_score must be within [0,1]")
		return
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}
	id, _, err := s.kb.Insert(r.Context(), models.KBEntry{
		Ts:             time.Now().UTC(),
		Ticker:         strings.ToUpper(req.Ticker),
		Source:         source,
		Content:        req.Content,
		EventType:      models.EventManual,
		SentimentScore: req.SentimentScore,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	ticker := strings.ToUpper(r.URL.Query().Get("ticker"))

	trades, err := s.store.Trades.Recent(r.Context(), ticker, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// ── JSON helpers ──

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "api: encode response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
