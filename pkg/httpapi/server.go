// Package httpapi is the wire surface over the query orchestrator: plain
// net/http handlers registered on a ServeMux, mirroring the teacher's
// health-server shape but fronting process_query instead of cluster state.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/metrics"
	"github.com/cuemby/kitbash/pkg/orchestrator"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
)

const maxQueryLen = 2000
const maxBatchSize = 100

// Server exposes the orchestrator's process_query over HTTP, plus health
// and facts-lookup endpoints.
type Server struct {
	logger zerolog.Logger

	orch      *orchestrator.Orchestrator
	facts     FactsSearcher
	startedAt time.Time
	version   string

	mux *http.ServeMux
}

// FactsSearcher backs GET /api/facts: a cross-cartridge keyword search.
type FactsSearcher interface {
	SearchFacts(query string, limit int) []FactResult
}

// FactResult is one match returned by FactsSearcher.
type FactResult struct {
	Text       string
	Confidence float64
	Source     string
}

// New builds the ServeMux with every route registered.
func New(orch *orchestrator.Orchestrator, facts FactsSearcher, version string) *Server {
	s := &Server{
		logger:    log.WithComponent("httpapi"),
		orch:      orch,
		facts:     facts,
		startedAt: time.Now(),
		version:   version,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/api/query", s.handleQuery)
	s.mux.HandleFunc("/api/batch_query", s.handleBatchQuery)
	s.mux.HandleFunc("/api/facts", s.handleFacts)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", metrics.ReadyHandler())
	s.mux.HandleFunc("/live", metrics.LivenessHandler())
	s.mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("/v1/models", s.handleModels)
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the ServeMux for embedding in an *http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts a server with the teacher's timeout discipline.
func (s *Server) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type queryRequest struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

type layerResultJSON struct {
	EngineName string  `json:"engine_name"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Passed     bool    `json:"passed"`
	LatencyMS  float64 `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

type queryResponse struct {
	QueryID         string            `json:"query_id"`
	Answer          string            `json:"answer"`
	Confidence      float64           `json:"confidence"`
	EngineName      string            `json:"engine_name"`
	TriageReasoning string            `json:"triage_reasoning,omitempty"`
	TotalLatencyMS  float64           `json:"total_latency_ms"`
	LayerResults    []layerResultJSON `json:"layer_results"`
	ErrorState      string            `json:"error_state,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Query == "" || len(req.Query) > maxQueryLen {
		writeError(w, http.StatusBadRequest, "query must be non-empty and at most 2000 characters")
		return
	}

	timer := metrics.NewTimer()
	result := s.orch.ProcessQuery(r.Context(), req.Query, req.Context)
	timer.ObserveDurationVec(metrics.QueryLatency, result.EngineName)
	metrics.QueriesTotal.WithLabelValues(result.EngineName).Inc()

	writeJSON(w, http.StatusOK, toQueryResponse(result))
}

type batchQueryRequest struct {
	Queries []string `json:"queries"`
}

type batchQueryResponse struct {
	Results   []queryResponse `json:"results"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
}

func (s *Server) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Queries) == 0 || len(req.Queries) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "queries must contain between 1 and 100 entries")
		return
	}

	resp := batchQueryResponse{Results: make([]queryResponse, 0, len(req.Queries))}
	for _, q := range req.Queries {
		if q == "" || len(q) > maxQueryLen {
			resp.Results = append(resp.Results, queryResponse{Answer: "I don't know.", EngineName: "NONE", ErrorState: "invalid_input"})
			continue
		}
		result := s.orch.ProcessQuery(r.Context(), q, nil)
		resp.Results = append(resp.Results, toQueryResponse(result))
		if result.ErrorState == "" {
			resp.Succeeded++
		}
	}
	resp.Total = len(req.Queries)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	query := r.URL.Query().Get("query")
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil && n >= 1 && n <= 20 {
			limit = n
		}
	}
	verbose := r.URL.Query().Get("verbose") == "true"

	var matches []FactResult
	if s.facts != nil {
		matches = s.facts.SearchFacts(query, limit)
	}

	if verbose {
		type detailed struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
			Source     string  `json:"source,omitempty"`
		}
		detailedFacts := make([]detailed, 0, len(matches))
		for _, m := range matches {
			detailedFacts = append(detailedFacts, detailed{Text: m.Text, Confidence: m.Confidence, Source: m.Source})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"query": query, "facts_detailed": detailedFacts, "verbose": true, "limit": limit,
		})
		return
	}

	compact := make([]string, 0, len(matches))
	for _, m := range matches {
		compact = append(compact, m.Text)
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "facts": compact, "limit": limit})
}

type healthResponse struct {
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	EnginesAvailable int     `json:"engines_available"`
	CartridgesLoaded int     `json:"cartridges_loaded"`
	GrainCount       int     `json:"grain_count"`
}

// Stats is supplied by the caller at New time if it wants /health to report
// live engine/cartridge/grain counts instead of zeroes.
type Stats interface {
	EnginesAvailable() int
	CartridgesLoaded() int
	GrainCount() int
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if stats, ok := any(s.facts).(Stats); ok && stats != nil {
		resp.EnginesAvailable = stats.EnginesAvailable()
		resp.CartridgesLoaded = stats.CartridgesLoaded()
		resp.GrainCount = stats.GrainCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func toQueryResponse(r types.QueryResult) queryResponse {
	layers := make([]layerResultJSON, 0, len(r.LayerResults))
	for _, l := range r.LayerResults {
		layers = append(layers, layerResultJSON{
			EngineName: l.EngineName,
			Confidence: l.Confidence,
			Threshold:  l.Threshold,
			Passed:     l.Passed,
			LatencyMS:  l.LatencyMS,
			Error:      l.Error,
		})
	}
	return queryResponse{
		QueryID:         r.QueryID,
		Answer:          r.Answer,
		Confidence:      r.Confidence,
		EngineName:      r.EngineName,
		TriageReasoning: r.TriageReasoning,
		TotalLatencyMS:  r.TotalLatencyMS,
		LayerResults:    layers,
		ErrorState:      r.ErrorState,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parsePositiveInt(s string) (int, error) {
	return strconv.Atoi(s)
}
