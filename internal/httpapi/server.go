package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradelab/internal/engine"
	"tradelab/internal/metrics"
	"tradelab/internal/risk"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// Server serves the runs API.
type Server struct {
	runs    store.RunStore
	candles store.CandleStore
	runner  *engine.Runner
	base    engine.RunSpec
	log     *zap.Logger
}

// NewServer creates a Server. runner executes POST /api/runs and should be
// built with engine.WithRunStore(runs) so submitted runs are persisted. base
// supplies fees, slippage, risk policy and capital for requests that omit
// them; its Account is ignored.
func NewServer(runs store.RunStore, candles store.CandleStore, runner *engine.Runner, base engine.RunSpec, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	base.Account = ""
	return &Server{
		runs:    runs,
		candles: candles,
		runner:  runner,
		base:    base,
		log:     logger.With(zap.String("component", "httpapi")),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/symbols", s.handleSymbols)
	mux.Handle("GET /metrics", metrics.Handler())
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit %q: want a positive integer", raw))
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]RunSummaryJSON, len(runs))
	for i, run := range runs {
		out[i] = summaryJSON(run)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.runs.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.log.Error("getting run", zap.String("id", r.PathValue("id")), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runJSON(rec))
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	spec, err := s.spec(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	metrics.RunsInFlight.Inc()
	start := time.Now()
	rec, err := s.runner.Run(r.Context(), spec)
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.RunsInFlight.Dec()

	if err != nil {
		metrics.RunsTotal.WithLabelValues(metrics.StatusFailed).Inc()
		s.writeError(w, statusFor(err), err)
		return
	}
	status := metrics.StatusOK
	if rec.Result.Halted {
		status = metrics.StatusHalted
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()

	s.log.Info("run created",
		zap.String("id", rec.ID),
		zap.String("strategy", rec.Strategy),
		zap.Strings("symbols", rec.Symbols),
	)
	s.writeJSON(w, http.StatusCreated, runJSON(rec))
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	syms, err := s.candles.ListSymbols(r.Context())
	if err != nil {
		s.log.Error("listing symbols", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if syms == nil {
		syms = []string{}
	}
	s.writeJSON(w, http.StatusOK, syms)
}

// spec merges req over the server defaults.
func (s *Server) spec(req RunRequest) (engine.RunSpec, error) {
	spec := s.base
	if req.Strategy != "" {
		spec.Strategy = req.Strategy
		spec.Params = nil
	}
	if len(req.Params) > 0 {
		merged := make(strategy.Params, len(spec.Params)+len(req.Params))
		for k, v := range spec.Params {
			merged[k] = v
		}
		for k, v := range req.Params {
			merged[k] = v
		}
		spec.Params = merged
	}
	if len(req.Symbols) > 0 {
		spec.Symbols = upper(req.Symbols)
	}
	if len(req.Auxiliary) > 0 {
		spec.Auxiliary = upper(req.Auxiliary)
	}
	if req.InitialCapital > 0 {
		spec.InitialCapital = req.InitialCapital
	}
	if req.NoRisk {
		spec.Risk = nil
	}
	if len(spec.Symbols) == 0 {
		return engine.RunSpec{}, errors.New("no symbols")
	}

	if req.Start == "" {
		return engine.RunSpec{}, errors.New("start is required")
	}
	start, err := time.Parse(time.DateOnly, req.Start)
	if err != nil {
		return engine.RunSpec{}, fmt.Errorf("start: %w", err)
	}
	end := time.Now().UTC()
	if req.End != "" {
		d, err := time.Parse(time.DateOnly, req.End)
		if err != nil {
			return engine.RunSpec{}, fmt.Errorf("end: %w", err)
		}
		end = d.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		return engine.RunSpec{}, fmt.Errorf("end %s before start %s", req.End, req.Start)
	}
	spec.Start, spec.End = start, end
	return spec, nil
}

func upper(syms []string) []string {
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, strategy.ErrUnknownStrategy),
		errors.Is(err, strategy.ErrInvalidParams),
		errors.Is(err, risk.ErrInvalidConfig),
		errors.Is(err, engine.ErrEmptySeries):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoData):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
