// Package api provides the HTTP surface of indexsignal.
//
// It exposes on-demand scans, the timeframe ladder, market status,
// Prometheus metrics and a WebSocket stream of signals produced by a
// background watcher during market hours.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/seenimoa/indexsignal/internal/analysis/mtf"
	"github.com/seenimoa/indexsignal/internal/config"
	"github.com/seenimoa/indexsignal/internal/datasource"
	"github.com/seenimoa/indexsignal/internal/engine"
	"github.com/seenimoa/indexsignal/internal/metrics"
	"github.com/seenimoa/indexsignal/pkg/models"
	"github.com/seenimoa/indexsignal/pkg/utils"
)

// Scanner produces signals. *engine.Engine implements it.
type Scanner interface {
	Scan(ctx context.Context, req engine.ScanRequest) (*models.ActionableSignal, error)
	Ladder() []models.Timeframe
}

// Server is the HTTP API server.
type Server struct {
	router   chi.Router
	cfg      *config.Config
	scanner  Scanner
	gatherer prometheus.Gatherer
	wsHub    *WSHub
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest map[string]*models.ActionableSignal
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Gatherer prometheus.Gatherer // nil disables /metrics
	Metrics  *metrics.Metrics
	Now      func() time.Time // defaults to the IST wall clock
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, scanner Scanner, log zerolog.Logger, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = utils.NowIST
	}
	srv := &Server{
		cfg:      cfg,
		scanner:  scanner,
		gatherer: opts.Gatherer,
		log:      log,
		now:      opts.Now,
		latest:   make(map[string]*models.ActionableSignal),
	}
	srv.wsHub = NewWSHub(log, opts.Metrics)
	srv.router = srv.buildRouter()
	return srv
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *WSHub {
	return s.wsHub
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
// The hub and the watcher run for the lifetime of the server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: s.cfg.Engine.ScanTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.wsHub.Run(ctx)
	go s.Watch(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", httpSrv.Addr).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	s.log.Info().Msg("shutting down server")

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if len(s.cfg.Server.CORSOrigins) > 0 {
		origins = s.cfg.Server.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/config", s.handleGetConfig)
		r.Get("/ladder", s.handleLadder)
		r.Get("/signals", s.handleSignals)
		r.Get("/signals/{index}", s.handleLatestSignal)
		r.With(middleware.Timeout(s.cfg.Engine.ScanTimeout+10*time.Second)).
			Get("/scan/{index}", s.handleScan)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

// requestLogger logs one line per request through zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// ── Request / Response types ──

// APIResponse is the standard API response envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusInfo is returned by /api/v1/status.
type StatusInfo struct {
	MarketStatus  string            `json:"market_status"`
	Time          time.Time         `json:"time"`
	Indices       []string          `json:"indices"`
	WatchIndices  []string          `json:"watch_indices"`
	WatchInterval string            `json:"watch_interval"`
	StreamClients int               `json:"stream_clients"`
	LastSignals   map[string]string `json:"last_signals,omitempty"`
}

// LadderInfo is returned by /api/v1/ladder.
type LadderInfo struct {
	At           time.Time  `json:"at"`
	MarketStatus string     `json:"market_status"`
	Timeframes   []LadderTF `json:"timeframes"`
}

// LadderTF describes one rung of the ladder.
type LadderTF struct {
	Timeframe models.Timeframe `json:"timeframe"`
	Bar       string           `json:"bar"`
	Lookback  string           `json:"lookback"`
}

// ── Handlers ──

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status": "ok",
			"time":   s.now().Format(time.RFC3339),
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	info := StatusInfo{
		MarketStatus:  utils.MarketStatusAt(now),
		Time:          now,
		Indices:       utils.SupportedIndices(),
		WatchIndices:  s.cfg.Server.WatchIndices,
		WatchInterval: s.cfg.Server.WatchInterval.String(),
		StreamClients: s.wsHub.ClientCount(),
	}
	s.mu.RLock()
	if len(s.latest) > 0 {
		info.LastSignals = make(map[string]string, len(s.latest))
		for sym, sig := range s.latest {
			info.LastSignals[sym] = fmt.Sprintf("%s @ %s", sig.Action, sig.GeneratedAt.Format(time.RFC3339))
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
}

// handleLadder serves the ladder in force now, or at ?at=YYYY-MM-DDTHH:MM IST.
func (s *Server) handleLadder(w http.ResponseWriter, r *http.Request) {
	at := s.now()
	var ladder []models.Timeframe
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.ParseInLocation("2006-01-02T15:04", v, utils.IST)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid at %q (want YYYY-MM-DDTHH:MM IST)", v))
			return
		}
		at = t
		ladder = mtf.LaddersFrom(s.cfg.MTF).Select(at)
	} else {
		ladder = s.scanner.Ladder()
	}

	info := LadderInfo{At: at, MarketStatus: utils.MarketStatusAt(at)}
	for _, tf := range ladder {
		info.Timeframes = append(info.Timeframes, LadderTF{
			Timeframe: tf,
			Bar:       tf.Duration().String(),
			Lookback:  tf.Lookback().String(),
		})
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
}

// handleScan runs a scan on demand:
// GET /api/v1/scan/{index}?expiry=&min_volume=&min_oi=&max_strike_dist=
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if _, ok := utils.NormalizeIndex(index); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported index %q (supported: %s)",
			index, strings.Join(utils.SupportedIndices(), ", ")))
		return
	}

	req, err := scanRequest(index, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, err := s.scanner.Scan(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		case errors.Is(err, datasource.ErrScanFailed):
			status = http.StatusBadGateway
		}
		s.log.Warn().Err(err).Str("index", index).Msg("scan failed")
		writeError(w, status, err.Error())
		return
	}

	s.publish(sig)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: sig})
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := make([]*models.ActionableSignal, 0, len(s.latest))
	for _, sym := range utils.SupportedIndices() {
		if sig, ok := s.latest[sym]; ok {
			out = append(out, sig)
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

func (s *Server) handleLatestSignal(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	info, ok := utils.NormalizeIndex(index)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported index %q", index))
		return
	}
	sig := s.Latest(info.Symbol)
	if sig == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no signal yet for %s", info.Symbol))
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: sig})
}

// Latest returns the most recent signal for an index symbol, or nil.
func (s *Server) Latest(sym string) *models.ActionableSignal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[sym]
}

// publish records sig as the latest for its index and streams it.
func (s *Server) publish(sig *models.ActionableSignal) {
	s.mu.Lock()
	s.latest[sig.Index] = sig
	s.mu.Unlock()
	s.wsHub.Broadcast(WSMessage{Type: MsgSignal, Index: sig.Index, Data: sig})
}

// scanRequest maps query parameters onto a ScanRequest. Absent filters keep
// the configured values.
func scanRequest(index string, r *http.Request) (engine.ScanRequest, error) {
	q := r.URL.Query()
	req := engine.ScanRequest{Index: index, Expiry: q.Get("expiry")}
	for _, p := range []struct {
		name string
		dst  **int64
	}{
		{"min_volume", &req.Filters.MinVolume},
		{"min_oi", &req.Filters.MinOI},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return req, fmt.Errorf("invalid %s %q", p.name, v)
		}
		*p.dst = &n
	}
	if v := q.Get("max_strike_dist"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return req, fmt.Errorf("invalid max_strike_dist %q", v)
		}
		req.Filters.MaxStrikeDistPct = &f
	}
	return req, nil
}

// ── Helpers ──

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
