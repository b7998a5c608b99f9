package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rulebot/internal/config"
	"rulebot/internal/models"

	"go.uber.org/zap"
)

const (
	userHeader = "X-User-ID"

	// maxBodyBytes bounds every JSON request body.
	maxBodyBytes = 1 << 20
)

// APIServer provides an HTTP interface for bot management, backtests and tick ingestion.
type APIServer struct {
	server  *http.Server
	manager *Manager
	ticks   TickDispatcher
	logger  *zap.Logger
}

// NewAPIServer creates a new APIServer listening on the configured port.
func NewAPIServer(logger *zap.Logger, cfg *config.Config, manager *Manager, ticks TickDispatcher) *APIServer {
	s := &APIServer{
		manager: manager,
		ticks:   ticks,
		logger:  logger.Named("api-server"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler of the server.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("POST /api/bots", s.createBotHandler)
	mux.HandleFunc("GET /api/bots", s.listBotsHandler)
	mux.HandleFunc("GET /api/bots/{id}", s.getBotHandler)
	mux.HandleFunc("PATCH /api/bots/{id}", s.updateBotHandler)
	mux.HandleFunc("DELETE /api/bots/{id}", s.deleteBotHandler)
	mux.HandleFunc("POST /api/bots/{id}/start", s.startBotHandler)
	mux.HandleFunc("POST /api/bots/{id}/stop", s.stopBotHandler)
	mux.HandleFunc("GET /api/bots/{id}/executions", s.listExecutionsHandler)
	mux.HandleFunc("POST /api/bots/{id}/backtests", s.runBacktestHandler)
	mux.HandleFunc("POST /api/bots/{id}/backtests/batch", s.runBacktestBatchHandler)
	mux.HandleFunc("GET /api/bots/{id}/backtests", s.listBacktestsHandler)

	mux.HandleFunc("POST /api/ticks", s.ticksHandler)
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (s *APIServer) ok(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, envelope{Success: true, Data: data})
}

// fail maps a domain error onto its HTTP status.
func (s *APIServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.writeJSON(w, status, envelope{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFoundOrUnauthorized):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidGraph), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrBotStopped), errors.Is(err, ErrNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrNoHistoricalData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrMarketDataUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// owner reads the caller identity; requests without one are rejected.
func (s *APIServer) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(userHeader))
	if id == "" {
		s.writeJSON(w, http.StatusUnauthorized, envelope{Error: "missing " + userHeader + " header"})
		return "", false
	}
	return id, true
}

func (s *APIServer) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge,
				envelope{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
			return false
		}
		s.fail(w, r, invalidRequest("malformed body: %v", err))
		return false
	}
	return true
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, invalidRequest("limit must be a non-negative integer")
	}
	return n, nil
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.ok(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) createBotHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req CreateBotRequest
	if !s.decode(w, r, &req) {
		return
	}
	bot, err := s.manager.CreateBot(r.Context(), owner, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, bot)
}

func (s *APIServer) listBotsHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	bots, err := s.manager.ListBots(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if bots == nil {
		bots = []models.Bot{}
	}
	s.ok(w, http.StatusOK, bots)
}

func (s *APIServer) getBotHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	bot, err := s.manager.GetBot(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, bot)
}

func (s *APIServer) updateBotHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var upd BotUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	bot, err := s.manager.UpdateBot(r.Context(), r.PathValue("id"), owner, upd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, bot)
}

func (s *APIServer) deleteBotHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	if err := s.manager.DeleteBot(r.Context(), r.PathValue("id"), owner); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, nil)
}

func (s *APIServer) startBotHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	bot, err := s.manager.StartBot(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, bot)
}

func (s *APIServer) stopBotHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	bot, err := s.manager.StopBot(r.Context(), r.PathValue("id"), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, bot)
}

func (s *APIServer) listExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	execs, err := s.manager.ListExecutions(r.Context(), r.PathValue("id"), owner, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if execs == nil {
		execs = []models.Execution{}
	}
	s.ok(w, http.StatusOK, execs)
}

func (s *APIServer) runBacktestHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var req BacktestRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.manager.RunBacktest(r.Context(), r.PathValue("id"), owner, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, result)
}

func (s *APIServer) runBacktestBatchHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	var reqs []BacktestRequest
	if !s.decode(w, r, &reqs) {
		return
	}
	results, err := s.manager.RunBacktestBatch(r.Context(), r.PathValue("id"), owner, reqs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, results)
}

func (s *APIServer) listBacktestsHandler(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	results, err := s.manager.ListBacktests(r.Context(), r.PathValue("id"), owner, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if results == nil {
		results = []models.BacktestResult{}
	}
	s.ok(w, http.StatusOK, results)
}

func (s *APIServer) ticksHandler(w http.ResponseWriter, r *http.Request) {
	var sample models.MarketSample
	if !s.decode(w, r, &sample) {
		return
	}
	if strings.TrimSpace(sample.Symbol) == "" {
		s.fail(w, r, invalidRequest("symbol is required"))
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	if err := s.ticks.OnTickAll(r.Context(), sample); err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusAccepted, nil)
}
