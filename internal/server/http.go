package server

import (
	"CurveMarket/internal/ingestion"
	"CurveMarket/internal/observability"
	"CurveMarket/internal/persistence"
	"CurveMarket/internal/projection"
	"CurveMarket/internal/query"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves the query, admin, and ingest APIs over HTTP/JSON.
type HTTPServer struct {
	httpServer    *http.Server
	addr          string
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the HTTP handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	Metrics       *observability.Metrics
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewHTTPServer creates the server with all routes registered.
func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	r := mux.NewRouter()

	qh := &queryHandlers{qs: deps.QueryService, metrics: deps.Metrics}
	ih := &ingestHandlers{svc: deps.IngestService}
	ah := &adminHandlers{
		db:           deps.DB,
		snapMgr:      deps.SnapshotMgr,
		queryService: deps.QueryService,
		startTime:    deps.StartTime,
	}

	v1 := r.PathPrefix("/v1").Subrouter()

	// Query API
	v1.HandleFunc("/collaterals", qh.listCollaterals).Methods(http.MethodGet)
	v1.HandleFunc("/collaterals/{collateral}", qh.getCollateral).Methods(http.MethodGet)
	v1.HandleFunc("/collaterals/{collateral}/batches", qh.listBatches).Methods(http.MethodGet)
	v1.HandleFunc("/collaterals/{collateral}/batches/{batch_id}", qh.getBatch).Methods(http.MethodGet)
	v1.HandleFunc("/collaterals/{collateral}/batches/{batch_id}/orders/{owner}/{side}", qh.getOrder).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{owner}", qh.listOrders).Methods(http.MethodGet)
	v1.HandleFunc("/history", qh.listBatchHistory).Methods(http.MethodGet)
	v1.HandleFunc("/reserve", qh.getReserveStatus).Methods(http.MethodGet)

	// Ingest API (admin/manual injection; NATS is the bulk path)
	v1.HandleFunc("/events", ih.submitEvent).Methods(http.MethodPost)

	// Admin API
	v1.HandleFunc("/admin/integrity", ah.verifyIntegrity).Methods(http.MethodGet)
	v1.HandleFunc("/admin/event-log", ah.getEventLogInfo).Methods(http.MethodGet)
	v1.HandleFunc("/admin/rebuild-projections", ah.rebuildProjections).Methods(http.MethodPost)

	// Operational endpoints
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if deps.HealthChecker != nil {
		r.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler).Methods(http.MethodGet)
	}

	return &HTTPServer{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		addr:          addr,
		healthChecker: deps.HealthChecker,
	}
}

// Start runs the server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Query handlers
// ============================================================================

type queryHandlers struct {
	qs      *query.QueryService
	metrics *observability.Metrics
}

func (h *queryHandlers) observe(endpoint string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
}

func (h *queryHandlers) listCollaterals(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	collaterals, err := h.qs.GetCollateralTokens(r.Context())
	h.observe("list_collaterals", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collaterals": collaterals})
}

func (h *queryHandlers) getCollateral(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	c, err := h.qs.GetCollateralToken(r.Context(), mux.Vars(r)["collateral"])
	h.observe("get_collateral", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("collateral not found"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *queryHandlers) listBatches(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := queryInt(r, "limit", 50, 500)
	batches, err := h.qs.GetBatches(r.Context(), mux.Vars(r)["collateral"], limit)
	h.observe("list_batches", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

func (h *queryHandlers) getBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	batchID, err := strconv.ParseInt(vars["batch_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %w", err))
		return
	}
	b, err := h.qs.GetBatch(r.Context(), vars["collateral"], batchID)
	h.observe("get_batch", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("batch not found"))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *queryHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	batchID, err := strconv.ParseInt(vars["batch_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid batch_id: %w", err))
		return
	}
	side := vars["side"]
	if side != "buy" && side != "sell" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("side must be buy or sell"))
		return
	}
	o, err := h.qs.GetOrder(r.Context(), vars["owner"], vars["collateral"], batchID, side)
	h.observe("get_order", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if o == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("order not found"))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *queryHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := queryInt(r, "limit", 50, 500)
	unclaimedOnly := r.URL.Query().Get("unclaimed") == "true"

	var afterBatch *int64
	if v := r.URL.Query().Get("after_batch"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after_batch: %w", err))
			return
		}
		afterBatch = &n
	}

	orders, err := h.qs.GetOrders(r.Context(), mux.Vars(r)["owner"], unclaimedOnly, limit, afterBatch)
	h.observe("list_orders", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (h *queryHandlers) listBatchHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit := queryInt(r, "limit", 50, 500)

	var collateral *string
	if v := r.URL.Query().Get("collateral"); v != "" {
		collateral = &v
	}

	var afterBatch *int64
	if v := r.URL.Query().Get("after_batch"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after_batch: %w", err))
			return
		}
		afterBatch = &n
	}

	history, err := h.qs.GetBatchHistory(r.Context(), collateral, limit, afterBatch)
	h.observe("list_batch_history", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (h *queryHandlers) getReserveStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status, err := h.qs.GetReserveStatus(r.Context())
	h.observe("get_reserve_status", start, err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ============================================================================
// Ingest handlers
// ============================================================================

type ingestHandlers struct {
	svc *ingestion.AdminIngestService
}

type submitEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

func (h *ingestHandlers) submitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("event_type is required"))
		return
	}

	if err := h.svc.Submit(r.Context(), req.EventType, req.Payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// ============================================================================
// Admin handlers
// ============================================================================

type adminHandlers struct {
	db           *sql.DB
	snapMgr      *persistence.SnapshotManager
	queryService *query.QueryService
	startTime    time.Time
}

func (h *adminHandlers) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *adminHandlers) getEventLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := h.snapMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence":  latestSeq,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

func (h *adminHandlers) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), h.db); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": true})
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}
