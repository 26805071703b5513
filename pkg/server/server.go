// Package server exposes the scoring service over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
	"github.com/ShinTechz/fraud-detection-system/pkg/metrics"
	"github.com/ShinTechz/fraud-detection-system/pkg/service"
	"github.com/ShinTechz/fraud-detection-system/pkg/store"
	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

// Server holds the HTTP handlers.
type Server struct {
	svc          *service.Service
	logger       *zap.Logger
	maxBatchSize int
	maxBodyBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMaxBatchSize bounds the number of transactions per request.
func WithMaxBatchSize(n int) Option {
	return func(s *Server) {
		s.maxBatchSize = n
	}
}

// New creates a Server.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		logger:       zap.NewNop(),
		maxBatchSize: 10000,
		maxBodyBytes: 32 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recovery)
	r.Use(s.logging)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/score", s.score).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/{id}", s.getTransaction).Methods(http.MethodGet)
	v1.HandleFunc("/anomalies", s.listAnomalies).Methods(http.MethodGet)
	return r
}

// ScoreRequest is the body of POST /v1/score.
type ScoreRequest struct {
	Transactions []transaction.Transaction `json:"transactions"`
}

// ScoreResponse is the body returned by POST /v1/score.
type ScoreResponse struct {
	BatchID    string             `json:"batch_id"`
	Verdicts   []ensemble.Verdict `json:"verdicts"`
	Unscored   []UnscoredItem     `json:"unscored,omitempty"`
	DurationMS int64              `json:"duration_ms"`
	Warning    string             `json:"warning,omitempty"`
}

// UnscoredItem reports a transaction that got no verdict.
type UnscoredItem struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	Reason        string `json:"reason"`
	Error         string `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "fraudguard"})
}

func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req ScoreRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transactions must not be empty"})
		return
	}
	if len(req.Transactions) > s.maxBatchSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error: "batch of " + strconv.Itoa(len(req.Transactions)) + " exceeds limit " + strconv.Itoa(s.maxBatchSize),
		})
		return
	}

	res, err := s.svc.Score(r.Context(), req.Transactions)
	if res == nil {
		s.logger.Error("score batch", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	resp := ScoreResponse{
		BatchID:    res.BatchID,
		Verdicts:   res.Verdicts,
		DurationMS: res.Duration.Milliseconds(),
	}
	if resp.Verdicts == nil {
		resp.Verdicts = []ensemble.Verdict{}
	}
	for _, u := range res.Unscored {
		resp.Unscored = append(resp.Unscored, UnscoredItem{
			TransactionID: u.TransactionID,
			UserID:        u.UserID,
			Reason:        u.Reason(),
			Error:         u.Err.Error(),
		})
	}
	if err != nil {
		// Scored, but a downstream step failed.
		s.logger.Warn("batch scored with errors", zap.String("batch_id", res.BatchID), zap.Error(err))
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	vs := s.svc.Verdicts()
	if vs == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "verdict store not configured"})
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := vs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "transaction " + id + " not found"})
		return
	}
	if err != nil {
		s.logger.Error("get verdict", zap.String("transaction_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listAnomalies(w http.ResponseWriter, r *http.Request) {
	vs := s.svc.Verdicts()
	if vs == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "verdict store not configured"})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be RFC3339"})
			return
		}
		since = t
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	recs, err := vs.ListAnomalies(r.Context(), since, limit)
	if err != nil {
		s.logger.Error("list anomalies", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic in handler", zap.Any("panic", p), zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
