package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/velvet-oracle/ritual/src/app/questions"
	"github.com/velvet-oracle/ritual/src/app/rituals"
	"github.com/velvet-oracle/ritual/src/infra/telegram"
)

type ServerConfig struct {
	Logger          *zap.Logger
	RitualService   *rituals.Service
	QuestionService *questions.Service
	// Verifier enforces signed Telegram init data on ritual routes when set.
	Verifier       *telegram.Verifier
	AllowedOrigins []string
	Version        string
	Env            string
	// StoreCheck backs /health; nil reports the store as not checked.
	StoreCheck func(ctx context.Context) error
	Ready      *atomic.Bool
	Registry   *prometheus.Registry
}

// Server wires HTTP endpoints to application services with observability instrumentation.
type Server struct {
	cfg            ServerConfig
	router         *mux.Router
	validate       *validator.Validate
	httpMetrics    *prometheus.HistogramVec
	requestCounter *prometheus.CounterVec
	ritualCounter  *prometheus.CounterVec
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Ready == nil {
		cfg.Ready = atomic.NewBool(true)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	srv := &Server{cfg: cfg, validate: validator.New(validator.WithRequiredStructEnabled())}
	srv.initMetrics()
	srv.buildRouter()
	return srv
}

func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-Id", telegram.HeaderInitData}),
		handlers.ExposedHeaders([]string{"X-Request-Id"}),
	)(s.router)
}

func (s *Server) initMetrics() {
	s.httpMetrics = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ritual",
		Subsystem: "http",
		Name:      "request_latency_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
	s.requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ritual",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route",
	}, []string{"route", "method", "code"})
	s.ritualCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ritual",
		Subsystem: "core",
		Name:      "events_total",
		Help:      "Ritual lifecycle events by outcome",
	}, []string{"event", "outcome"})
	s.cfg.Registry.MustRegister(
		s.httpMetrics,
		s.requestCounter,
		s.ritualCounter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func (s *Server) buildRouter() {
	r := mux.NewRouter()
	r.Use(s.correlationMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/api", s.handleAPIRoot).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/questions/random", s.handleRandomQuestions).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	ritualRouter := r.PathPrefix("/ritual").Subrouter()
	ritualRouter.Use(s.initDataMiddleware)
	ritualRouter.HandleFunc("/start", s.handleRitualStart).Methods(http.MethodPost)
	ritualRouter.HandleFunc("/complete", s.handleRitualComplete).Methods(http.MethodPost)
	ritualRouter.HandleFunc("/feedback", s.handleRitualFeedback).Methods(http.MethodPost)

	s.router = r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.cfg.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", correlationIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	s.writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func (s *Server) countRitual(event string, err error) {
	outcome := "ok"
	if err != nil {
		_, outcome = errorStatus(err)
	}
	s.ritualCounter.WithLabelValues(event, outcome).Inc()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.cfg.Logger.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
			zap.Int64("bytes", m.Written),
			zap.String("request_id", correlationIDFromContext(r.Context())),
		)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m := httpsnoop.CaptureMetrics(next, w, r)
		routeName := "unknown"
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				routeName = tmpl
			}
		}
		labels := prometheus.Labels{"route": routeName, "method": r.Method, "code": strconv.Itoa(m.Code)}
		s.httpMetrics.With(labels).Observe(time.Since(start).Seconds())
		s.requestCounter.With(labels).Inc()
	})
}
