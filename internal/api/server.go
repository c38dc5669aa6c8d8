// Package api exposes the scoring and attribution services over HTTP: batch
// prediction, per-feature explanations, a websocket scoring stream, health
// and model introspection, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"credit-risk-api/internal/common"
	"credit-risk-api/internal/metrics"
	"credit-risk-api/internal/ml"
)

// Options configure a Server. Zero values fall back to defaults.
type Options struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxBodyBytes   int64
	ReferenceLimit int
	// Gatherer backs /metrics; nil means the default Prometheus registry.
	Gatherer prometheus.Gatherer
}

// Server serves one ModelContext. The context is read-only, so handlers share
// it without locking.
type Server struct {
	mc        *ml.ModelContext
	reference ml.ReferenceCohortProvider
	metrics   *metrics.Metrics
	opts      Options
	router    *mux.Router
	upgrader  websocket.Upgrader
	server    *http.Server
	startedAt time.Time
}

// NewServer builds the router. reference and m may be nil.
func NewServer(mc *ml.ModelContext, reference ml.ReferenceCohortProvider, m *metrics.Metrics, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = common.DefaultPort
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 60 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = common.DefaultMaxBodyBytes
	}
	if opts.ReferenceLimit <= 0 {
		opts.ReferenceLimit = common.DefaultReferenceLimit
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		mc:        mc,
		reference: reference,
		metrics:   m,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/routes", s.handleRoutes).Methods(http.MethodGet)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/predict/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/explain", s.handleExplain).Methods(http.MethodPost)
	r.HandleFunc("/explain/{client_id}", s.handleExplainClient).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	r.Use(s.observeMiddleware)
	s.router = r

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	if m != nil {
		info := mc.Info()
		m.SetModel(mc.Available(), mc.Threshold(), info.CreatedAt)
	}

	return s
}

// Handler returns the full handler chain.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(s.router)
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	health := s.mc.Health()
	log.Info().
		Str("addr", s.server.Addr).
		Bool("model_loaded", health.ModelLoaded).
		Str("model_version", health.ModelVersion).
		Float64("threshold", health.Threshold).
		Msg("starting credit risk API")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

// Routes lists the registered routes, sorted by path.
func (s *Server) Routes() []RouteInfo {
	var routes []RouteInfo
	_ = s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		routes = append(routes, RouteInfo{Path: path, Methods: methods})
		return nil
	})
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{
		Error:     fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path),
		Kind:      string(ml.KindNotFound),
		RequestID: RequestID(r.Context()),
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{
		Error:     fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
		Kind:      string(ml.KindInvalidInput),
		RequestID: RequestID(r.Context()),
	})
}
