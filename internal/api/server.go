// Package api serves the firewall dashboard and ingestion endpoints.
package api

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/uaal/internal/firewall"
	"github.com/ocx/uaal/internal/intent"
	"github.com/ocx/uaal/internal/middleware"
	"github.com/ocx/uaal/internal/websocket"
)

const (
	maxBodyBytes    = 10 << 20
	shutdownTimeout = 10 * time.Second
)

// Options configures a Server. Streamer, Gatherer and Limiter are optional.
type Options struct {
	Streamer *websocket.DecisionStreamer
	Gatherer prometheus.Gatherer
	Limiter  *middleware.RateLimiter
	Logger   *slog.Logger
}

// Server exposes the firewall over REST/JSON for agents and the dashboard.
type Server struct {
	fw       *firewall.Firewall
	decoder  *intent.Decoder
	streamer *websocket.DecisionStreamer
	gatherer prometheus.Gatherer
	limiter  *middleware.RateLimiter
	slog     *slog.Logger
	logger   *log.Logger
}

// NewServer wires a server around fw.
func NewServer(fw *firewall.Firewall, opts Options) (*Server, error) {
	decoder, err := intent.NewDecoder()
	if err != nil {
		return nil, err
	}
	s := &Server{
		fw:       fw,
		decoder:  decoder,
		streamer: opts.Streamer,
		gatherer: opts.Gatherer,
		limiter:  opts.Limiter,
		slog:     opts.Logger,
		logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
	if s.slog == nil {
		s.slog = slog.Default()
	}
	return s, nil
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Logging(s.slog))

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.AgentHeader)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/shadow/metrics", s.handleShadowMetrics).Methods("GET")
	r.HandleFunc("/policies/test", s.handlePolicyTest).Methods("POST")

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.streamer != nil {
		r.HandleFunc("/ws/decisions", s.streamer.HandleWebSocket)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Middleware)
	}

	api.HandleFunc("/logs", s.handleIngest).Methods("POST")
	api.HandleFunc("/report", s.handleReport).Methods("GET")
	api.HandleFunc("/analyses/{index:[0-9]+}/proof", s.handleProof).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")
	api.HandleFunc("/export.csv", s.handleExportCSV).Methods("GET")
	api.HandleFunc("/users/exposure", s.handleUserExposure).Methods("GET")
	api.HandleFunc("/breakers", s.handleBreakers).Methods("GET")
	api.HandleFunc("/mode", s.handleGetMode).Methods("GET")
	api.HandleFunc("/mode", s.handleSetMode).Methods("PUT")

	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("🚀 Firewall dashboard listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Println("🛑 Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
