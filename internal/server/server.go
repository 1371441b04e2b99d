// Package server answers scrapes and probes with the latest published
// exposition. Handlers only read; they never trigger sampling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/exposition"
)

const shutdownTimeout = 5 * time.Second

var (
	okBody       = []byte("ok\n")
	notFoundBody = []byte("not found\n")
)

// Source supplies the body served on /metrics.
type Source interface {
	Exposition() []byte
}

type Server struct {
	src      Source
	logger   *zap.Logger
	requests *prometheus.CounterVec
	handler  http.Handler
}

// New builds the router. The request counter is registered on reg when
// reg is non-nil.
func New(src Source, reg prometheus.Registerer, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		src:    src,
		logger: logger.Named("http"),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exporter_http_requests_total",
				Help: "HTTP requests served, by path and status code.",
			},
			[]string{"path", "code"},
		),
	}
	if reg != nil {
		if err := reg.Register(s.requests); err != nil {
			return nil, fmt.Errorf("registering request counter: %w", err)
		}
	}

	// Unclean paths get the plain 404, not a redirect.
	r := mux.NewRouter().SkipClean(true)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleOK).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleOK).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)

	s.handler = s.instrument(r)
	return s, nil
}

// Handler is the full HTTP handler, including request accounting.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	write(w, http.StatusOK, s.src.Exposition())
}

func (s *Server) handleOK(w http.ResponseWriter, _ *http.Request) {
	write(w, http.StatusOK, okBody)
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	write(w, http.StatusNotFound, notFoundBody)
}

func write(w http.ResponseWriter, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", exposition.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Connection", "close")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.requests.WithLabelValues(pathLabel(r.URL.Path), strconv.Itoa(rw.status)).Inc()
	})
}

// pathLabel keeps the counter's cardinality fixed.
func pathLabel(p string) string {
	switch p {
	case "/metrics", "/healthz", "/readyz":
		return p
	}
	return "other"
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Listen binds addr. A bind failure is fatal to the caller.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
