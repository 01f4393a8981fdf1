// Package server is the HTTP surface: the health endpoint and the
// credential-vending endpoint consumers call with their bearer token.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"credproxy/internal/api"
	"credproxy/internal/cache"
	"credproxy/internal/config"
	"credproxy/internal/metrics"
	"credproxy/internal/registry"
	"credproxy/pkg/logging"
)

// ExpirationFormat renders credential expiry as ISO-8601 UTC with
// microsecond precision and a literal Z suffix, matching what AWS SDK
// credential_process consumers expect.
const ExpirationFormat = "2006-01-02T15:04:05.000000Z"

// credentialResponse is the document returned on a successful vend. The
// field names follow the AWS credential document convention, not Go's.
type credentialResponse struct {
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	Token           string `json:"Token"`
	Expiration      string `json:"Expiration"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the credential-vending API.
type Server struct {
	cfg      config.ServerConfig
	registry *registry.Registry
	cache    *cache.Cache
	metrics  *metrics.Metrics

	httpServer *http.Server
}

// New creates the API server. metrics may be nil when telemetry is
// disabled.
func New(cfg config.ServerConfig, reg *registry.Registry, credCache *cache.Cache, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		registry: reg,
		cache:    credCache,
		metrics:  m,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/credentials", s.handleCredentials)

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe blocks until the server stops. http.ErrServerClosed is
// swallowed so graceful shutdown does not surface as a failure.
func (s *Server) ListenAndServe() error {
	logging.Info("Server", "Listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Load balancers poll this endpoint; logging every probe drowns the
	// log unless explicitly asked for.
	if s.cfg.LogHealthChecks {
		logging.Info("Server", "Health check from %s", r.RemoteAddr)
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "healthy",
		Services: s.registry.Len(),
	})
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	requestID := uuid.NewString()

	token := r.Header.Get("Authorization")
	if token == "" {
		s.reject(w, requestID, metrics.ResultUnauthorized, "", start,
			"Request without authorization header from %s", r.RemoteAddr)
		return
	}

	serviceName, ok := s.registry.LookupByToken(token)
	if !ok {
		s.reject(w, requestID, metrics.ResultUnauthorized, "", start,
			"Request with unknown token from %s", r.RemoteAddr)
		return
	}

	creds, err := s.cache.GetCredentials(r.Context(), serviceName)
	if err != nil {
		// The service can vanish between lookup and issue; either way
		// the caller learns nothing beyond a generic failure class.
		if api.IsNotFound(err) {
			s.reject(w, requestID, metrics.ResultUnauthorized, serviceName, start,
				"Service %q disappeared during request", serviceName)
			return
		}
		logging.Error("Server", err, "Credential issue failed for %q [%s]", serviceName, requestID)
		s.record(metrics.ResultError, serviceName, start)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	logging.Info("Server", "Vended credentials for %q to %s [%s]",
		serviceName, r.RemoteAddr, requestID)
	s.record(metrics.ResultSuccess, serviceName, start)
	writeJSON(w, http.StatusOK, credentialResponse{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		Token:           creds.SessionToken,
		Expiration:      creds.ExpiresAt.UTC().Format(ExpirationFormat),
	})
}

// reject answers 401 without revealing whether the token was missing,
// malformed, or simply unknown.
func (s *Server) reject(w http.ResponseWriter, requestID, result, serviceName string, start time.Time, messageFmt string, args ...interface{}) {
	logging.Warn("Server", messageFmt+" [%s]", append(args, requestID)...)
	s.record(result, serviceName, start)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func (s *Server) record(result, serviceName string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordRequest(result, serviceName, time.Since(start))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Server", err, "Failed to encode response body")
	}
}

// MetricsServer serves the prometheus scrape endpoint on its own
// listener so operational traffic never mixes with credential traffic.
type MetricsServer struct {
	httpServer *http.Server
}

// NewMetricsServer builds the scrape listener from the prometheus block.
func NewMetricsServer(cfg config.PrometheusConfig, m *metrics.Metrics) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks until the server stops.
func (s *MetricsServer) ListenAndServe() error {
	logging.Info("Metrics", "Serving metrics on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown drains the scrape listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
