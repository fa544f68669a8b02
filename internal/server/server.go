package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shibukawa/tokenlab/internal/config"
	"github.com/shibukawa/tokenlab/internal/metrics"
)

var (
	ErrConfigurationCannotBeNil     = errors.New("configuration cannot be nil")
	ErrListenAddressCannotBeChanged = errors.New("listen address cannot be changed at runtime")
	ErrMetricsPathCannotBeChanged   = errors.New("metrics path cannot be changed at runtime")
	ErrTLSNotConfigured             = errors.New("no autocert configured and TLS certificate/key not provided")
	ErrTLSAmbiguous                 = errors.New("autocert is configured AND TLS certificate/key were provided; choose one")
)

// Endpoint paths.
const (
	SecureForgotPasswordPath     = "/secure/forgot-password"
	VulnerableForgotPasswordPath = "/vulnerable/forgot-password"
	HealthPath                   = "/health"
)

// Server is the HTTP front of the two token strategies.
type Server struct {
	mu        sync.RWMutex
	config    *config.Config
	logger    *slog.Logger
	prettyLog *Logger

	metricsPath string
	cors        *corsPolicy

	// Autocert manager (optional)
	autocertManager *AutocertManager

	httpServer *http.Server
}

// New creates a server with the default slog logger.
func New(cfg *config.Config) (*Server, error) {
	return NewServer(cfg, slog.Default(), NewLogger())
}

// NewServer creates a server with explicit loggers.
func NewServer(cfg *config.Config, logger *slog.Logger, prettyLog *Logger) (*Server, error) {
	if cfg == nil {
		return nil, ErrConfigurationCannotBeNil
	}

	server := &Server{
		config:      cfg,
		logger:      logger,
		prettyLog:   prettyLog,
		metricsPath: config.DefaultMetricsPath,
		cors:        newCORSPolicy(cfg.CORS),
	}
	if cfg.Metrics != nil && cfg.Metrics.Path != "" {
		server.metricsPath = cfg.Metrics.Path
	}
	// Handler registers this path unconditionally; a bad one panics in ServeMux.
	if err := config.ValidateMetricsPath(server.metricsPath); err != nil {
		return nil, err
	}

	// Initialize AutocertManager if autocert is enabled in configuration.
	if cfg.Autocert != nil && cfg.Autocert.Enabled {
		am, err := NewAutocertManager(cfg.Autocert, prettyLog)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize autocert manager: %w", err)
		}
		server.autocertManager = am
	}

	return server, nil
}

// SupportsAutocert reports whether this Server has an initialized autocert
// manager.
func (s *Server) SupportsAutocert() bool {
	return s != nil && s.autocertManager != nil
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Handler returns the HTTP handler for the token endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+SecureForgotPasswordPath, s.handleSecureForgotPassword)
	mux.HandleFunc("POST "+VulnerableForgotPasswordPath, s.handleVulnerableForgotPassword)
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)

	promHandler := promhttp.Handler()
	mux.HandleFunc("GET "+s.metricsPath, func(w http.ResponseWriter, r *http.Request) {
		if !s.currentConfig().MetricsEnabled() {
			http.NotFound(w, r)
			return
		}
		promHandler.ServeHTTP(w, r)
	})

	// Apply middleware in correct order: CORS first (outermost), then logging
	handler := s.loggingMiddleware(mux)
	return s.corsMiddleware(handler)
}

// corsMiddleware applies the CORS policy current at request time so that
// reloads take effect without rebuilding the handler chain.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		policy := s.cors
		s.mu.RUnlock()
		policy.middleware(next).ServeHTTP(w, r)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "tokenlab",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Start starts the server over plain HTTP.
func (s *Server) Start() error {
	cfg := s.currentConfig()
	srv := s.newHTTPServer(cfg)

	s.prettyLog.ServerStarting(cfg.ListenAddress(), cfg.BaseURL(false), false, s.metricsPathIfEnabled(cfg))
	return srv.ListenAndServe()
}

// StartTLS starts the server with TLS, either from autocert or from the
// given certificate files.
func (s *Server) StartTLS(certFile, keyFile string) error {
	cfg := s.currentConfig()
	srv := s.newHTTPServer(cfg)

	if s.autocertManager != nil {
		if certFile != "" || keyFile != "" {
			return ErrTLSAmbiguous
		}
		srv.TLSConfig = s.autocertManager.GetTLSConfig()
		s.prettyLog.ServerStarting(cfg.ListenAddress(), cfg.BaseURL(true), true, s.metricsPathIfEnabled(cfg))
		return srv.ListenAndServeTLS("", "")
	}

	if certFile == "" || keyFile == "" {
		return ErrTLSNotConfigured
	}

	s.prettyLog.ServerStarting(cfg.ListenAddress(), cfg.BaseURL(true), true, s.metricsPathIfEnabled(cfg))
	return srv.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) newHTTPServer(cfg *config.Config) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	return srv
}

func (s *Server) metricsPathIfEnabled(cfg *config.Config) string {
	if !cfg.MetricsEnabled() {
		return ""
	}
	return s.metricsPath
}

// Shutdown gracefully stops a server started with Start or StartTLS.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// UpdateConfig updates the server configuration at runtime
func (s *Server) UpdateConfig(newConfig *config.Config) error {
	if newConfig == nil {
		return ErrConfigurationCannotBeNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.config

	// The listener is already bound.
	if old.ListenAddress() != newConfig.ListenAddress() {
		return fmt.Errorf("%w: old=%s, new=%s",
			ErrListenAddressCannotBeChanged, old.ListenAddress(), newConfig.ListenAddress())
	}

	newMetricsPath := config.DefaultMetricsPath
	if newConfig.Metrics != nil && newConfig.Metrics.Path != "" {
		newMetricsPath = newConfig.Metrics.Path
	}
	if newMetricsPath != s.metricsPath {
		return fmt.Errorf("%w: old=%s, new=%s", ErrMetricsPathCannotBeChanged, s.metricsPath, newMetricsPath)
	}

	// Track changes for colorful logging
	var changes []string
	if old.Server.VerboseLogging != newConfig.Server.VerboseLogging {
		changes = append(changes, fmt.Sprintf("Verbose Logging: %v → %v", old.Server.VerboseLogging, newConfig.Server.VerboseLogging))
	}
	if old.MetricsEnabled() != newConfig.MetricsEnabled() {
		changes = append(changes, fmt.Sprintf("Metrics: %v → %v", old.MetricsEnabled(), newConfig.MetricsEnabled()))
	}
	if corsEnabled(old) != corsEnabled(newConfig) {
		changes = append(changes, fmt.Sprintf("CORS: %v → %v", corsEnabled(old), corsEnabled(newConfig)))
	}

	s.config = newConfig
	s.cors = newCORSPolicy(newConfig.CORS)
	s.prettyLog.ConfigReloaded("configuration", changes)
	return nil
}

func corsEnabled(cfg *config.Config) bool {
	return cfg.CORS != nil && cfg.CORS.Enabled
}

// GetPrettyLogger returns the colorful logger for external use
func (s *Server) GetPrettyLogger() *Logger {
	return s.prettyLog
}

// loggingMiddleware provides colorful HTTP request logging with CORS
// debugging info and records request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		cfg := s.currentConfig()

		// Avoid noisy health check and scrape logs unless verbose logging is on.
		if r.URL.Path == HealthPath || r.URL.Path == s.metricsPath {
			if !cfg.Server.VerboseLogging {
				return
			}
		} else {
			metrics.RecordHTTPRequest(routeLabel(r.URL.Path), methodLabel(r.Method), wrapper.statusCode, duration)
		}

		origin := r.Header.Get("Origin")
		corsOrigin := wrapper.Header().Get("Access-Control-Allow-Origin")

		if origin != "" || corsOrigin != "" {
			s.prettyLog.RequestLogWithCORS(r.Method, r.URL.Path, wrapper.statusCode, duration, origin, corsOrigin)
		} else {
			s.prettyLog.RequestLog(r.Method, r.URL.Path, wrapper.statusCode, duration)
		}
	})
}

// methodLabel folds methods no route answers into "other"; clients may send
// any token as a method.
func methodLabel(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions:
		return method
	default:
		return "other"
	}
}

// routeLabel keeps metric cardinality bounded for unknown paths.
func routeLabel(path string) string {
	switch path {
	case SecureForgotPasswordPath, VulnerableForgotPasswordPath:
		return path
	default:
		return "other"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
