package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds all the Prometheus metrics for the classifier.
type Metrics struct {
	// Counters
	Attempts       *prometheus.CounterVec // by input kind and verdict
	OracleFailures prometheus.Counter     // fail-open/fail-closed substitutions
	RecorderErrors *prometheus.CounterVec // by recorder name
	HTTPRequests   *prometheus.CounterVec

	// Gauges
	TrackedClients prometheus.Gauge

	// Histograms
	OracleLatency prometheus.Histogram
	HTTPDuration  *prometheus.HistogramVec
}

// Config holds configuration for the metrics server.
type Config struct {
	Enabled    bool
	Addr       string
	TLSCert    string
	TLSKey     string
	ClientCA   string
	RequireTLS bool
}

// LoadConfig loads metrics configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Enabled:    getBool("METRICS_ENABLED", false),
		Addr:       getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:    getOr("METRICS_TLS_CERT", ""),
		TLSKey:     getOr("METRICS_TLS_KEY", ""),
		ClientCA:   getOr("METRICS_CLIENT_CA", ""),
		RequireTLS: getBool("METRICS_REQUIRE_TLS", false),
	}
}

// New creates and registers all classifier metrics.
func New() *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captchasys_attempts_total",
				Help: "Total classified attempts by input kind and verdict",
			},
			[]string{"input", "verdict"},
		),

		OracleFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "captchasys_oracle_failures_total",
				Help: "Total scoring-oracle failures substituted with the configured fallback score",
			},
		),

		RecorderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captchasys_recorder_errors_total",
				Help: "Total errors appending to an audit recorder",
			},
			[]string{"recorder"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "captchasys_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		TrackedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "captchasys_tracked_clients",
				Help: "Number of client identifiers in the reputation store",
			},
		),

		OracleLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "captchasys_oracle_latency_seconds",
				Help:    "Latency of scoring-oracle calls",
				Buckets: prometheus.DefBuckets,
			},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "captchasys_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	prometheus.MustRegister(m.Attempts)
	prometheus.MustRegister(m.OracleFailures)
	prometheus.MustRegister(m.RecorderErrors)
	prometheus.MustRegister(m.HTTPRequests)
	prometheus.MustRegister(m.TrackedClients)
	prometheus.MustRegister(m.OracleLatency)
	prometheus.MustRegister(m.HTTPDuration)

	return m
}

// Convenience methods for common operations. All are nil-safe so call
// sites don't need to guard against a disabled metrics instance.

func (m *Metrics) IncrementAttempts(input, verdict string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(input, verdict).Inc()
}

func (m *Metrics) IncrementOracleFailures() {
	if m == nil {
		return
	}
	m.OracleFailures.Inc()
}

func (m *Metrics) IncrementRecorderErrors(recorder string) {
	if m == nil {
		return
	}
	m.RecorderErrors.WithLabelValues(recorder).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) SetTrackedClients(n int) {
	if m == nil {
		return
	}
	m.TrackedClients.Set(float64(n))
}

func (m *Metrics) ObserveOracleLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.OracleLatency.Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Server represents the metrics HTTP server.
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server.
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    config.Addr,
		Handler: mux,
		// Security: set timeouts to prevent resource exhaustion
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// Configure mTLS if a client CA is provided.
		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				logrus.Warnf("metrics: failed to load client CA: %v", err)
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				logrus.Infof("metrics: mTLS enabled with client CA: %s", config.ClientCA)
			}
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{server: srv, config: config}
}

// Start starts the metrics server in a separate goroutine.
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logrus.Info("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			logrus.Infof("metrics: HTTPS server listening on %s", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			logrus.Infof("metrics: HTTP server listening on %s", s.config.Addr)
			err = s.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			logrus.Errorf("metrics: server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	logrus.Info("metrics: shutting down server...")
	return s.server.Shutdown(ctx)
}

func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "1", "t", "true", "y", "yes", "TRUE", "True":
		return true
	case "0", "f", "false", "n", "no", "FALSE", "False":
		return false
	}
	return defaultValue
}

func loadCertPool(caPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate from %s", caPath)
	}
	return pool, nil
}
