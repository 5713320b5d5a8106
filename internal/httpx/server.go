package httpx

import (
	"net/http"
)

// NewMux assembles the public API routes with logging, metrics and CORS
// applied outermost-in.
func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.HandleFunc("/api/ping", e.Ping)
	mux.HandleFunc("/api/box", e.Mouse)
	mux.HandleFunc("/api/slider", e.Touch)
	mux.HandleFunc("/api/log", e.Log)
	mux.HandleFunc("/api/log/", e.Log)

	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(e.Cfg.AllowedOrigins)(mux)))
}
