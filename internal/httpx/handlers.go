package httpx

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/engine"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/metrics"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/telemetry"
	"github.com/Norman-Deen/CaptchaSysBackSmart/pkg/config"
)

// Evaluator is the engine surface the handlers need.
type Evaluator interface {
	Evaluate(ctx context.Context, clientID string, s telemetry.Sample) engine.Result
}

// AuditStore is the administrative surface over the CSV audit file.
type AuditStore interface {
	List() ([]string, error)
	DeleteLine(index int) error
}

// Env carries the handlers' dependencies.
type Env struct {
	Cfg     config.Config
	Engine  Evaluator
	Audit   AuditStore // nil when the CSV recorder is disabled
	Metrics *metrics.Metrics
}

// attemptPayload is the wire shape for both challenge endpoints. A
// "robot-detected" mode replaces the telemetry fields entirely.
type attemptPayload struct {
	telemetry.Sample
	Mode       string `json:"mode,omitempty"`
	BoxIndexes []int  `json:"boxIndexes,omitempty"`
}

type verdictResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Ping answers uptime monitors. HEAD is accepted so monitors can avoid
// the body.
func (e Env) Ping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte("pong"))
	}
}

// Mouse handles POST /api/box: mouse-challenge telemetry or the fake-box
// robot signal.
func (e Env) Mouse(w http.ResponseWriter, r *http.Request) {
	e.classify(w, r, telemetry.InputMouse)
}

// Touch handles POST /api/slider: touch-swipe telemetry.
func (e Env) Touch(w http.ResponseWriter, r *http.Request) {
	e.classify(w, r, telemetry.InputTouch)
}

func (e Env) classify(w http.ResponseWriter, r *http.Request, kind telemetry.InputKind) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	defer r.Body.Close()
	var payload attemptPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err := dec.Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "status": "invalid"})
		return
	}

	sample := payload.Sample
	// The input kind is asserted server-side from the endpoint, never
	// trusted from the payload.
	sample.Kind = kind
	if payload.Mode == "robot-detected" {
		sample.Robot = &telemetry.RobotSignal{
			Reason:     payload.Reason,
			BoxIndexes: payload.BoxIndexes,
		}
	}

	clientID := clientIDFromRequest(r, e.Cfg.TrustProxy)
	res := e.Engine.Evaluate(r.Context(), clientID, sample)

	status := string(res.Verdict)
	if !res.Allowed() {
		status = "banned"
	}
	writeJSON(w, http.StatusOK, verdictResponse{Success: res.Allowed(), Status: status})
}

// Log serves the administrative audit surface: GET lists all lines,
// DELETE /api/log/{index} removes one by position.
func (e Env) Log(w http.ResponseWriter, r *http.Request) {
	if e.Audit == nil {
		http.Error(w, "audit log not enabled", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		lines, err := e.Audit.List()
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "log file not found", http.StatusNotFound)
				return
			}
			logrus.WithError(err).Error("audit list failed")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, lines)

	case http.MethodDelete:
		idxStr := strings.TrimPrefix(r.URL.Path, "/api/log/")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		if err := e.Audit.DeleteLine(idx); err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "log file not found", http.StatusNotFound)
				return
			}
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "line " + idxStr + " deleted"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIDFromRequest normalizes the caller's network address into the
// reputation key: the IPv6 loopback collapses to the IPv4 loopback, and a
// missing address becomes "unknown".
func clientIDFromRequest(r *http.Request, trustProxy bool) string {
	ip := ""
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			ip = strings.TrimSpace(parts[0])
		}
		if ip == "" {
			ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
		}
	}
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && host != "" {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}

	switch ip {
	case "::1":
		return "127.0.0.1"
	case "":
		return "unknown"
	}
	return ip
}
