// Package engine merges the heuristic suspicion score with the learned
// oracle score, applies the classification policy, and drives reputation
// escalation plus audit recording for every attempt.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/metrics"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/oracle"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/recorder"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/reputation"
	"github.com/Norman-Deen/CaptchaSysBackSmart/internal/telemetry"
)

// Policy selects how the oracle score and the heuristic count combine.
type Policy string

const (
	// PolicyCombined cross-checks the heuristic suspicion count against
	// the oracle score. This is the default.
	PolicyCombined Policy = "combined"
	// PolicyScore classifies purely by oracle threshold and ignores the
	// heuristics. A materially different policy; thresholds are never
	// mixed with PolicyCombined's.
	PolicyScore Policy = "score"
)

// Decision thresholds for PolicyCombined.
const (
	// A single weak heuristic flag is overruled by strong model
	// confidence.
	confidenceOverrideScore = 0.95
	// Very strong confidence softens (but never zeroes) a multi-flag
	// suspicion count.
	partialOverrideScore = 0.98

	robotSuspicion = 2
)

// scoreHumanThreshold is the PolicyScore cutoff: at or above it the
// attempt is human, below it robot.
const scoreHumanThreshold = 0.75

// neutralScore is substituted when the oracle fails and the engine is
// configured fail-open: it biases toward allowing access so an oracle
// outage never locks humans out.
const neutralScore = 1.0

// Config tunes the engine's policy and oracle handling.
type Config struct {
	Policy        Policy
	OracleTimeout time.Duration
	// FailClosed substitutes 0.0 instead of the neutral 1.0 when the
	// oracle fails. Security-sensitive deployments may prefer it.
	FailClosed bool
}

// AuditSink receives the immutable record of each attempt.
type AuditSink interface {
	Append(rec recorder.AttemptRecord)
}

// Result is the engine's output for one attempt.
type Result struct {
	Verdict   telemetry.Verdict
	MLScore   float64
	Suspicion int
	Reason    string
}

// Allowed reports whether the transport layer should answer success.
func (r Result) Allowed() bool {
	return r.Verdict == telemetry.VerdictHuman || r.Verdict == telemetry.VerdictUncertain
}

// Engine is safe for concurrent use; all mutable state lives in the
// reputation store.
type Engine struct {
	scorer  oracle.Scorer
	store   *reputation.Store
	audit   AuditSink
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New wires an engine. audit and m may be nil (useful in tests).
func New(scorer oracle.Scorer, store *reputation.Store, audit AuditSink, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.Policy == "" {
		cfg.Policy = PolicyCombined
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 2 * time.Second
	}
	return &Engine{
		scorer:  scorer,
		store:   store,
		audit:   audit,
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Evaluate classifies one attempt. It never returns an error: every
// failure on the path degrades to a safe default, and ban state always
// wins over permissiveness.
func (e *Engine) Evaluate(ctx context.Context, clientID string, s telemetry.Sample) Result {
	now := e.now()
	log := logrus.WithFields(logrus.Fields{"client": clientID, "input": s.Kind})
	log.Debug("attempt received")

	// Explicit trap signal from the frontend: conclusive, no scoring.
	if s.Robot != nil {
		return e.robotDetected(clientID, s, now)
	}

	// An existing ban short-circuits before any feature work.
	if e.store.Status(clientID, now) {
		log.Debug("client is banned, skipping evaluation")
		res := Result{Verdict: telemetry.VerdictBanned, Reason: "Blocked due to previous ban"}
		e.record(clientID, s, nil, nil, res.Verdict, res.Verdict, res.Reason, now)
		e.count(s.Kind, res.Verdict)
		return res
	}

	derived := telemetry.Extract(s.SpeedSeries, s.LastSpeed)
	score := e.score(ctx, s, derived)

	var verdict telemetry.Verdict
	var suspicion int
	switch e.cfg.Policy {
	case PolicyScore:
		if score >= scoreHumanThreshold {
			verdict = telemetry.VerdictHuman
		} else {
			verdict = telemetry.VerdictRobot
		}
	default:
		suspicion = telemetry.Suspicion(s, derived)
		suspicion = adjustSuspicion(suspicion, score)
		verdict = mapSuspicion(suspicion)
	}
	log.WithFields(logrus.Fields{"mlScore": score, "suspicion": suspicion, "verdict": verdict}).Debug("classified")

	outcome := e.store.RecordAttempt(clientID, verdict, derived.DecelerationRate, now)
	e.metrics.SetTrackedClients(e.store.Len())
	e.count(s.Kind, outcome)
	e.record(clientID, s, &derived, &score, verdict, outcome, s.Reason, now)

	return Result{Verdict: outcome, MLScore: score, Suspicion: suspicion, Reason: s.Reason}
}

// adjustSuspicion applies the oracle overrides of PolicyCombined.
func adjustSuspicion(suspicion int, score float64) int {
	if suspicion == 1 && score > confidenceOverrideScore {
		return 0
	}
	if score > partialOverrideScore && suspicion >= robotSuspicion {
		return suspicion - 1
	}
	return suspicion
}

func mapSuspicion(suspicion int) telemetry.Verdict {
	switch {
	case suspicion >= robotSuspicion:
		return telemetry.VerdictRobot
	case suspicion == 1:
		return telemetry.VerdictUncertain
	default:
		return telemetry.VerdictHuman
	}
}

// score runs the single bounded oracle call and applies the configured
// failure substitution. Oracle trouble is an operational signal, never a
// request error.
func (e *Engine) score(ctx context.Context, s telemetry.Sample, d telemetry.DerivedFeatures) float64 {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OracleTimeout)
	defer cancel()

	start := time.Now()
	score, err := e.scorer.Score(callCtx, oracle.BuildVector(s, d))
	e.metrics.ObserveOracleLatency(time.Since(start))
	if err != nil {
		e.metrics.IncrementOracleFailures()
		fallback := neutralScore
		if e.cfg.FailClosed {
			fallback = 0.0
		}
		logrus.WithError(err).Warnf("oracle failed, substituting %.2f", fallback)
		return fallback
	}
	return score
}

// robotDetected handles the explicit-signal path: reputation still
// updates (the attempt was conclusively bad) and the audit trail still
// gets a record, but features and scores were never computed.
func (e *Engine) robotDetected(clientID string, s telemetry.Sample, now time.Time) Result {
	reason := s.Robot.Reason
	if reason == "" {
		reason = "Robot behavior reported by client"
	}
	e.store.RecordAttempt(clientID, telemetry.VerdictRobot, 0, now)
	e.metrics.SetTrackedClients(e.store.Len())
	e.count(s.Kind, telemetry.VerdictBanned)
	e.record(clientID, s, nil, nil, telemetry.VerdictRobot, telemetry.VerdictBanned, reason, now)
	return Result{Verdict: telemetry.VerdictBanned, Reason: reason}
}

func (e *Engine) count(kind telemetry.InputKind, verdict telemetry.Verdict) {
	e.metrics.IncrementAttempts(string(kind), string(verdict))
}

// record assembles the audit record. derived and score are nil on the
// short-circuit paths where they were never computed.
func (e *Engine) record(clientID string, s telemetry.Sample, derived *telemetry.DerivedFeatures, score *float64, behavior, final telemetry.Verdict, reason string, now time.Time) {
	if e.audit == nil {
		return
	}

	status := "accepted"
	if final == telemetry.VerdictBanned || final == telemetry.VerdictRobot {
		status = "banned"
	}

	attemptID := s.AttemptID
	if attemptID == "" {
		attemptID = uuid.NewString()
	}

	rec := recorder.AttemptRecord{
		Timestamp: now,
		ClientID:  clientID,
		InputKind: string(s.Kind),
		Status:    status,
		Reason:    reason,
		Behavior:  string(behavior),
		PageURL:   s.PageURL,
		UserAgent: s.UserAgent,
		AttemptID: attemptID,
	}

	if s.Robot != nil {
		rec.BoxIndexes = s.Robot.BoxIndexes
		e.audit.Append(rec)
		return
	}

	rec.MovementTime = intPtr(s.MovementTime)
	rec.SpeedSeries = s.SpeedSeries
	switch s.Kind {
	case telemetry.InputTouch:
		rec.VerticalScore = s.VerticalScore
		vc := s.VerticalCount
		rec.VerticalCount = &vc
		tvm := s.TotalVerticalMovement
		rec.TotalVerticalMovement = &tvm
	default:
		rec.MaxSpeed = floatPtr(s.MaxSpeed)
		rec.LastSpeed = floatPtr(s.LastSpeed)
		rec.SpeedStability = floatPtr(s.SpeedStability)
	}
	if derived != nil {
		rec.AvgSpeed = floatPtr(derived.AvgSpeed)
		rec.StdSpeed = floatPtr(derived.StdSpeed)
		rec.AccelerationChanges = intPtr(derived.AccelerationChanges)
		rec.DecelerationRate = floatPtr(derived.DecelerationRate)
		rec.SpeedVariance = floatPtr(derived.SpeedVariance)
	}
	rec.MLScore = score

	e.audit.Append(rec)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
