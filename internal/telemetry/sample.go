package telemetry

// InputKind identifies the challenge widget the client interacted with.
type InputKind string

const (
	InputMouse InputKind = "mouse"
	InputTouch InputKind = "touch"
)

// Verdict is the engine's final classification of one attempt.
type Verdict string

const (
	VerdictHuman     Verdict = "human"
	VerdictUncertain Verdict = "uncertain"
	VerdictRobot     Verdict = "robot"
	VerdictBanned    Verdict = "banned"
)

// Bad reports whether a verdict counts against the client's reputation.
// Only a clean "human" classification does not.
func (v Verdict) Bad() bool {
	return v == VerdictUncertain || v == VerdictRobot
}

// RobotSignal is an explicit frontend assertion that the client tripped a
// trap element (e.g. clicked a disguised decoy box). Its presence is
// conclusive: no feature extraction or scoring happens.
type RobotSignal struct {
	Reason     string `json:"reason,omitempty"`
	BoxIndexes []int  `json:"boxIndexes,omitempty"`
}

// Sample is one attempt's raw client telemetry. Fields are client-reported
// and already well-typed by the time they reach the engine; parse failures
// are the transport layer's problem.
type Sample struct {
	Kind InputKind `json:"inputKind"`

	// Mouse kinematics (pre-aggregated by the client).
	MaxSpeed       float64 `json:"maxSpeed"`
	LastSpeed      float64 `json:"lastSpeed"`
	SpeedStability float64 `json:"speedStability"`

	// MovementTime is the total interaction duration in milliseconds.
	MovementTime int       `json:"movementTime"`
	SpeedSeries  []float64 `json:"speedSeries,omitempty"`

	// Touch-only vertical motion counters.
	VerticalCount         int      `json:"verticalCount,omitempty"`
	TotalVerticalMovement float64  `json:"totalVerticalMovement,omitempty"`
	VerticalScore         *float64 `json:"verticalScore,omitempty"`

	// Context, not used in scoring.
	PageURL   string `json:"pageUrl,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	AttemptID string `json:"attemptId,omitempty"`

	// Robot, when set, bypasses scoring entirely.
	Robot *RobotSignal `json:"-"`

	// Reason is an optional client-supplied annotation carried into the
	// audit record.
	Reason string `json:"reason,omitempty"`
}
