// internal/audit/audit.go
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"circdesk/internal/clock"
	"circdesk/internal/telemetry"
)

// Probe is a measurable steady-state property of the running system.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) String() string { return fmt.Sprintf("%s %g", t.Operator, t.Value) }

// ProbeViolation records a probe that failed its threshold or could not be
// measured (Actual is -1 and Error is set).
type ProbeViolation struct {
	Probe     string    `json:"probe"`
	Expected  string    `json:"expected"`
	Actual    float64   `json:"actual"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Result captures one audit round.
type Result struct {
	StartTime    time.Time          `json:"start_time"`
	EndTime      time.Time          `json:"end_time"`
	Duration     time.Duration      `json:"duration"`
	Healthy      bool               `json:"healthy"`
	Observations map[string]float64 `json:"observations"`
	Violations   []ProbeViolation   `json:"violations"`
}

// Auditor runs its probes on demand or on an interval and keeps the latest
// result.
type Auditor struct {
	tracer trace.Tracer
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	probes []Probe
	last   *Result
}

type Option func(*Auditor)

func WithClock(c clock.Clock) Option { return func(a *Auditor) { a.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(a *Auditor) { a.logger = l } }

func NewAuditor(opts ...Option) *Auditor {
	a := &Auditor{
		tracer: otel.Tracer("circdesk/audit"),
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds probes to the audit round.
func (a *Auditor) Register(probes ...Probe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes = append(a.probes, probes...)
}

// Probes returns the registered probes.
func (a *Auditor) Probes() []Probe {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Probe(nil), a.probes...)
}

// RunOnce evaluates every probe once.
func (a *Auditor) RunOnce(ctx context.Context) Result {
	ctx, span := a.tracer.Start(ctx, "audit.run")
	defer span.End()

	probes := a.Probes()
	result := Result{
		StartTime:    a.clock.Now(),
		Observations: make(map[string]float64, len(probes)),
		Violations:   make([]ProbeViolation, 0),
	}

	for _, p := range probes {
		value, err := p.Query(ctx)
		if err != nil {
			span.RecordError(err)
			result.Violations = append(result.Violations, ProbeViolation{
				Probe:     p.Name,
				Expected:  p.Threshold.String(),
				Actual:    -1,
				Error:     err.Error(),
				Timestamp: a.clock.Now(),
			})
			continue
		}
		result.Observations[p.Name] = value
		if !evaluateThreshold(value, p.Threshold) {
			result.Violations = append(result.Violations, ProbeViolation{
				Probe:     p.Name,
				Expected:  p.Threshold.String(),
				Actual:    value,
				Timestamp: a.clock.Now(),
			})
		}
	}

	result.Healthy = len(result.Violations) == 0
	result.EndTime = a.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	telemetry.AuditViolations.Set(float64(len(result.Violations)))
	span.SetAttributes(
		attribute.Int("audit.probes", len(probes)),
		attribute.Int("audit.violations", len(result.Violations)),
	)
	if !result.Healthy {
		span.SetStatus(codes.Error, "steady state violated")
		for _, v := range result.Violations {
			a.logger.Error("audit probe failed", "probe", v.Probe, "expected", v.Expected, "actual", v.Actual, "error", v.Error)
		}
	}

	a.mu.Lock()
	a.last = &result
	a.mu.Unlock()
	return result
}

// Run audits every interval until ctx is done.
func (a *Auditor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// Last returns the most recent result and whether any round has run.
func (a *Auditor) Last() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Result{}, false
	}
	return *a.last, true
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}
