package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shizukutanaka/Banto/internal/metrics"
)

// Severity classifies rules and the triggers they produce
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparisons, lowest first
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// Condition evaluates a snapshot. An error means the condition could not be
// computed this cycle; the rule is then treated as not firing.
type Condition func(snap *metrics.Snapshot) (bool, error)

// MessageFunc builds the human-readable message and metadata for a trigger
type MessageFunc func(snap *metrics.Snapshot) (string, map[string]interface{})

// Rule is the atomic decision unit: a named condition with its own
// cooldown and suppression state. Variants differ only in the condition
// and message functions they carry, so rules stay enumerable data rather
// than an inheritance tree.
//
// Evaluation and firing happen from the owning engine loop; Suppress may be
// called from operator paths, so state is mutex-guarded.
type Rule struct {
	Name      string
	Component string
	Severity  Severity
	Cooldown  time.Duration
	Condition Condition
	Message   MessageFunc

	mu              sync.Mutex
	lastTrigger     time.Time
	suppressedUntil time.Time
	triggerCount    uint64
	evalErrors      uint64
}

// Trigger is the record produced by a firing rule
type Trigger struct {
	ID        string                 `json:"id"`
	Rule      string                 `json:"rule"`
	Component string                 `json:"component"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Time      time.Time              `json:"time"`
}

// ShouldFire checks the cooldown gate, then the suppression gate, then the
// condition. Gated rules return false without evaluating the condition.
func (r *Rule) ShouldFire(snap *metrics.Snapshot, now time.Time) (bool, error) {
	r.mu.Lock()
	gated := (!r.lastTrigger.IsZero() && now.Sub(r.lastTrigger) < r.Cooldown) ||
		now.Before(r.suppressedUntil)
	r.mu.Unlock()

	if gated {
		return false, nil
	}
	if r.Condition == nil {
		return false, nil
	}

	ok, err := r.Condition(snap)
	if err != nil {
		r.mu.Lock()
		r.evalErrors++
		r.mu.Unlock()
		return false, err
	}
	return ok, nil
}

// Fire marks the rule triggered at now and builds the trigger record.
// Callers gate through ShouldFire first.
func (r *Rule) Fire(snap *metrics.Snapshot, now time.Time) *Trigger {
	r.mu.Lock()
	r.lastTrigger = now
	r.triggerCount++
	r.mu.Unlock()

	message := fmt.Sprintf("rule %s triggered", r.Name)
	var metadata map[string]interface{}
	if r.Message != nil {
		message, metadata = r.Message(snap)
	}

	return &Trigger{
		ID:        uuid.New().String(),
		Rule:      r.Name,
		Component: r.Component,
		Severity:  r.Severity,
		Message:   message,
		Metadata:  metadata,
		Time:      now,
	}
}

// rearm restores the trigger time a failed no-change action consumed, so
// the rule stays eligible on the next pass.
func (r *Rule) rearm(prev time.Time) {
	r.mu.Lock()
	r.lastTrigger = prev
	r.mu.Unlock()
}

// Suppress silences the rule until now + d. Repeated calls overwrite the
// previous window; the last call wins.
func (r *Rule) Suppress(d time.Duration) {
	r.mu.Lock()
	r.suppressedUntil = time.Now().Add(d)
	r.mu.Unlock()
}

// Suppressed reports whether the rule is inside a suppression window
func (r *Rule) Suppressed(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Before(r.suppressedUntil)
}

// LastTrigger returns the time of the most recent firing
func (r *Rule) LastTrigger() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTrigger
}

// TriggerCount returns how many times the rule has fired
func (r *Rule) TriggerCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggerCount
}

// Stats returns the rule's counters for the engine stats accessor
func (r *Rule) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := map[string]interface{}{
		"component":     r.Component,
		"severity":      string(r.Severity),
		"cooldown":      r.Cooldown.String(),
		"trigger_count": r.triggerCount,
		"eval_errors":   r.evalErrors,
	}
	if !r.lastTrigger.IsZero() {
		stats["last_trigger"] = r.lastTrigger
	}
	if time.Now().Before(r.suppressedUntil) {
		stats["suppressed_until"] = r.suppressedUntil
	}
	return stats
}
