// Package audit records security events (authentication outcomes) and business operations
// (room membership changes, grading) to structured logs and, when a database is configured,
// to the audit_log table.
//
// Every Sink method is best-effort: failures are logged by the sink and never returned.
package audit

import (
	"context"
	"time"
)

// Severity grades security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is one authentication or authorization outcome.
type SecurityEvent struct {
	Kind      string // e.g. "ws.auth.success", "ws.auth.invalid_credential"
	Severity  Severity
	UserID    string
	IP        string
	UserAgent string
	Context   map[string]any
	At        time.Time
}

// BusinessOperation is one state-changing domain operation.
type BusinessOperation struct {
	Op         string // e.g. "room.join", "grading.grade"
	EntityType string
	EntityID   string
	UserID     string
	Outcome    string // "success", "denied", "failed"
	Context    map[string]any
	At         time.Time
}

// Sink receives audit records.
type Sink interface {
	LogSecurityEvent(ctx context.Context, ev SecurityEvent)
	LogBusinessOperation(ctx context.Context, op BusinessOperation)
}

// Multi fans records out to every non-nil sink in order.
type Multi []Sink

func (m Multi) LogSecurityEvent(ctx context.Context, ev SecurityEvent) {
	for _, s := range m {
		if s != nil {
			s.LogSecurityEvent(ctx, ev)
		}
	}
}

func (m Multi) LogBusinessOperation(ctx context.Context, op BusinessOperation) {
	for _, s := range m {
		if s != nil {
			s.LogBusinessOperation(ctx, op)
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) LogSecurityEvent(context.Context, SecurityEvent) {}
func (Nop) LogBusinessOperation(context.Context, BusinessOperation) {}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
