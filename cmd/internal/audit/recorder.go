package audit

import (
	"context"
	"sync"
)

// Recorder keeps records in memory. Tests use it to assert on emitted events.
type Recorder struct {
	mu       sync.Mutex
	security []SecurityEvent
	business []BusinessOperation
}

func (r *Recorder) LogSecurityEvent(_ context.Context, ev SecurityEvent) {
	r.mu.Lock()
	r.security = append(r.security, ev)
	r.mu.Unlock()
}

func (r *Recorder) LogBusinessOperation(_ context.Context, op BusinessOperation) {
	r.mu.Lock()
	r.business = append(r.business, op)
	r.mu.Unlock()
}

// SecurityEvents returns a copy of the recorded security events.
func (r *Recorder) SecurityEvents() []SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SecurityEvent(nil), r.security...)
}

// BusinessOperations returns a copy of the recorded business operations.
func (r *Recorder) BusinessOperations() []BusinessOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BusinessOperation(nil), r.business...)
}
