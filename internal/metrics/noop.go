package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncRegistration is a no-op.
func (n *NoopRecorder) IncRegistration(string) {}

// IncAuthentication is a no-op.
func (n *NoopRecorder) IncAuthentication(string) {}

// IncAuthCacheHit is a no-op.
func (n *NoopRecorder) IncAuthCacheHit() {}

// ObserveAuthScan is a no-op.
func (n *NoopRecorder) ObserveAuthScan(int, time.Duration) {}
