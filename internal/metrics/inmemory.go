package metrics

import (
	"sync"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Registrations   map[string]uint64
	Authentications map[string]uint64
	AuthCacheHits   uint64
	AuthScans       uint64
	CandidatesTotal uint64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{snap: Snapshot{
		Registrations:   make(map[string]uint64),
		Authentications: make(map[string]uint64),
	}}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.snap
	out.Registrations = make(map[string]uint64, len(m.snap.Registrations))
	for k, v := range m.snap.Registrations {
		out.Registrations[k] = v
	}
	out.Authentications = make(map[string]uint64, len(m.snap.Authentications))
	for k, v := range m.snap.Authentications {
		out.Authentications[k] = v
	}
	return out
}

// IncRegistration counts a registration attempt by outcome.
func (m *InMemoryRecorder) IncRegistration(outcome string) {
	m.mu.Lock()
	m.snap.Registrations[outcome]++
	m.mu.Unlock()
}

// IncAuthentication counts an authentication attempt by outcome.
func (m *InMemoryRecorder) IncAuthentication(outcome string) {
	m.mu.Lock()
	m.snap.Authentications[outcome]++
	m.mu.Unlock()
}

// IncAuthCacheHit counts a cache hit.
func (m *InMemoryRecorder) IncAuthCacheHit() {
	m.mu.Lock()
	m.snap.AuthCacheHits++
	m.mu.Unlock()
}

// ObserveAuthScan records one full scan.
func (m *InMemoryRecorder) ObserveAuthScan(candidates int, _ time.Duration) {
	m.mu.Lock()
	m.snap.AuthScans++
	m.snap.CandidatesTotal += uint64(candidates)
	m.mu.Unlock()
}
