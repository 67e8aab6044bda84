// Package metrics provides simple counters for monitoring forestry
// operations across one front-end session.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics counts tree builds, proof requests, and verifications.
type Metrics struct {
	TreesBuilt     int64 `json:"trees_built"`
	ProofRequests  int64 `json:"proof_requests"`
	ProofFailures  int64 `json:"proof_failures"`
	Verifications  int64 `json:"verifications"`
	TotalLatencyMs int64 `json:"total_latency_ms"`

	StartTime time.Time `json:"start_time"`
}

// New creates a new metrics instance.
func New() *Metrics {
	return &Metrics{StartTime: time.Now()}
}

// RecordBuild increments the tree build counter.
func (m *Metrics) RecordBuild() {
	atomic.AddInt64(&m.TreesBuilt, 1)
}

// RecordProofRequest increments the proof request counter.
func (m *Metrics) RecordProofRequest() {
	atomic.AddInt64(&m.ProofRequests, 1)
}

// RecordProofFailure increments the proof failure counter.
func (m *Metrics) RecordProofFailure() {
	atomic.AddInt64(&m.ProofFailures, 1)
}

// RecordVerification increments the verification counter.
func (m *Metrics) RecordVerification() {
	atomic.AddInt64(&m.Verifications, 1)
}

// RecordLatency adds an operation duration to the running total.
func (m *Metrics) RecordLatency(d time.Duration) {
	atomic.AddInt64(&m.TotalLatencyMs, d.Milliseconds())
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		TreesBuilt:     atomic.LoadInt64(&m.TreesBuilt),
		ProofRequests:  atomic.LoadInt64(&m.ProofRequests),
		ProofFailures:  atomic.LoadInt64(&m.ProofFailures),
		Verifications:  atomic.LoadInt64(&m.Verifications),
		TotalLatencyMs: atomic.LoadInt64(&m.TotalLatencyMs),
		StartTime:      m.StartTime,
	}
}
