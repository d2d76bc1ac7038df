package model

import "sync"

// Metrics holds the engine's per-session execution counters: mv_executions,
// direct_executions, two_phase_executions, and the other per-strategy
// tallies the engine reports at session end.
type Metrics struct {
	mu                  sync.Mutex
	DirectExecutions    int64
	MVExecutions        int64
	TwoPhaseExecutions  int64
	ProgressiveExecutions int64
	CacheHits           int64
	OGRFallbacks        int64
}

func (m *Metrics) incr(counter *int64) {
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

func (m *Metrics) RecordDirect()     { m.incr(&m.DirectExecutions) }
func (m *Metrics) RecordMV()         { m.incr(&m.MVExecutions) }
func (m *Metrics) RecordTwoPhase()   { m.incr(&m.TwoPhaseExecutions) }
func (m *Metrics) RecordProgressive(){ m.incr(&m.ProgressiveExecutions) }
func (m *Metrics) RecordCacheHit()   { m.incr(&m.CacheHits) }
func (m *Metrics) RecordOGRFallback(){ m.incr(&m.OGRFallbacks) }

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		DirectExecutions:      m.DirectExecutions,
		MVExecutions:          m.MVExecutions,
		TwoPhaseExecutions:    m.TwoPhaseExecutions,
		ProgressiveExecutions: m.ProgressiveExecutions,
		CacheHits:             m.CacheHits,
		OGRFallbacks:          m.OGRFallbacks,
	}
}

// SessionState is the per-engine-instance state described in
type SessionState struct {
	SessionID       string
	mu              sync.Mutex
	createdMVs      map[string]ViewInfo
	Metrics         *Metrics
	ForcedBackends  map[string]Backend
}

// NewSessionState creates a fresh session state for the given 8-hex token.
func NewSessionState(sessionID string) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		createdMVs:     make(map[string]ViewInfo),
		Metrics:        &Metrics{},
		ForcedBackends: make(map[string]Backend),
	}
}

// RecordView registers a created view under the session.
func (s *SessionState) RecordView(v ViewInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdMVs[v.Name] = v
}

// ForgetView removes a view from the session's tracking after it is dropped.
func (s *SessionState) ForgetView(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.createdMVs, name)
}

// View looks up a tracked view by name.
func (s *SessionState) View(name string) (ViewInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.createdMVs[name]
	return v, ok
}

// Views returns all views tracked by this session.
func (s *SessionState) Views() []ViewInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ViewInfo, 0, len(s.createdMVs))
	for _, v := range s.createdMVs {
		out = append(out, v)
	}
	return out
}

// ForceBackend records that layerID must be served by backend after a
// timeout/cancellation triggered fallback.
func (s *SessionState) ForceBackend(layerID string, backend Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ForcedBackends[layerID] = backend
}

// EffectiveBackend returns the forced backend for a layer, if any.
func (s *SessionState) EffectiveBackend(layerID string, natural Backend) Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.ForcedBackends[layerID]; ok {
		return b
	}
	return natural
}
