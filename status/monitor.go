// Package status tracks live tunnel sessions in memory for the optional
// read-only status API.
package status

import (
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"tunnelcannon/limiter"
)

// sessionInfo is the bookkeeping kept per live control session.
type sessionInfo struct {
	activeConns   atomic.Int64
	totalConns    atomic.Int64
	bytesTotal    atomic.Int64
	lastHeartbeat atomic.Int64 // unix nanos
	limiter       *limiter.SharedLimiter
}

// Monitor tracks every live tunnel session, keyed by a session label (the
// client's remote address, typically).
type Monitor struct {
	sessions sync.Map // label -> *sessionInfo
}

// Global is the process-wide monitor instance used by the server and the
// status API.
var Global = &Monitor{}

// RegisterSession creates bookkeeping for a new session. limit may be nil.
func (m *Monitor) RegisterSession(label string, limit *limiter.SharedLimiter) {
	info := &sessionInfo{limiter: limit}
	info.lastHeartbeat.Store(time.Now().UnixNano())
	m.sessions.Store(label, info)
}

// RemoveSession drops bookkeeping for a session that has terminated.
func (m *Monitor) RemoveSession(label string) {
	m.sessions.Delete(label)
}

// Heartbeat records that a liveness probe was just sent/observed for label.
func (m *Monitor) Heartbeat(label string) {
	if info, ok := m.load(label); ok {
		info.lastHeartbeat.Store(time.Now().UnixNano())
	}
}

// IncConn marks a new data connection spliced for label.
func (m *Monitor) IncConn(label string) {
	if info, ok := m.load(label); ok {
		info.activeConns.Add(1)
		info.totalConns.Add(1)
	}
}

// DecConn marks a data connection for label as finished.
func (m *Monitor) DecConn(label string) {
	if info, ok := m.load(label); ok {
		info.activeConns.Add(-1)
	}
}

// AddBytes accumulates bytes relayed for label.
func (m *Monitor) AddBytes(label string, n int64) {
	if info, ok := m.load(label); ok {
		info.bytesTotal.Add(n)
	}
}

func (m *Monitor) load(label string) (*sessionInfo, bool) {
	v, ok := m.sessions.Load(label)
	if !ok {
		return nil, false
	}
	return v.(*sessionInfo), true
}

// Session is a point-in-time snapshot of one session's bookkeeping.
type Session struct {
	Label            string
	ActiveConns      int64
	TotalConns       int64
	BytesRelayed     int64
	LastHeartbeatAgo time.Duration
	MaxRateBps       int64
	ActiveRateBps    int64
}

// Snapshot returns the current state of every live session.
func (m *Monitor) Snapshot() []Session {
	var out []Session
	m.sessions.Range(func(key, value any) bool {
		label := key.(string)
		info := value.(*sessionInfo)
		s := Session{
			Label:            label,
			ActiveConns:      info.activeConns.Load(),
			TotalConns:       info.totalConns.Load(),
			BytesRelayed:     info.bytesTotal.Load(),
			LastHeartbeatAgo: time.Since(time.Unix(0, info.lastHeartbeat.Load())),
		}
		if info.limiter != nil {
			s.MaxRateBps = info.limiter.GetMaxRate()
			s.ActiveRateBps = info.limiter.GetActiveRate()
		}
		out = append(out, s)
		return true
	})
	return out
}

// StartPeriodicLogging logs an aggregate summary every interval, in the same
// style the core uses elsewhere (a single structured log.Printf line).
func (m *Monitor) StartPeriodicLogging(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			sessions := m.Snapshot()
			var activeConns, totalConns int64
			for _, s := range sessions {
				activeConns += s.ActiveConns
				totalConns += s.TotalConns
			}
			log.Printf("status: sessions=%d active_conns=%d total_conns=%d goroutines=%d heap_mb=%d",
				len(sessions), activeConns, totalConns, runtime.NumGoroutine(), mem.HeapAlloc/1024/1024)
		}
	}()
}
