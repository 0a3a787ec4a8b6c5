package status

import (
	"testing"
	"time"

	"tunnelcannon/limiter"
)

func TestRegisterSession_AppearsInSnapshot(t *testing.T) {
	m := &Monitor{}
	m.RegisterSession("client-a", nil)
	defer m.RemoveSession("client-a")

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 session, got %d", len(snap))
	}
	if snap[0].Label != "client-a" {
		t.Errorf("Label = %q, want client-a", snap[0].Label)
	}
}

func TestRemoveSession_DropsFromSnapshot(t *testing.T) {
	m := &Monitor{}
	m.RegisterSession("client-b", nil)
	m.RemoveSession("client-b")

	snap := m.Snapshot()
	if len(snap) != 0 {
		t.Fatalf("expected 0 sessions after removal, got %d", len(snap))
	}
}

func TestIncDecConn_TracksActiveAndTotal(t *testing.T) {
	m := &Monitor{}
	m.RegisterSession("client-c", nil)
	defer m.RemoveSession("client-c")

	m.IncConn("client-c")
	m.IncConn("client-c")
	m.DecConn("client-c")

	snap := m.Snapshot()
	if snap[0].ActiveConns != 1 {
		t.Errorf("ActiveConns = %d, want 1", snap[0].ActiveConns)
	}
	if snap[0].TotalConns != 2 {
		t.Errorf("TotalConns = %d, want 2", snap[0].TotalConns)
	}
}

func TestAddBytes_Accumulates(t *testing.T) {
	m := &Monitor{}
	m.RegisterSession("client-d", nil)
	defer m.RemoveSession("client-d")

	m.AddBytes("client-d", 100)
	m.AddBytes("client-d", 50)

	snap := m.Snapshot()
	if snap[0].BytesRelayed != 150 {
		t.Errorf("BytesRelayed = %d, want 150", snap[0].BytesRelayed)
	}
}

func TestHeartbeat_UpdatesLastHeartbeatAgo(t *testing.T) {
	m := &Monitor{}
	m.RegisterSession("client-e", nil)
	defer m.RemoveSession("client-e")

	time.Sleep(10 * time.Millisecond)
	m.Heartbeat("client-e")

	snap := m.Snapshot()
	if snap[0].LastHeartbeatAgo > 50*time.Millisecond {
		t.Errorf("LastHeartbeatAgo = %v, expected close to 0", snap[0].LastHeartbeatAgo)
	}
}

func TestSnapshot_ReflectsLimiterRates(t *testing.T) {
	m := &Monitor{}
	lim := limiter.NewSharedLimiter(1000)
	m.RegisterSession("client-f", lim)
	defer m.RemoveSession("client-f")

	snap := m.Snapshot()
	if snap[0].MaxRateBps != 1000 {
		t.Errorf("MaxRateBps = %d, want 1000", snap[0].MaxRateBps)
	}
}

func TestOperationsOnUnknownLabel_AreNoops(t *testing.T) {
	m := &Monitor{}
	m.Heartbeat("ghost")
	m.IncConn("ghost")
	m.DecConn("ghost")
	m.AddBytes("ghost", 10)

	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected no sessions, got %d", len(snap))
	}
}
