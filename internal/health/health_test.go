package health

import (
	"sync/atomic"
	"testing"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != StatusOK {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_Register(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.Register("publisher", false, func() (bool, string) { return true, "connected" })

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	pub, ok := status.Components["publisher"]
	if !ok {
		t.Fatal("expected publisher component")
	}

	if !pub.Healthy {
		t.Error("expected publisher to be healthy")
	}

	if pub.Message != "connected" {
		t.Errorf("expected message 'connected', got %s", pub.Message)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.Register("scheduler", false, func() (bool, string) { return true, "ok" })
	checker.Register("publisher", false, func() (bool, string) { return false, "disconnected" })

	status := checker.GetStatus()

	if status.Status != StatusDegraded {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}

	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
}

func TestChecker_Recovery(t *testing.T) {
	checker := NewChecker("1.0.0")

	var connected atomic.Bool
	checker.Register("publisher", false, func() (bool, string) {
		if connected.Load() {
			return true, "recovered"
		}
		return false, "error"
	})

	// Start unhealthy
	if checker.IsHealthy() {
		t.Error("expected unhealthy")
	}

	// Recover
	connected.Store(true)

	if !checker.IsHealthy() {
		t.Error("expected healthy after recovery")
	}

	status := checker.GetStatus()
	if status.Status != StatusOK {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
}

func TestChecker_Probe(t *testing.T) {
	checker := NewChecker("1.0.0")

	var healthy atomic.Bool
	healthy.Store(true)
	var calls atomic.Int32

	checker.Register("transducer", true, func() (bool, string) {
		calls.Add(1)
		if healthy.Load() {
			return true, "alsa"
		}
		return false, "consecutive errors"
	})

	status := checker.GetStatus()
	if status.Status != StatusOK {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("expected probe called once, got %d", calls.Load())
	}

	healthy.Store(false)

	status = checker.GetStatus()
	if status.Status != StatusUnhealthy {
		t.Errorf("expected status 'unhealthy', got %s", status.Status)
	}
	tr := status.Components["transducer"]
	if tr.Healthy || !tr.Critical || tr.Message != "consecutive errors" {
		t.Errorf("unexpected transducer check %+v", tr)
	}
}

func TestChecker_CriticalWinsOverDegraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.Register("publisher", false, func() (bool, string) { return false, "down" })
	checker.Register("transducer", true, func() (bool, string) { return false, "down" })

	if got := checker.GetStatus().Status; got != StatusUnhealthy {
		t.Errorf("expected status 'unhealthy', got %s", got)
	}

	names := checker.Unhealthy()
	if len(names) != 2 || names[0] != "publisher" || names[1] != "transducer" {
		t.Errorf("unexpected unhealthy list %v", names)
	}
}
