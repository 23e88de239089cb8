package kernelz

import (
	"testing"
	"time"
)

func echoSpec(id string) ProcessSpec[int, int] {
	return ProcessSpec[int, int]{
		ID:   id,
		Init: func(Tools[int]) (int, error) { return 0, nil },
		Handle: func(state int, msg int, _ Tools[int]) (int, error) {
			return state + msg, nil
		},
	}
}

func TestNewRuntimeDefaultsToSystemClock(t *testing.T) {
	rt := NewRuntime(nil)
	if rt.Clock() == nil {
		t.Fatal("expected a default clock")
	}
	if rt.Metrics() == nil {
		t.Error("expected a shared metrics registry")
	}
	if rt.Tracer() == nil {
		t.Error("expected a shared tracer")
	}
}

func TestSpawnProcessRegistersForLookup(t *testing.T) {
	rt := NewRuntime(nil)
	ref := SpawnProcess(rt, echoSpec("a"))
	waitForStatus(ref, StatusRunning, time.Second)

	status, stop, ok := rt.Lookup("a")
	if !ok {
		t.Fatal("expected the process to be registered for lookup")
	}
	if status() != StatusRunning {
		t.Errorf("expected running, got %s", status())
	}
	RunRoot(rt.Clock(), stop("done"))
}

func TestLookupMissingProcessReturnsFalse(t *testing.T) {
	rt := NewRuntime(nil)
	if _, _, ok := rt.Lookup("nonexistent"); ok {
		t.Error("expected Lookup of an unregistered id to return false")
	}
}

func TestProcessesListsEverySpawnedID(t *testing.T) {
	rt := NewRuntime(nil)
	SpawnProcess(rt, echoSpec("a"))
	SpawnProcess(rt, echoSpec("b"))

	ids := rt.Processes()
	if len(ids) != 2 {
		t.Fatalf("expected 2 registered ids, got %v", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected ids a and b, got %v", ids)
	}
	rt.Shutdown("cleanup")
}

func TestShutdownStopsEveryRegisteredProcess(t *testing.T) {
	rt := NewRuntime(nil)
	refA := SpawnProcess(rt, echoSpec("a"))
	refB := SpawnProcess(rt, echoSpec("b"))
	waitForStatus(refA, StatusRunning, time.Second)
	waitForStatus(refB, StatusRunning, time.Second)

	rt.Shutdown("shutdown")

	if refA.Status() != StatusStopped {
		t.Errorf("expected a stopped, got %s", refA.Status())
	}
	if refB.Status() != StatusStopped {
		t.Errorf("expected b stopped, got %s", refB.Status())
	}
}

func TestSpawnProcessSharesRuntimeObservability(t *testing.T) {
	rt := NewRuntime(nil)
	ref := SpawnProcess(rt, ProcessSpec[int, int]{
		ID:   "shared",
		Init: func(Tools[int]) (int, error) { return 0, nil },
		Handle: func(state int, msg int, _ Tools[int]) (int, error) {
			return state, nil
		},
	})
	waitForStatus(ref, StatusRunning, time.Second)
	RunRoot(rt.Clock(), ref.Stop("done"))
}
