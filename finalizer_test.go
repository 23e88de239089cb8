package kernelz

import "testing"

func TestFinalizerScopeRunsLIFO(t *testing.T) {
	scope := NewFinalizerScope()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		_ = scope.Push(func(Cause) { order = append(order, i) })
	}

	scope.Close(CauseOK)

	want := []int{2, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestFinalizerScopeClosedIsIdempotent(t *testing.T) {
	scope := NewFinalizerScope()
	calls := 0
	_ = scope.Push(func(Cause) { calls++ })

	scope.Close(CauseOK)
	scope.Close(CauseOK)

	if calls != 1 {
		t.Errorf("expected finalizer to run exactly once, got %d", calls)
	}
}

func TestFinalizerScopePushAfterCloseFails(t *testing.T) {
	scope := NewFinalizerScope()
	scope.Close(CauseOK)

	if err := scope.Push(func(Cause) {}); err != ErrScopeClosed {
		t.Errorf("expected ErrScopeClosed, got %v", err)
	}
}

func TestFinalizerScopePanicDoesNotStopOthers(t *testing.T) {
	scope := NewFinalizerScope()
	var secondRan bool
	_ = scope.Push(func(Cause) { secondRan = true })
	_ = scope.Push(func(Cause) { panic("boom") })

	scope.Close(CauseError)

	if !secondRan {
		t.Error("expected finalizer before a panicking one to still run")
	}
}

func TestFinalizerScopePassesCause(t *testing.T) {
	scope := NewFinalizerScope()
	var got Cause
	_ = scope.Push(func(c Cause) { got = c })

	scope.Close(CauseInterrupted)

	if got != CauseInterrupted {
		t.Errorf("expected CauseInterrupted, got %v", got)
	}
}

func TestFinalizerScopeClosed(t *testing.T) {
	scope := NewFinalizerScope()
	if scope.Closed() {
		t.Fatal("expected fresh scope to be open")
	}
	scope.Close(CauseOK)
	if !scope.Closed() {
		t.Fatal("expected scope to report closed")
	}
}

func TestCauseString(t *testing.T) {
	cases := map[Cause]string{
		CauseOK:          "ok",
		CauseError:       "error",
		CauseInterrupted: "interrupted",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("Cause(%d).String() = %q, want %q", c, got, want)
		}
	}
}
