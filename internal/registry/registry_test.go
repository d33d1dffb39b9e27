package registry

import "testing"

func TestResolve_CachesFactoryResult(t *testing.T) {
	r := New()

	calls := 0
	r.Register("greeter", func() any {
		calls++
		return "hello"
	})

	v1, ok := r.Resolve("greeter")
	if !ok || v1 != "hello" {
		t.Fatalf("unexpected resolve: %v %v", v1, ok)
	}

	v2, ok := r.Resolve("greeter")
	if !ok || v2 != "hello" {
		t.Fatalf("unexpected second resolve: %v %v", v2, ok)
	}

	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}
}

func TestResolve_UnknownNameReturnsFalse(t *testing.T) {
	r := New()

	_, ok := r.Resolve("missing")
	if ok {
		t.Fatalf("expected ok=false for unregistered name")
	}
}

func TestClear_ForcesReresolve(t *testing.T) {
	r := New()

	calls := 0
	r.Register("counter", func() any {
		calls++
		return calls
	})

	r.Resolve("counter")
	r.Clear()
	v, _ := r.Resolve("counter")

	if v != 2 {
		t.Fatalf("expected factory to re-run after Clear, got %v", v)
	}
}
