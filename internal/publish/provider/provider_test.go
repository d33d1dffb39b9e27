package provider

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	result Result
	err    error
}

func (f fakeProvider) Publish(ctx context.Context, content string, metadata map[string]any, imageData []byte) (Result, error) {
	return f.result, f.err
}

func TestGet_ReturnsFallbackWhenUnregistered(t *testing.T) {
	r := New(nil)

	p := r.Get("note")
	res, err := p.Publish(context.Background(), "hello", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != internalProviderID {
		t.Fatalf("expected fallback id %q, got %q", internalProviderID, res.ID)
	}
	if r.Has("note") {
		t.Fatalf("expected Has to be false for a type resolved via fallback")
	}
}

func TestRegister_OverridesFallback(t *testing.T) {
	r := New(nil)
	r.Register("note", fakeProvider{result: Result{ID: "custom"}})

	p := r.Get("note")
	res, err := p.Publish(context.Background(), "hi", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != "custom" {
		t.Fatalf("expected registered provider id, got %q", res.ID)
	}
	if !r.Has("note") {
		t.Fatalf("expected Has true for a registered type")
	}
}

func TestUnregister_FallsBackAgain(t *testing.T) {
	r := New(nil)
	r.Register("note", fakeProvider{result: Result{ID: "custom"}})
	r.Unregister("note")

	if r.Has("note") {
		t.Fatalf("expected Has false after unregister")
	}
	res, _ := r.Get("note").Publish(context.Background(), "x", nil, nil)
	if res.ID != internalProviderID {
		t.Fatalf("expected fallback after unregister, got %q", res.ID)
	}
}

func TestGetRegisteredTypes_OnlyListsExplicitBindings(t *testing.T) {
	r := New(nil)
	r.Register("note", fakeProvider{})
	r.Register("task", fakeProvider{})
	_ = r.Get("untouched")

	types := r.GetRegisteredTypes()
	if len(types) != 2 {
		t.Fatalf("expected 2 registered types, got %d: %v", len(types), types)
	}
}

func TestPublish_PropagatesProviderFailure(t *testing.T) {
	r := New(nil)
	boom := errors.New("provider down")
	r.Register("note", fakeProvider{err: boom})

	_, err := r.Get("note").Publish(context.Background(), "x", nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error to propagate, got %v", err)
	}
}
