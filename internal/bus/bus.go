// Package bus implements the in-process message bus: typed request/response
// sends to the first subscriber of a topic, and broadcast fan-out to every
// subscriber with the caller blocking until all handlers resolve.
//
// The bus is transient and single-process by design (see Non-goals in the
// owning specification) — it never persists a Message and never talks to
// another node.
package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is the transient envelope carried between subscribers.
type Message struct {
	ID            string
	Type          string
	Payload       any
	Source        string
	Timestamp     time.Time
	TargetPlugin  string
	Broadcast     bool
	CorrelationID string
}

// Response is what a Handler hands back to the sender.
type Response struct {
	Success bool
	Data    any
	Error   string
}

// Handler processes one Message and returns a Response or an error. A
// returned error is equivalent to Response{Success:false, Error:err.Error()}
// — handlers may use either form.
type Handler func(ctx context.Context, msg Message) (Response, error)

// noopResponse is what Send returns for a non-broadcast send with no
// subscriber registered for the topic.
var noopResponse = Response{Success: true, Data: nil}

type subscription struct {
	id      uint64
	handler Handler
}

// MetricsHook observes every Send's outcome (outcome is "success", "failure",
// or "noop"). Optional, set via SetMetricsHook — kept as a plain function
// type rather than an observability.Prom field so this package never imports
// the observability package.
type MetricsHook func(topic, outcome string)

// Bus is safe for concurrent Subscribe/Unsubscribe/Send. An in-flight Send
// observes a consistent snapshot of the subscriber table taken at dispatch
// time — a concurrent Subscribe/Unsubscribe never mutates a send already in
// progress.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	nextID  uint64
	metrics MetricsHook
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// SetMetricsHook wires a MetricsHook that observes every subsequent Send.
// Call once during assembly, before the bus is handed to any plugin.
func (b *Bus) SetMetricsHook(hook MetricsHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = hook
}

// Subscribe registers handler for type and returns a function that removes
// it. Multiple subscribers per type are permitted; for non-broadcast sends
// the first subscriber in registration order is invoked.
func (b *Bus) Subscribe(msgType string, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[msgType] = append(b.subs[msgType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.removeByID(msgType, id)
	}
}

// Unsubscribe removes handler from type's subscriber list. Idempotent: a
// handler not currently subscribed is a no-op. Handlers are compared by
// underlying code pointer, so closures created from the same function
// literal compare equal and the earliest-subscribed one is removed; use the
// function returned by Subscribe to remove one specific subscription.
func (b *Bus) Unsubscribe(msgType string, handler Handler) {
	target := reflect.ValueOf(handler).Pointer()

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[msgType]
	for i, s := range list {
		if reflect.ValueOf(s.handler).Pointer() == target {
			b.subs[msgType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeByID(msgType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[msgType]
	for i, s := range list {
		if s.id == id {
			b.subs[msgType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot(msgType string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	list := b.subs[msgType]
	out := make([]subscription, len(list))
	copy(out, list)
	return out
}

// SendOptions carries the optional fields of a Send call.
type SendOptions struct {
	Target        string
	CorrelationID string
	Broadcast     bool
}

// Send delivers payload to subscribers of msgType. For a non-broadcast send
// it invokes the first subscriber in registration order and returns its
// Response (or a success noop if nobody is subscribed). For a broadcast send
// it invokes every subscriber concurrently and blocks until all of them have
// resolved, aggregating any errors into a single summary Response.
func (b *Bus) Send(ctx context.Context, msgType string, payload any, source string, opts SendOptions) (Response, error) {
	msg := Message{
		ID:            uuid.NewString(),
		Type:          msgType,
		Payload:       payload,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		TargetPlugin:  opts.Target,
		Broadcast:     opts.Broadcast,
		CorrelationID: opts.CorrelationID,
	}

	subs := b.snapshot(msgType)

	if opts.Broadcast {
		resp, err := b.sendBroadcast(ctx, msg, subs)
		b.recordMetric(msgType, outcomeOf(resp))
		return resp, err
	}

	if len(subs) == 0 {
		b.recordMetric(msgType, "noop")
		return noopResponse, nil
	}

	resp, err := b.invoke(ctx, subs[0].handler, msg)
	b.recordMetric(msgType, outcomeOf(resp))
	return resp, err
}

func outcomeOf(resp Response) string {
	if resp.Success {
		return "success"
	}
	return "failure"
}

func (b *Bus) recordMetric(msgType, outcome string) {
	b.mu.RLock()
	hook := b.metrics
	b.mu.RUnlock()
	if hook == nil {
		return
	}
	hook(msgType, outcome)
}

func (b *Bus) invoke(ctx context.Context, h Handler, msg Message) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Success: false, Error: fmt.Sprintf("handler panic: %v", r)}
			err = nil
		}
	}()

	resp, err = h(ctx, msg)
	if err != nil {
		return Response{Success: false, Error: err.Error()}, nil
	}
	return resp, nil
}

func (b *Bus) sendBroadcast(ctx context.Context, msg Message, subs []subscription) (Response, error) {
	if len(subs) == 0 {
		return noopResponse, nil
	}

	results := make([]Response, len(subs))

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for i, s := range subs {
		go func(i int, h Handler) {
			defer wg.Done()
			r, _ := b.invoke(ctx, h, msg)
			results[i] = r
		}(i, s.handler)
	}
	wg.Wait()

	failures := 0
	var firstErr string
	for _, r := range results {
		if !r.Success {
			failures++
			if firstErr == "" {
				firstErr = r.Error
			}
		}
	}

	if failures == 0 {
		return Response{Success: true, Data: results}, nil
	}

	return Response{
		Success: false,
		Data:    results,
		Error:   fmt.Sprintf("%d/%d broadcast handlers failed, first error: %s", failures, len(subs), firstErr),
	}, nil
}
