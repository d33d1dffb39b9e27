// Package publish is the Publish Scheduler: per-entityType cron schedules
// plus one "immediate" fallback schedule, driving dispatch in provider mode
// or message mode. Grounded on the teacher's dual persistence paths
// (cmd/worker's direct-Postgres write vs. its Redis-adjacent queue client)
// generalized into provider-direct vs. bus-message dispatch, and on
// cmd/worker/main.go's ordered bring-up for Start/Stop idempotency. Uses
// robfig/cron/v3 for the per-type timers (no complete example repo in the
// retrieval pack depends on a cron library; this is the ecosystem's
// standard choice, named in DESIGN.md).
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/observability"
	"github.com/geocoder89/workcore/internal/publish/provider"
	"github.com/geocoder89/workcore/internal/publish/queue"
	"github.com/geocoder89/workcore/internal/publish/retry"
	"github.com/robfig/cron/v3"
)

// immediateSchedule fires once a second — §4.K's fallback for entity types
// with no configured cron expression.
const immediateSchedule = "* * * * * *"

// ContentResolver yields the payload a provider needs to publish entityId,
// given only (entityType, entityId). Left to the owning plugin to
// implement — the scheduler's dispatch has no way to know what "content"
// means for a given entity type; see SPEC_FULL.md §9's "Content payloads".
type ContentResolver interface {
	ResolveContent(ctx context.Context, entityType, entityID string) (content string, metadata map[string]any, imageData []byte, err error)
}

// Observer lets a synchronous consumer (e.g. a test) hear dispatch outcomes
// without subscribing to the bus. Optional — §9's "callbacks + events dual
// path" resolved as events-canonical, observer-optional.
type Observer interface {
	OnPublished(entityType, entityID string, result provider.Result)
	OnFailed(entityType, entityID string, err error, retryCount int, willRetry bool)
}

// Config wires the Scheduler's collaborators. Bus is the mode switch: nil
// means provider mode, non-nil means message mode (§4.K).
type Config struct {
	Schedules map[string]string // entityType -> cron expression
	Queue     *queue.Manager
	Providers *provider.Registry
	Retries   *retry.Tracker
	Resolver  ContentResolver
	Bus       *bus.Bus
	Observer  Observer
	Logger    *slog.Logger
	Metrics   *observability.Prom
}

// Scheduler is the §4.K component.
type Scheduler struct {
	cfg Config

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

// New validates every configured cron expression eagerly — a malformed
// expression fails construction rather than failing silently at the first
// missed tick.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("publish: queue manager is required")
	}
	if cfg.Retries == nil {
		return nil, fmt.Errorf("publish: retry tracker is required")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for entityType, expr := range cfg.Schedules {
		if _, err := parser.Parse(expr); err != nil {
			return nil, fmt.Errorf("publish: invalid cron for %s: %w", entityType, err)
		}
	}

	return &Scheduler{cfg: cfg}, nil
}

// IsMessageMode reports whether dispatch sends publish:execute instead of
// calling a provider directly.
func (s *Scheduler) IsMessageMode() bool {
	return s.cfg.Bus != nil
}

// IsRunning reflects started state.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches one Cron entry per scheduled entityType plus the immediate
// fallback, and subscribes to every control topic. Idempotent.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.cron = cron.New(cron.WithParser(
		cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	))

	for entityType, expr := range s.cfg.Schedules {
		entityType := entityType
		if _, err := s.cron.AddFunc(expr, func() { s.tickType(entityType) }); err != nil {
			return fmt.Errorf("publish: schedule %s: %w", entityType, err)
		}
	}
	if _, err := s.cron.AddFunc(immediateSchedule, s.tickImmediate); err != nil {
		return fmt.Errorf("publish: schedule immediate: %w", err)
	}

	s.cron.Start()
	s.subscribeControlTopics()
	s.running = true
	return nil
}

// Stop halts every Cron entry. Pending in-flight dispatches (there are none
// tracked outside the cron callback itself) finish before the context
// returned by cron's Stop is done. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
}

// hasSchedule reports whether entityType has its own cron entry, as opposed
// to relying on the immediate fallback.
func (s *Scheduler) hasSchedule(entityType string) bool {
	_, ok := s.cfg.Schedules[entityType]
	return ok
}

// tickType is the per-type cron callback: pop one queued item for
// entityType, if any, and dispatch it.
func (s *Scheduler) tickType(entityType string) {
	entry, ok := s.cfg.Queue.PopNext(entityType)
	if !ok {
		return
	}
	s.observeQueueDepth(entityType)
	s.dispatch(context.Background(), entry)
}

// tickImmediate handles every entityType without a configured schedule: one
// item per tick, across all such types, to avoid monopolizing the tick on a
// single busy type.
func (s *Scheduler) tickImmediate() {
	for _, entityType := range s.cfg.Queue.GetQueuedEntityTypes() {
		if s.hasSchedule(entityType) {
			continue
		}
		entry, ok := s.cfg.Queue.PopNext(entityType)
		if !ok {
			continue
		}
		s.observeQueueDepth(entityType)
		s.dispatch(context.Background(), entry)
		return
	}
}

func (s *Scheduler) observeQueueDepth(entityType string) {
	if s.cfg.Metrics == nil {
		return
	}
	s.cfg.Metrics.PublishQueueDepth.WithLabelValues(entityType).Set(float64(len(s.cfg.Queue.List(entityType))))
}

// dispatch executes one queue entry. The entry has already been popped by
// the caller, so a repeat failure on the same tick can't re-enter.
func (s *Scheduler) dispatch(ctx context.Context, entry queue.Entry) {
	s.emit(ctx, bus.TopicPublishExecute, publishExecuteEvent{EntityType: entry.EntityType, EntityID: entry.EntityID})

	if s.IsMessageMode() {
		// Completion arrives asynchronously via publish:report:success/failure,
		// handled by handleReportSuccess/handleReportFailure below.
		return
	}

	content, metadata, imageData := "", map[string]any(nil), []byte(nil)
	if s.cfg.Resolver != nil {
		var err error
		content, metadata, imageData, err = s.cfg.Resolver.ResolveContent(ctx, entry.EntityType, entry.EntityID)
		if err != nil {
			s.recordFailure(ctx, entry.EntityType, entry.EntityID, err)
			return
		}
	}

	p := s.cfg.Providers.Get(entry.EntityType)
	result, err := p.Publish(ctx, content, metadata, imageData)
	if err != nil {
		s.recordFailure(ctx, entry.EntityType, entry.EntityID, err)
		return
	}

	s.cfg.Retries.ClearRetries(entry.EntityID)
	s.recordDispatch(entry.EntityType, "published")
	s.emit(ctx, bus.TopicPublishCompleted, publishCompletedEvent{EntityType: entry.EntityType, EntityID: entry.EntityID, Result: result})
	if s.cfg.Observer != nil {
		s.cfg.Observer.OnPublished(entry.EntityType, entry.EntityID, result)
	}
}

func (s *Scheduler) recordDispatch(entityType, result string) {
	if s.cfg.Metrics == nil {
		return
	}
	s.cfg.Metrics.PublishDispatchTotal.WithLabelValues(entityType, result).Inc()
}

func (s *Scheduler) recordFailure(ctx context.Context, entityType, entityID string, err error) {
	s.cfg.Retries.RecordFailure(entityID, err)
	info := s.cfg.Retries.GetRetryInfo(entityID)
	s.recordDispatch(entityType, "failed")

	s.emit(ctx, bus.TopicPublishFailed, publishFailedEvent{
		EntityType: entityType, EntityID: entityID, Error: err.Error(),
		RetryCount: info.RetryCount, WillRetry: info.WillRetry,
	})
	if s.cfg.Observer != nil {
		s.cfg.Observer.OnFailed(entityType, entityID, err, info.RetryCount, info.WillRetry)
	}
}

// PublishDirect bypasses the queue entirely: call the provider and return
// its result (or propagate its error), with no retry bookkeeping — §4.K.
func (s *Scheduler) PublishDirect(ctx context.Context, entityType, content string, metadata map[string]any) (provider.Result, error) {
	return s.cfg.Providers.Get(entityType).Publish(ctx, content, metadata, nil)
}

func (s *Scheduler) emit(ctx context.Context, topic string, payload any) {
	if s.cfg.Bus == nil {
		return
	}
	_, _ = s.cfg.Bus.Send(ctx, topic, payload, "publish-scheduler", bus.SendOptions{Broadcast: true})
}

type publishExecuteEvent struct {
	EntityType string
	EntityID   string
}

type publishCompletedEvent struct {
	EntityType string
	EntityID   string
	Result     provider.Result
}

type publishFailedEvent struct {
	EntityType string
	EntityID   string
	Error      string
	RetryCount int
	WillRetry  bool
}

// QueueEvent is the payload of a control message that names an entity.
type QueueEvent struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
}

// ReorderEvent additionally carries the requested 1-based position.
type ReorderEvent struct {
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	NewPosition int    `json:"newPosition"`
}

// ReportEvent is what a message-mode publisher sends back on
// publish:report:success / publish:report:failure.
type ReportEvent struct {
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Result     provider.Result `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// RegisterEvent is the publish:register payload: a plugin's own
// provider.PublishProvider, bound to the entityType it owns. The bus is
// in-process, so Provider travels as a live interface value rather than a
// wire-serializable shape — there is no JSON tag set for it.
type RegisterEvent struct {
	EntityType string
	Provider   provider.PublishProvider
}

// subscribeControlTopics wires every inbound control message named in
// §4.K. A nil Bus (provider mode without any bus at all) means nothing to
// subscribe to.
func (s *Scheduler) subscribeControlTopics() {
	if s.cfg.Bus == nil {
		return
	}

	s.cfg.Bus.Subscribe(bus.TopicPublishRegister, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(RegisterEvent)
		if !ok || ev.EntityType == "" || ev.Provider == nil {
			return bus.Response{Success: false, Error: "publish:register: invalid payload"}, nil
		}
		if s.cfg.Providers == nil {
			return bus.Response{Success: false, Error: "publish:register: no provider registry configured"}, nil
		}
		s.cfg.Providers.Register(ev.EntityType, ev.Provider)
		s.cfg.Logger.InfoContext(ctx, "publish.provider_registered", "entity_type", ev.EntityType)
		return bus.Response{Success: true}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishQueue, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(QueueEvent)
		if !ok {
			return bus.Response{Success: false, Error: "publish:queue: invalid payload"}, nil
		}
		entry := s.cfg.Queue.Add(ev.EntityType, ev.EntityID)
		s.emit(ctx, bus.TopicPublishQueued, entry)
		return bus.Response{Success: true, Data: entry}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishRemove, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(QueueEvent)
		if !ok {
			return bus.Response{Success: false, Error: "publish:remove: invalid payload"}, nil
		}
		s.cfg.Queue.Remove(ev.EntityType, ev.EntityID)
		return bus.Response{Success: true}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishReorder, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(ReorderEvent)
		if !ok {
			return bus.Response{Success: false, Error: "publish:reorder: invalid payload"}, nil
		}
		s.cfg.Queue.Reorder(ev.EntityType, ev.EntityID, ev.NewPosition)
		return bus.Response{Success: true}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishList, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(QueueEvent)
		entityType := ""
		if ok {
			entityType = ev.EntityType
		}
		list := s.cfg.Queue.List(entityType)
		s.emit(ctx, bus.TopicPublishListResponse, list)
		return bus.Response{Success: true, Data: list}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishDirect, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(QueueEvent)
		if !ok {
			return bus.Response{Success: false, Error: "publish:direct: invalid payload"}, nil
		}

		content, metadata, _ := "", map[string]any(nil), []byte(nil)
		if s.cfg.Resolver != nil {
			var err error
			content, metadata, _, err = s.cfg.Resolver.ResolveContent(ctx, ev.EntityType, ev.EntityID)
			if err != nil {
				return bus.Response{Success: false, Error: err.Error()}, nil
			}
		}

		result, err := s.PublishDirect(ctx, ev.EntityType, content, metadata)
		if err != nil {
			return bus.Response{Success: false, Error: err.Error()}, nil
		}
		return bus.Response{Success: true, Data: result}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishReportSuccess, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(ReportEvent)
		if !ok {
			return bus.Response{Success: false, Error: "publish:report:success: invalid payload"}, nil
		}
		s.cfg.Retries.ClearRetries(ev.EntityID)
		s.emit(ctx, bus.TopicPublishCompleted, publishCompletedEvent{EntityType: ev.EntityType, EntityID: ev.EntityID, Result: ev.Result})
		if s.cfg.Observer != nil {
			s.cfg.Observer.OnPublished(ev.EntityType, ev.EntityID, ev.Result)
		}
		return bus.Response{Success: true}, nil
	})

	s.cfg.Bus.Subscribe(bus.TopicPublishReportFailure, func(ctx context.Context, msg bus.Message) (bus.Response, error) {
		ev, ok := msg.Payload.(ReportEvent)
		if !ok {
			return bus.Response{Success: false, Error: "publish:report:failure: invalid payload"}, nil
		}
		s.recordFailure(ctx, ev.EntityType, ev.EntityID, fmt.Errorf("%s", ev.Error))
		return bus.Response{Success: true}, nil
	})
}

